package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

// RedisLimiter implements Limiter with fixed-window counters shared by
// every node. One key per (user, category) window; the first increment
// arms the expiry.
type RedisLimiter struct {
	client *redis.Client
	rules  map[Category]Rule
	prefix string
}

// NewRedisLimiter creates a limiter on the shared Redis client.
func NewRedisLimiter(client *redis.Client, rules map[Category]Rule) *RedisLimiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RedisLimiter{
		client: client,
		rules:  rules,
		prefix: "fabric:ratelimit",
	}
}

// Allow increments the user's window counter and admits the operation
// while the counter is within the rule's budget.
func (l *RedisLimiter) Allow(ctx context.Context, userID string, category Category) (*Result, error) {
	rule, ok := l.rules[category]
	if !ok {
		// Unknown categories are not limited.
		return &Result{Allowed: true}, nil
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, category, userID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Ctx(ctx).Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to arm ratelimit window expiry")
		}
	}

	if count <= int64(rule.Points) {
		return &Result{Allowed: true}, nil
	}

	retryAfter := rule.Window
	if ttl, err := l.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return &Result{Allowed: false, RetryAfter: retryAfter}, nil
}

var _ Limiter = (*RedisLimiter)(nil)
