package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalLimiter implements Limiter with in-process fixed windows,
// mirroring RedisLimiter's counter semantics. Used in standalone
// deployments where no Redis is available; quotas then apply per node
// rather than platform-wide.
type LocalLimiter struct {
	rules map[Category]Rule
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count int
	reset time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(rules map[Category]Rule) *LocalLimiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &LocalLimiter{
		rules:   rules,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow counts the operation against the user's current window. Spent
// budget is not refilled until the window ends; the rejection's
// RetryAfter points at the window boundary.
func (l *LocalLimiter) Allow(_ context.Context, userID string, category Category) (*Result, error) {
	rule, ok := l.rules[category]
	if !ok {
		return &Result{Allowed: true}, nil
	}

	key := string(category) + ":" + userID
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || !now.Before(w.reset) {
		w = &window{reset: now.Add(rule.Window)}
		l.windows[key] = w
	}
	w.count++
	if w.count <= rule.Points {
		return &Result{Allowed: true}, nil
	}
	return &Result{Allowed: false, RetryAfter: w.reset.Sub(now)}, nil
}

var _ Limiter = (*LocalLimiter)(nil)
