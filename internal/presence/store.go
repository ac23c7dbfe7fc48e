// Package presence tracks who is reachable right now and who is
// typing where. Online state is shared through Redis so any node can
// answer for the whole platform; typing state is ephemeral and armed
// with expiry timers.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds cluster-wide online state.
type Store interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	// Refresh extends the online TTL for a user who still has a
	// connection somewhere.
	Refresh(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	LastSeen(ctx context.Context, userID string) (*time.Time, error)
	// OnlineAmong filters ids down to the users online anywhere on
	// the platform.
	OnlineAmong(ctx context.Context, ids []string) ([]string, error)
}

// Redis key patterns:
// fabric:online:{user_id}    STRING "1", expiring  - user has a live connection
// fabric:lastseen:{user_id}  STRING unix seconds   - written when the user goes offline

func onlineKey(userID string) string {
	return fmt.Sprintf("fabric:online:%s", userID)
}

func lastSeenKey(userID string) string {
	return fmt.Sprintf("fabric:lastseen:%s", userID)
}

// RedisStore implements Store on the shared Redis client.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) SetOnline(ctx context.Context, userID string) error {
	return s.client.Set(ctx, onlineKey(userID), "1", s.ttl).Err()
}

func (s *RedisStore) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, onlineKey(userID))
	pipe.Set(ctx, lastSeenKey(userID), lastSeen.Unix(), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Refresh(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, onlineKey(userID), s.ttl).Err()
}

func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	unix, err := s.client.Get(ctx, lastSeenKey(userID)).Int64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := time.Unix(unix, 0)
	return &t, nil
}

func (s *RedisStore) OnlineAmong(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, onlineKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	online := make([]string, 0, len(ids))
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			online = append(online, ids[i])
		}
	}
	return online, nil
}

var _ Store = (*RedisStore)(nil)

// LocalStore implements Store in process memory for standalone nodes.
type LocalStore struct {
	mu       sync.RWMutex
	online   map[string]bool
	lastSeen map[string]time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{
		online:   make(map[string]bool),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *LocalStore) SetOnline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = true
	return nil
}

func (s *LocalStore) SetOffline(_ context.Context, userID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
	s.lastSeen[userID] = lastSeen
	return nil
}

func (s *LocalStore) Refresh(context.Context, string) error { return nil }

func (s *LocalStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[userID], nil
}

func (s *LocalStore) LastSeen(_ context.Context, userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.lastSeen[userID]; ok {
		return &t, nil
	}
	return nil, nil
}

func (s *LocalStore) OnlineAmong(_ context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	online := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.online[id] {
			online = append(online, id)
		}
	}
	return online, nil
}

var _ Store = (*LocalStore)(nil)
