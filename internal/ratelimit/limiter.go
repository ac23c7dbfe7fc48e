// Package ratelimit enforces per-user send quotas. Counters are kept
// in Redis so every node sees the same budget; a local limiter covers
// standalone deployments.
package ratelimit

import (
	"context"
	"time"
)

// Category names a rate-limited kind of traffic. Each category has its
// own counter per user.
type Category string

const (
	CategoryMessage  Category = "message"
	CategoryDirect   Category = "dm"
	CategoryFile     Category = "file"
	CategoryReaction Category = "reaction"
)

// Rule is the budget for one category: at most Points operations per
// Window, counted in fixed windows.
type Rule struct {
	Points int
	Window time.Duration
}

// DefaultRules returns the platform quotas.
func DefaultRules() map[Category]Rule {
	return map[Category]Rule{
		CategoryMessage:  {Points: 50, Window: time.Minute},
		CategoryDirect:   {Points: 100, Window: time.Minute},
		CategoryFile:     {Points: 10, Window: 5 * time.Minute},
		CategoryReaction: {Points: 200, Window: time.Minute},
	}
}

// Result reports one admission decision.
type Result struct {
	Allowed bool
	// RetryAfter is how long until the budget frees up. Zero when
	// allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a user may perform one more operation of the
// category right now.
type Limiter interface {
	Allow(ctx context.Context, userID string, category Category) (*Result, error)
}
