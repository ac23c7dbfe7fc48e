package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	rules := map[Category]Rule{
		CategoryMessage: {Points: 3, Window: time.Minute},
	}
	l := NewLocalLimiter(rules)

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "user-1", CategoryMessage)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("Allow #%d rejected within budget", i+1)
		}
	}

	res, err := l.Allow(ctx, "user-1", CategoryMessage)
	if err != nil {
		t.Fatalf("Allow over budget: %v", err)
	}
	if res.Allowed {
		t.Fatal("request over budget was admitted")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", res.RetryAfter)
	}
}

func TestLocalLimiterWindowIsFixed(t *testing.T) {
	ctx := context.Background()
	rules := map[Category]Rule{
		CategoryMessage: {Points: 2, Window: 10 * time.Second},
	}
	l := NewLocalLimiter(rules)
	base := time.Now()
	clock := base
	l.now = func() time.Time { return clock }

	l.Allow(ctx, "user-1", CategoryMessage)
	l.Allow(ctx, "user-1", CategoryMessage)

	// Partway through the window the budget stays spent; no refill.
	clock = base.Add(5 * time.Second)
	res, _ := l.Allow(ctx, "user-1", CategoryMessage)
	if res.Allowed {
		t.Fatal("budget refilled inside the window")
	}
	if want := 5 * time.Second; res.RetryAfter != want {
		t.Errorf("RetryAfter = %v, want %v", res.RetryAfter, want)
	}

	// At the window boundary the counter resets.
	clock = base.Add(10 * time.Second)
	if res, _ := l.Allow(ctx, "user-1", CategoryMessage); !res.Allowed {
		t.Fatal("request rejected after the window ended")
	}
}

func TestLocalLimiterIsolatesUsersAndCategories(t *testing.T) {
	ctx := context.Background()
	rules := map[Category]Rule{
		CategoryMessage:  {Points: 1, Window: time.Minute},
		CategoryReaction: {Points: 1, Window: time.Minute},
	}
	l := NewLocalLimiter(rules)

	if res, _ := l.Allow(ctx, "user-1", CategoryMessage); !res.Allowed {
		t.Fatal("first message rejected")
	}
	if res, _ := l.Allow(ctx, "user-1", CategoryMessage); res.Allowed {
		t.Fatal("second message admitted over budget")
	}

	// A different user has an untouched budget.
	if res, _ := l.Allow(ctx, "user-2", CategoryMessage); !res.Allowed {
		t.Error("other user's budget was consumed")
	}
	// A different category has its own counter.
	if res, _ := l.Allow(ctx, "user-1", CategoryReaction); !res.Allowed {
		t.Error("reaction budget was consumed by messages")
	}
}

func TestLocalLimiterUnknownCategoryUnlimited(t *testing.T) {
	l := NewLocalLimiter(map[Category]Rule{})
	for i := 0; i < 100; i++ {
		res, err := l.Allow(context.Background(), "user-1", Category("unlisted"))
		if err != nil || !res.Allowed {
			t.Fatalf("unlisted category rejected at #%d: %+v, %v", i, res, err)
		}
	}
}
