package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"studyai/pkg/domain"
	"studyai/pkg/store"
)

func TestStoreFixedWindowSequence(t *testing.T) {
	limiter, err := NewStoreFixedWindow(store.NewMemoryStore())
	if err != nil {
		t.Fatalf("new store limiter: %v", err)
	}
	ctx := context.Background()

	want := []bool{false, false, true}
	for i, w := range want {
		got, err := limiter.Exceeded(ctx, "user-1", "chat-webhook", 2, time.Minute)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("call %d exceeded = %v, want %v", i, got, w)
		}
	}
}

func TestStoreFixedWindowKeepsWindowStart(t *testing.T) {
	s := store.NewMemoryStore()
	limiter, _ := NewStoreFixedWindow(s)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	limiter.now = func() time.Time { return now }

	_, _ = limiter.Exceeded(ctx, "u", "e", 5, time.Minute)
	now = start.Add(30 * time.Second)
	_, _ = limiter.Exceeded(ctx, "u", "e", 5, time.Minute)

	w, ok, _ := s.LatestRateLimitWindow(ctx, "u", "e", start.Add(-time.Minute))
	if !ok {
		t.Fatalf("expected window")
	}
	if !w.WindowStart.Equal(start) || w.RequestCount != 2 {
		t.Fatalf("unexpected window %+v", w)
	}

	now = start.Add(61 * time.Second)
	if ex, _ := limiter.Exceeded(ctx, "u", "e", 1, time.Minute); ex {
		t.Fatalf("expired window must not count")
	}
	w, _, _ = s.LatestRateLimitWindow(ctx, "u", "e", now.Add(-time.Minute))
	if !w.WindowStart.Equal(now) || w.RequestCount != 1 {
		t.Fatalf("expected new window at %v, got %+v", now, w)
	}
}

type failingStore struct{}

func (failingStore) LatestRateLimitWindow(context.Context, string, string, time.Time) (domain.RateLimitWindow, bool, error) {
	return domain.RateLimitWindow{}, false, errors.New("connection refused")
}

func (failingStore) InsertRateLimitWindow(context.Context, domain.RateLimitWindow) error {
	return errors.New("connection refused")
}

func (failingStore) SetRateLimitCount(context.Context, string, string, time.Time, int) error {
	return errors.New("connection refused")
}

func TestCheckerFailurePolicy(t *testing.T) {
	limiter, _ := NewStoreFixedWindow(failingStore{})
	ctx := context.Background()

	open := &Checker{Limiter: limiter, FailOpen: true}
	if open.CheckRateLimit(ctx, "u", "e", 1, time.Minute) {
		t.Fatalf("fail-open checker must let the request through")
	}
	closed := &Checker{Limiter: limiter, FailOpen: false}
	if !closed.CheckRateLimit(ctx, "u", "e", 1, time.Minute) {
		t.Fatalf("fail-closed checker must reject the request")
	}
}

func TestCheckerWithoutLimiterAllows(t *testing.T) {
	var c *Checker
	if c.CheckRateLimit(context.Background(), "u", "e", 1, time.Minute) {
		t.Fatalf("nil checker must not reject")
	}
}
