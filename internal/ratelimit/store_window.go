package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyai/pkg/domain"
	"studyai/pkg/store"
)

// StoreFixedWindow keeps counters in the rate_limit_tracking table. A window
// starts at the first request and lasts for the window duration.
//
// The read and the write are separate statements, so concurrent requests
// may both pass at the ceiling. Use RedisFixedWindow where that matters.
type StoreFixedWindow struct {
	store store.RateLimitStore
	now   func() time.Time
}

func NewStoreFixedWindow(s store.RateLimitStore) (*StoreFixedWindow, error) {
	if s == nil {
		return nil, errors.New("rate limiter requires a store")
	}
	return &StoreFixedWindow{store: s, now: time.Now}, nil
}

func (l *StoreFixedWindow) Exceeded(ctx context.Context, userID, endpoint string, maxRequests int, window time.Duration) (bool, error) {
	if maxRequests <= 0 || window <= 0 {
		return false, errors.New("rate limiter requires positive limit and window")
	}
	now := l.now().UTC()
	current, ok, err := l.store.LatestRateLimitWindow(ctx, userID, endpoint, now.Add(-window))
	if err != nil {
		return false, fmt.Errorf("load rate limit window: %w", err)
	}
	if !ok {
		err := l.store.InsertRateLimitWindow(ctx, domain.RateLimitWindow{
			UserID:       userID,
			Endpoint:     endpoint,
			RequestCount: 1,
			WindowStart:  now,
		})
		if err != nil {
			return false, fmt.Errorf("open rate limit window: %w", err)
		}
		return false, nil
	}
	if current.RequestCount >= maxRequests {
		return true, nil
	}
	if err := l.store.SetRateLimitCount(ctx, userID, endpoint, current.WindowStart, current.RequestCount+1); err != nil {
		return false, fmt.Errorf("increment rate limit window: %w", err)
	}
	return false, nil
}
