// Package ratelimit counts requests per (user, endpoint) in fixed windows.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Limiter reports whether a request pushes (userID, endpoint) over
// maxRequests within window. A request that is within quota is counted.
type Limiter interface {
	Exceeded(ctx context.Context, userID, endpoint string, maxRequests int, window time.Duration) (bool, error)
}

// Checker applies a failure policy on top of a Limiter.
type Checker struct {
	Limiter Limiter
	// FailOpen lets requests through when the backend fails.
	// When false such requests are rejected.
	FailOpen bool
	Logger   *slog.Logger
}

// CheckRateLimit returns true when the request must be rejected.
func (c *Checker) CheckRateLimit(ctx context.Context, userID, endpoint string, maxRequests int, window time.Duration) bool {
	if c == nil || c.Limiter == nil {
		return false
	}
	exceeded, err := c.Limiter.Exceeded(ctx, userID, endpoint, maxRequests, window)
	if err == nil {
		return exceeded
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("rate limit check failed",
		"endpoint", endpoint,
		"user_id", userID,
		"fail_open", c.FailOpen,
		"err", err,
	)
	return !c.FailOpen
}
