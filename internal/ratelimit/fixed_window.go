package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The counter is only incremented while below the ceiling, so rejected
// requests do not extend the count and concurrent callers cannot overshoot.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[2]) then
  return 0
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return 1
`)

const defaultRedisPrefix = "studyai:ratelimit"

// RedisFixedWindow is an atomic Redis-backed Limiter. Windows are aligned
// to multiples of the window length.
type RedisFixedWindow struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisFixedWindow wraps an existing client. An empty prefix uses the default.
func NewRedisFixedWindow(client redis.UniversalClient, prefix string) (*RedisFixedWindow, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisFixedWindow{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		now:     time.Now,
	}, nil
}

func (l *RedisFixedWindow) Exceeded(ctx context.Context, userID, endpoint string, maxRequests int, window time.Duration) (bool, error) {
	if maxRequests <= 0 || window <= 0 {
		return false, errors.New("rate limiter requires positive limit and window")
	}
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	slot := l.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%d", l.prefix, endpoint, userID, slot)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	allowed, err := fixedWindowScript.Run(ctx, l.client, []string{key}, windowMs, maxRequests).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return allowed == 0, nil
}
