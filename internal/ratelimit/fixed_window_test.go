package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T) (*RedisFixedWindow, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewRedisFixedWindow(client, "test:ratelimit")
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	return limiter, mr
}

func TestRedisFixedWindowSequence(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	want := []bool{false, false, true, true}
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

func TestRedisFixedWindowRejectedCallsDoNotCount(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	ctx := context.Background()
	fixed := time.UnixMilli(1_700_000_000_000)
	limiter.now = func() time.Time { return fixed }

	for i := 0; i < 5; i++ {
		_, _ = limiter.Exceeded(ctx, "user-1", "chat-webhook", 2, time.Minute)
	}
	key := "test:ratelimit:chat-webhook:user-1:" + itoa(fixed.UnixMilli()/time.Minute.Milliseconds())
	got, err := mr.Get(key)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if got != "2" {
		t.Fatalf("counter = %s, want 2", got)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestRedisFixedWindowScopes(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()

	if ex, _ := limiter.Exceeded(ctx, "user-1", "chat-webhook", 1, time.Minute); ex {
		t.Fatalf("first chat call should pass")
	}
	if ex, _ := limiter.Exceeded(ctx, "user-1", "file-upload-webhook", 1, time.Minute); ex {
		t.Fatalf("other endpoint has its own window")
	}
	if ex, _ := limiter.Exceeded(ctx, "user-2", "chat-webhook", 1, time.Minute); ex {
		t.Fatalf("other user has its own window")
	}
	if ex, _ := limiter.Exceeded(ctx, "user-1", "chat-webhook", 1, time.Minute); !ex {
		t.Fatalf("second chat call should be rejected")
	}
}

func TestRedisFixedWindowNextSlotResets(t *testing.T) {
	limiter, _ := newRedisLimiter(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	limiter.now = func() time.Time { return now }

	_, _ = limiter.Exceeded(ctx, "u", "e", 1, time.Minute)
	if ex, _ := limiter.Exceeded(ctx, "u", "e", 1, time.Minute); !ex {
		t.Fatalf("expected ceiling reached")
	}
	now = now.Add(time.Minute)
	if ex, _ := limiter.Exceeded(ctx, "u", "e", 1, time.Minute); ex {
		t.Fatalf("expected fresh window")
	}
}

func TestRedisFixedWindowReportsBackendErrors(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	mr.Close()
	if _, err := limiter.Exceeded(context.Background(), "u", "e", 1, time.Minute); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}

func TestNewRedisFixedWindowRequiresClient(t *testing.T) {
	if l, err := NewRedisFixedWindow(nil, ""); err == nil || l != nil {
		t.Fatalf("expected constructor error for nil client")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
