package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDeadLetterQueue(t *testing.T, maxLen int64) *RedisDeadLetterQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := NewRedisDeadLetterQueue(client, DeadLetterConfig{Stream: "test:dead", MaxLen: maxLen})
	if err != nil {
		t.Fatalf("new dead letter queue: %v", err)
	}
	return q
}

func TestDeadLetterPushListRemove(t *testing.T) {
	q := newDeadLetterQueue(t, 0)
	ctx := context.Background()

	id, err := q.Push(ctx, DeadLetter{
		Task:    "pdf-processor",
		Target:  "https://workflow.test/pdf",
		Payload: json.RawMessage(`{"file_id":"f1"}`),
		Error:   "status 502",
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	items, err := q.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(items))
	}
	got := items[0]
	if got.ID != id || got.Task != "pdf-processor" || got.Error != "status 502" {
		t.Fatalf("unexpected dead letter %+v", got)
	}
	if string(got.Payload) != `{"file_id":"f1"}` {
		t.Fatalf("payload not preserved: %s", got.Payload)
	}
	if got.FailedAt.IsZero() {
		t.Fatalf("expected failed_at stamped")
	}

	if err := q.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	items, _ = q.List(ctx, 10)
	if len(items) != 0 {
		t.Fatalf("expected empty stream after remove, got %d", len(items))
	}
}

func TestNewRedisDeadLetterQueueRequiresClient(t *testing.T) {
	if q, err := NewRedisDeadLetterQueue(nil, DeadLetterConfig{}); err == nil || q != nil {
		t.Fatalf("expected error for nil client")
	}
}
