// Package queue keeps failed background deliveries in a Redis stream so an
// operator can inspect and replay them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultDeadLetterStream = "studyai:dead-letters"
	defaultMaxLen           = 10000
)

// DeadLetter is one background delivery that could not be completed.
type DeadLetter struct {
	ID       string          `json:"id"`
	Task     string          `json:"task"`
	Target   string          `json:"target,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// RedisDeadLetterQueue appends dead letters to a capped stream.
type RedisDeadLetterQueue struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

type DeadLetterConfig struct {
	Stream string
	MaxLen int64
}

func NewRedisDeadLetterQueue(client redis.UniversalClient, cfg DeadLetterConfig) (*RedisDeadLetterQueue, error) {
	if client == nil {
		return nil, errors.New("dead letter queue requires a redis client")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = DefaultDeadLetterStream
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &RedisDeadLetterQueue{client: client, stream: stream, maxLen: maxLen}, nil
}

// Push appends dl and returns its stream id. Oldest entries are trimmed
// once the stream exceeds its cap.
func (q *RedisDeadLetterQueue) Push(ctx context.Context, dl DeadLetter) (string, error) {
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now().UTC()
	}
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"task":      dl.Task,
			"target":    dl.Target,
			"payload":   string(dl.Payload),
			"error":     dl.Error,
			"failed_at": dl.FailedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("push dead letter: %w", err)
	}
	return id, nil
}

// List returns up to count dead letters, oldest first.
func (q *RedisDeadLetterQueue) List(ctx context.Context, count int64) ([]DeadLetter, error) {
	if count <= 0 {
		count = 100
	}
	msgs, err := q.client.XRangeN(ctx, q.stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeDeadLetter(msg))
	}
	return out, nil
}

// Remove deletes entries by stream id, typically after a successful replay.
func (q *RedisDeadLetterQueue) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.client.XDel(ctx, q.stream, ids...).Err(); err != nil {
		return fmt.Errorf("remove dead letters: %w", err)
	}
	return nil
}

func decodeDeadLetter(msg redis.XMessage) DeadLetter {
	field := func(name string) string {
		v, _ := msg.Values[name].(string)
		return v
	}
	dl := DeadLetter{
		ID:     msg.ID,
		Task:   field("task"),
		Target: field("target"),
		Error:  field("error"),
	}
	if p := field("payload"); p != "" {
		dl.Payload = json.RawMessage(p)
	}
	if t, err := time.Parse(time.RFC3339Nano, field("failed_at")); err == nil {
		dl.FailedAt = t
	}
	return dl
}
