package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"studyai/internal/security"
	"studyai/pkg/notify"
	"studyai/pkg/queue"
	"studyai/pkg/workflow"
)

func TestRunSignPrintsSignature(t *testing.T) {
	body := `{"chat_id":"c1"}`
	var out bytes.Buffer
	if err := runSign([]string{"-secret", "s3cret"}, strings.NewReader(body), &out); err != nil {
		t.Fatalf("sign: %v", err)
	}
	want := security.SignatureHeader + ": " + security.ComputeSignature([]byte(body), "s3cret")
	if strings.TrimSpace(out.String()) != want {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunSignPosts(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if security.VerifySignature(body, r.Header.Get(security.SignatureHeader), "s3cret") {
			gotSig = "ok"
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := runSign([]string{"-secret", "s3cret", "-post", srv.URL}, strings.NewReader(`{}`), &out); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if gotSig != "ok" {
		t.Fatalf("server did not receive a valid signature")
	}
	if !strings.Contains(out.String(), `"success":true`) {
		t.Fatalf("response not printed: %q", out.String())
	}
}

func TestRunSignRequiresSecret(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "")
	if err := runSign(nil, strings.NewReader(`{}`), io.Discard); err == nil {
		t.Fatalf("expected error without secret")
	}
}

type recordingPublisher struct {
	keys   []string
	bodies []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.keys = append(p.keys, routingKey)
	p.bodies = append(p.bodies, string(body))
	return nil
}

func newTestDeadLetters(t *testing.T) *queue.RedisDeadLetterQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dlq, err := queue.NewRedisDeadLetterQueue(client, queue.DeadLetterConfig{Stream: "test:dead"})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return dlq
}

func TestReplayDeadLettersEventEntries(t *testing.T) {
	ctx := context.Background()
	event := queue.DeadLetter{
		Task:    "file_upload_event",
		Target:  notify.RoutingKeyFileUploaded,
		Payload: json.RawMessage(`{"event":"file_upload"}`),
		Error:   "amqp: connection closed",
	}

	dlq := newTestDeadLetters(t)
	if _, err := dlq.Push(ctx, event); err != nil {
		t.Fatalf("push: %v", err)
	}
	var out bytes.Buffer
	replayed, err := replayDeadLetters(ctx, dlq, replayer{http: workflow.NewClient("", time.Second)}, 10, &out)
	if err != nil {
		t.Fatalf("event entry without broker must be skipped, got %v", err)
	}
	if replayed != 0 || !strings.Contains(out.String(), "needs -amqp") {
		t.Fatalf("unexpected replay output %q (replayed %d)", out.String(), replayed)
	}
	if left, _ := dlq.List(ctx, 10); len(left) != 1 {
		t.Fatalf("skipped event entry must be kept, got %d", len(left))
	}

	publisher := &recordingPublisher{}
	replayed, err = replayDeadLetters(ctx, dlq, replayer{http: workflow.NewClient("", time.Second), events: publisher}, 10, io.Discard)
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if replayed != 1 || len(publisher.keys) != 1 || publisher.keys[0] != notify.RoutingKeyFileUploaded {
		t.Fatalf("expected one re-published event, got %d %v", replayed, publisher.keys)
	}
	if publisher.bodies[0] != `{"event":"file_upload"}` {
		t.Fatalf("unexpected event body %q", publisher.bodies[0])
	}
	if left, _ := dlq.List(ctx, 10); len(left) != 0 {
		t.Fatalf("delivered event must be removed, got %d", len(left))
	}
}

func TestReplayDeadLetters(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dlq, err := queue.NewRedisDeadLetterQueue(client, queue.DeadLetterConfig{Stream: "test:dead"})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	for _, dl := range []queue.DeadLetter{
		{Task: "pdf_processor", Target: srv.URL + "/ok", Payload: json.RawMessage(`{"a":1}`), Error: "timeout"},
		{Task: "pdf_processor", Target: srv.URL + "/fail", Payload: json.RawMessage(`{"a":2}`), Error: "timeout"},
		{Task: "audit", Error: "no target"},
	} {
		if _, err := dlq.Push(ctx, dl); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	var out bytes.Buffer
	replayed, err := replayDeadLetters(ctx, dlq, replayer{http: workflow.NewClient("", 5*time.Second)}, 10, &out)
	if err == nil {
		t.Fatalf("expected failed replay to surface")
	}
	if replayed != 1 {
		t.Fatalf("replayed = %d, want 1", replayed)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two posts, got %d", calls.Load())
	}
	left, _ := dlq.List(ctx, 10)
	if len(left) != 2 {
		t.Fatalf("expected failed and skipped entries kept, got %d", len(left))
	}

	out.Reset()
	if err := listDeadLetters(ctx, dlq, 10, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Count(out.String(), "\n") != 2 {
		t.Fatalf("unexpected listing %q", out.String())
	}
}
