// Package dispatch runs fire-and-forget deliveries off the request path.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"studyai/pkg/queue"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyai_dispatch_tasks_total",
			Help: "Background deliveries by task and outcome.",
		},
		[]string{"task", "outcome"},
	)
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyai_dispatch_task_duration_seconds",
			Help:    "Background delivery latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)

var (
	ErrSaturated = errors.New("dispatch: too many tasks in flight")
	ErrClosed    = errors.New("dispatch: executor closed")
)

// DeadLetterSink receives deliveries that failed. Implemented by
// queue.RedisDeadLetterQueue.
type DeadLetterSink interface {
	Push(ctx context.Context, dl queue.DeadLetter) (string, error)
}

// Task is one background delivery. Target and Payload only feed the dead
// letter record.
type Task struct {
	Name    string
	Target  string
	Payload []byte
	Run     func(ctx context.Context) error
}

type Config struct {
	MaxInFlight int64
	Timeout     time.Duration
	DeadLetters DeadLetterSink
	Logger      *slog.Logger
}

// Executor runs tasks concurrently up to MaxInFlight, each under its own
// timeout and detached from the caller's cancellation.
type Executor struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	sink    DeadLetterSink
	logger  *slog.Logger
	wg      sync.WaitGroup

	// mu makes the closed check and wg.Add atomic with respect to Close.
	mu     sync.Mutex
	closed bool
}

func NewExecutor(cfg Config) *Executor {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		sem:     semaphore.NewWeighted(maxInFlight),
		timeout: timeout,
		sink:    cfg.DeadLetters,
		logger:  logger,
	}
}

// Go schedules task and returns immediately. Context values of ctx are
// kept, its cancellation is not. It reports false when the task was
// rejected; rejected tasks are dead-lettered.
func (e *Executor) Go(ctx context.Context, task Task) bool {
	detached := context.WithoutCancel(ctx)
	if err := e.admit(); err != nil {
		e.fail(detached, task, err)
		return false
	}
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		e.run(detached, task)
	}()
	return true
}

func (e *Executor) admit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if !e.sem.TryAcquire(1) {
		return ErrSaturated
	}
	e.wg.Add(1)
	return nil
}

func (e *Executor) run(ctx context.Context, task Task) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()
	err := safeRun(ctx, task.Run)
	taskDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		e.fail(ctx, task, err)
		return
	}
	tasksTotal.WithLabelValues(task.Name, "ok").Inc()
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (e *Executor) fail(ctx context.Context, task Task, err error) {
	tasksTotal.WithLabelValues(task.Name, "failed").Inc()
	e.logger.WarnContext(ctx, "background delivery failed",
		"task", task.Name,
		"target", task.Target,
		"err", err,
	)
	if e.sink == nil {
		return
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, pushErr := e.sink.Push(sinkCtx, queue.DeadLetter{
		Task:     task.Name,
		Target:   task.Target,
		Payload:  task.Payload,
		Error:    err.Error(),
		FailedAt: time.Now().UTC(),
	}); pushErr != nil {
		e.logger.ErrorContext(ctx, "dead letter write failed", "task", task.Name, "err", pushErr)
	}
}

// Close stops accepting tasks and waits for in-flight ones until ctx ends.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
