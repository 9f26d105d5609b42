package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"studyai/pkg/notify"
	"studyai/pkg/queue"
	"studyai/pkg/workflow"
)

type deadLetterQueue interface {
	List(ctx context.Context, count int64) ([]queue.DeadLetter, error)
	Remove(ctx context.Context, ids ...string) error
}

// replayer re-delivers dead letters. HTTP targets are re-posted; any other
// target is an AMQP routing key and goes through events when set.
type replayer struct {
	http   *workflow.Client
	events notify.Publisher
}

func listDeadLetters(ctx context.Context, dlq deadLetterQueue, count int64, w io.Writer) error {
	letters, err := dlq.List(ctx, count)
	if err != nil {
		return err
	}
	for _, dl := range letters {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", dl.ID, dl.FailedAt.Format("2006-01-02T15:04:05Z07:00"), dl.Task, dl.Target, dl.Error)
	}
	return nil
}

// replayDeadLetters re-delivers each entry and removes it once delivered.
// Entries without a target or payload, and event entries with no publisher
// configured, are skipped and kept.
func replayDeadLetters(ctx context.Context, dlq deadLetterQueue, r replayer, count int64, w io.Writer) (int, error) {
	letters, err := dlq.List(ctx, count)
	if err != nil {
		return 0, err
	}
	replayed := 0
	var errs []error
	for _, dl := range letters {
		if dl.Target == "" || len(dl.Payload) == 0 {
			fmt.Fprintf(w, "skip %s: nothing to replay\n", dl.ID)
			continue
		}
		var deliverErr error
		switch {
		case isHTTPTarget(dl.Target):
			_, deliverErr = r.http.Post(ctx, dl.Target, dl.Payload)
		case r.events != nil:
			deliverErr = r.events.Publish(ctx, dl.Target, dl.Payload)
		default:
			fmt.Fprintf(w, "skip %s: event %q needs -amqp\n", dl.ID, dl.Target)
			continue
		}
		if deliverErr != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", dl.ID, deliverErr))
			continue
		}
		if err := dlq.Remove(ctx, dl.ID); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dl.ID, err))
			continue
		}
		replayed++
	}
	return replayed, errors.Join(errs...)
}

func isHTTPTarget(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
