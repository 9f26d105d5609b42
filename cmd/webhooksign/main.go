// Command webhooksign signs webhook bodies for manual testing and manages
// dead-lettered deliveries.
//
//	webhooksign sign -secret S [-file body.json] [-post URL] [-bearer TOKEN]
//	webhooksign deadletters list -redis ADDR [-stream NAME] [-n 20]
//	webhooksign deadletters replay -redis ADDR -secret S [-amqp URL] [-stream NAME] [-n 20]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"studyai/internal/security"
	"studyai/pkg/notify"
	"studyai/pkg/queue"
	"studyai/pkg/workflow"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "sign":
		err = runSign(os.Args[2:], os.Stdin, os.Stdout)
	case "deadletters":
		if len(os.Args) < 3 {
			usage()
		}
		err = runDeadLetters(os.Args[2], os.Args[3:], os.Stdout)
	default:
		usage()
	}
	if err != nil {
		exitErr(err)
	}
}

func runSign(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("WEBHOOK_SECRET"), "shared webhook secret")
	file := fs.String("file", "", "body file (default stdin)")
	target := fs.String("post", "", "POST the signed body to this URL")
	bearer := fs.String("bearer", "", "bearer token attached to the POST")
	timeout := fs.Duration("timeout", 30*time.Second, "POST timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("secret is required (-secret or WEBHOOK_SECRET)")
	}
	var (
		body []byte
		err  error
	)
	if *file != "" {
		body, err = os.ReadFile(*file)
	} else {
		body, err = io.ReadAll(stdin)
	}
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	fmt.Fprintf(stdout, "%s: %s\n", security.SignatureHeader, security.ComputeSignature(body, *secret))
	if *target == "" {
		return nil
	}
	client := workflow.NewClient(*secret, *timeout)
	resp, err := client.Post(context.Background(), *target, body, workflow.WithBearer(*bearer))
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	fmt.Fprintf(stdout, "%s\n", resp)
	return nil
}

func runDeadLetters(action string, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("deadletters "+action, flag.ContinueOnError)
	addr := fs.String("redis", os.Getenv("REDIS_ADDR"), "redis address")
	password := fs.String("redis-password", os.Getenv("REDIS_PASSWORD"), "redis password")
	stream := fs.String("stream", queue.DefaultDeadLetterStream, "dead letter stream")
	count := fs.Int64("n", 20, "number of entries")
	secret := fs.String("secret", os.Getenv("N8N_WEBHOOK_SECRET"), "secret used to sign replays")
	timeout := fs.Duration("timeout", 30*time.Second, "replay timeout per delivery")
	amqpURL := fs.String("amqp", os.Getenv("AMQP_URL"), "broker used to re-publish event entries")
	exchange := fs.String("amqp-exchange", os.Getenv("AMQP_EXCHANGE"), "exchange for re-published events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *addr == "" {
		return errors.New("redis address is required (-redis or REDIS_ADDR)")
	}
	client := redis.NewClient(&redis.Options{Addr: *addr, Password: *password})
	defer client.Close()
	dlq, err := queue.NewRedisDeadLetterQueue(client, queue.DeadLetterConfig{Stream: *stream})
	if err != nil {
		return err
	}
	ctx := context.Background()
	switch action {
	case "list":
		return listDeadLetters(ctx, dlq, *count, stdout)
	case "replay":
		r := replayer{http: workflow.NewClient(*secret, *timeout)}
		if *amqpURL != "" {
			publisher, err := notify.NewAMQPPublisher(*amqpURL, *exchange)
			if err != nil {
				return err
			}
			defer publisher.Close()
			r.events = publisher
		}
		replayed, err := replayDeadLetters(ctx, dlq, r, *count, stdout)
		fmt.Fprintf(stdout, "replayed %d\n", replayed)
		return err
	default:
		return fmt.Errorf("unknown deadletters action %q", action)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s sign|deadletters <list|replay> [flags]\n", os.Args[0])
	os.Exit(2)
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "webhooksign: %v\n", err)
	os.Exit(1)
}
