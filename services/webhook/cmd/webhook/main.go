package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"studyai/internal/ratelimit"
	"studyai/internal/util"
	"studyai/pkg/dispatch"
	"studyai/pkg/notify"
	"studyai/pkg/queue"
	"studyai/pkg/storage"
	"studyai/pkg/store"
	"studyai/pkg/workflow"
	"studyai/services/webhook/internal/app"
	"studyai/services/webhook/internal/config"
	"studyai/services/webhook/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "webhook")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "failed to init store", err)
	}
	objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:       cfg.MinioEndpoint,
		PublicEndpoint: cfg.MinioPublicEndpoint,
		AccessKey:      cfg.MinioAccessKey,
		SecretKey:      cfg.MinioSecretKey,
		Bucket:         cfg.MinioBucket,
		UseSSL:         cfg.MinioUseSSL,
	})
	if err != nil {
		fatal(logger, "failed to init object store", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	limiter, err := newLimiter(cfg, redisClient, dataStore)
	if err != nil {
		fatal(logger, "failed to init rate limiter", err)
	}

	execCfg := dispatch.Config{MaxInFlight: cfg.DispatchMaxFlight, Logger: logger}
	execCfg.Timeout, _ = config.ParseDuration(cfg.DispatchTimeout)
	if redisClient != nil {
		dlq, err := queue.NewRedisDeadLetterQueue(redisClient, queue.DeadLetterConfig{
			Stream: cfg.DeadLetterStream,
			MaxLen: cfg.DeadLetterMaxLen,
		})
		if err != nil {
			fatal(logger, "failed to init dead letter queue", err)
		}
		execCfg.DeadLetters = dlq
	}
	executor := dispatch.NewExecutor(execCfg)

	var publisher notify.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			fatal(logger, "failed to init amqp publisher", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	workflowTimeout, _ := config.ParseDuration(cfg.WorkflowTimeout)
	signedURLTTL, _ := config.ParseDuration(cfg.SignedURLTTL)
	appCore, err := app.New(app.Config{
		Store:               dataStore,
		Objects:             objects,
		Limiter:             limiter,
		Workflow:            workflow.NewClient(cfg.WorkflowSecret, workflowTimeout),
		Executor:            executor,
		Publisher:           publisher,
		Logger:              logger,
		WebhookSecret:       cfg.WebhookSecret,
		ChatWorkflowURL:     cfg.ChatWorkflowURL,
		PDFProcessorURL:     cfg.PDFProcessorURL,
		FlashcardsURL:       cfg.FlashcardsURL,
		FileUploadNotifyURL: cfg.FileUploadNotifyURL,
		ChatRateLimit:       cfg.ChatRateLimit,
		UploadRateLimit:     cfg.UploadRateLimit,
		SignedURLTTL:        signedURLTTL,
	})
	if err != nil {
		fatal(logger, "failed to init app", err)
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook secret not configured, signatures are not checked")
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		fatal(logger, "invalid trusted proxies", err)
	}
	httpServer := server.New(server.Config{
		App:            appCore,
		TrustedProxies: proxies,
		AllowedOrigins: cfg.AllowedOrigins,
		Development:    !cfg.IsProduction(),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("webhook server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "err", err)
	}
	if err := executor.Close(shutdownCtx); err != nil {
		logger.Error("background tasks did not finish", "err", err)
	}
}

func newLimiter(cfg config.FileConfig, client *redis.Client, s store.RateLimitStore) (*ratelimit.Checker, error) {
	var (
		backend ratelimit.Limiter
		err     error
	)
	switch cfg.RateLimitBackend {
	case config.RateLimitBackendStore:
		backend, err = ratelimit.NewStoreFixedWindow(s)
	default:
		if client == nil {
			return nil, errors.New("redis client required")
		}
		backend, err = ratelimit.NewRedisFixedWindow(client, "studyai:ratelimit")
	}
	if err != nil {
		return nil, err
	}
	return &ratelimit.Checker{Limiter: backend, FailOpen: cfg.FailOpen(), Logger: slog.Default()}, nil
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
