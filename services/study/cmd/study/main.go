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

	"studyai/internal/usertoken"
	"studyai/internal/util"
	"studyai/pkg/dispatch"
	"studyai/pkg/queue"
	"studyai/pkg/realtime"
	"studyai/pkg/storage"
	"studyai/pkg/store"
	"studyai/pkg/workflow"
	"studyai/services/study/internal/app"
	"studyai/services/study/internal/config"
	"studyai/services/study/internal/server"
	"studyai/services/study/internal/webhookclient"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "study")

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

	leeway, _ := config.ParseDuration(cfg.JWTLeeway)
	tokens, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
		Logger:   logger,
	})
	if err != nil {
		fatal(logger, "failed to init token verifier", err)
	}

	execCfg := dispatch.Config{Logger: logger}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
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

	webhookTimeout, _ := config.ParseDuration(cfg.WebhookTimeout)
	if cfg.WebhookBaseURL == "" {
		logger.Warn("webhook base url not configured, new messages and uploads are not processed")
	}
	webhooks := webhookclient.New(webhookclient.Config{
		BaseURL:  cfg.WebhookBaseURL,
		Workflow: workflow.NewClient(cfg.WebhookSecret, webhookTimeout),
		Executor: executor,
	})

	downloadTTL, _ := config.ParseDuration(cfg.DownloadURLTTL)
	appCore, err := app.New(app.Config{
		Store:             dataStore,
		Objects:           objects,
		Webhooks:          webhooks,
		Logger:            logger,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		DownloadURLTTL:    downloadTTL,
	})
	if err != nil {
		fatal(logger, "failed to init app", err)
	}

	hub := realtime.NewHub(cfg.RealtimeBuffer, logger)
	listener, err := realtime.NewPGListener(cfg.DatabaseURL, store.DefaultChangeChannel, hub, logger)
	if err != nil {
		fatal(logger, "failed to init change listener", err)
	}
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("change listener stopped", "err", err)
		}
	}()

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		fatal(logger, "invalid trusted proxies", err)
	}
	httpServer := server.New(server.Config{
		App:            appCore,
		TrustedProxies: proxies,
		Tokens:         tokens,
		AllowedOrigins: cfg.AllowedOrigins,
		Development:    !cfg.IsProduction(),
		Realtime: realtime.NewHandler(realtime.HandlerConfig{
			Hub:            hub,
			Tokens:         tokens,
			Owners:         dataStore,
			OriginPatterns: cfg.AllowedOrigins,
			Logger:         logger,
		}),
	})

	addr := ":" + cfg.Port
	// Only header reads are bounded: websocket streams stay open for the
	// whole session.
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("study server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down study server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "err", err)
	}
	if err := executor.Close(shutdownCtx); err != nil {
		logger.Error("background tasks did not finish", "err", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
