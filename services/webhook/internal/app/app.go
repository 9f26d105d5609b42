package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studyai/internal/audit"
	"studyai/internal/ratelimit"
	"studyai/internal/security"
	"studyai/internal/util"
	"studyai/pkg/dispatch"
	"studyai/pkg/notify"
	"studyai/pkg/storage"
	"studyai/pkg/store"
	"studyai/pkg/workflow"
)

const (
	defaultChatRateLimit   = 30
	defaultUploadRateLimit = 10
	defaultSignedURLTTL    = 7 * 24 * time.Hour
)

// Store is the persistence surface the webhook handlers write to.
type Store interface {
	store.ChatStore
	store.FlashcardStore
	store.AuditStore
}

// Config holds runtime configuration for the webhook handlers. Empty URLs
// disable the corresponding downstream call.
type Config struct {
	Store     Store
	Objects   storage.ObjectStore
	Limiter   *ratelimit.Checker
	Workflow  *workflow.Client
	Executor  *dispatch.Executor
	Publisher notify.Publisher
	Logger    *slog.Logger

	WebhookSecret       string
	ChatWorkflowURL     string
	PDFProcessorURL     string
	FlashcardsURL       string
	FileUploadNotifyURL string

	ChatRateLimit   int
	UploadRateLimit int
	RateLimitWindow time.Duration
	SignedURLTTL    time.Duration
}

// App validates webhook deliveries and relays them to the workflow engine.
type App struct {
	store     Store
	objects   storage.ObjectStore
	limiter   *ratelimit.Checker
	workflow  *workflow.Client
	executor  *dispatch.Executor
	publisher notify.Publisher
	audit     *audit.Logger
	logger    *slog.Logger

	secret        string
	chatURL       string
	pdfURL        string
	flashcardsURL string
	notifyURL     string
	chatLimit     int
	uploadLimit   int
	window        time.Duration
	signedURLTTL  time.Duration
	now           func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Workflow == nil {
		return nil, errors.New("workflow client required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		limiter:       cfg.Limiter,
		workflow:      cfg.Workflow,
		executor:      cfg.Executor,
		publisher:     cfg.Publisher,
		audit:         audit.NewLogger(cfg.Store, logger),
		logger:        logger,
		secret:        cfg.WebhookSecret,
		chatURL:       cfg.ChatWorkflowURL,
		pdfURL:        cfg.PDFProcessorURL,
		flashcardsURL: cfg.FlashcardsURL,
		notifyURL:     cfg.FileUploadNotifyURL,
		chatLimit:     cfg.ChatRateLimit,
		uploadLimit:   cfg.UploadRateLimit,
		window:        cfg.RateLimitWindow,
		signedURLTTL:  cfg.SignedURLTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if a.chatLimit <= 0 {
		a.chatLimit = defaultChatRateLimit
	}
	if a.uploadLimit <= 0 {
		a.uploadLimit = defaultUploadRateLimit
	}
	if a.window <= 0 {
		a.window = time.Minute
	}
	if a.signedURLTTL <= 0 {
		a.signedURLTTL = defaultSignedURLTTL
	}
	return a, nil
}

// PDFProcessorConfigured reports whether uploads trigger document processing.
func (a *App) PDFProcessorConfigured() bool {
	return a.pdfURL != ""
}

// verify checks the signature over the raw body when a secret is configured.
func (a *App) verify(ctx context.Context, body []byte, signature string) error {
	if a.secret == "" {
		return nil
	}
	if !security.VerifySignature(body, signature, a.secret) {
		util.LoggerFromContext(ctx).Warn("invalid webhook signature")
		return ErrInvalidSignature
	}
	return nil
}

func decodeBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

func (a *App) rateLimited(ctx context.Context, userID, endpoint string, limit int) error {
	if a.limiter.CheckRateLimit(ctx, userID, endpoint, limit, a.window) {
		util.LoggerFromContext(ctx).Warn("rate limit exceeded", "user_id", userID, "endpoint", endpoint)
		return ErrRateLimited
	}
	return nil
}

// fireAndForget schedules a signed POST on the background executor.
func (a *App) fireAndForget(ctx context.Context, name, target string, payload any) {
	body, err := workflow.Encode(payload)
	if err != nil {
		util.LoggerFromContext(ctx).Error("encode background payload failed", "task", name, "err", err)
		return
	}
	a.executor.Go(ctx, dispatch.Task{
		Name:    name,
		Target:  target,
		Payload: body,
		Run: func(ctx context.Context) error {
			_, err := a.workflow.Post(ctx, target, body)
			return err
		},
	})
}

func (a *App) timestamp() string {
	return a.now().Format(time.RFC3339Nano)
}
