package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"studyai/internal/util"
	"studyai/pkg/domain"
	"studyai/pkg/storage"
	"studyai/pkg/store"
	"studyai/services/study/internal/webhookclient"
)

const (
	maxMessageRunes        = 4000
	defaultHistoryLimit    = 10
	defaultMaxUploadBytes  = 50 * 1024 * 1024
	defaultDownloadURLTTL  = time.Hour
	defaultUploadExtension = ".pdf"
)

// Notifier hands new rows to the webhook pipeline.
type Notifier interface {
	ChatMessageCreated(ctx context.Context, msg webhookclient.ChatMessage, bearer string) bool
	FileUploaded(ctx context.Context, upload webhookclient.FileUpload, bearer string) bool
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store             store.Store
	Objects           storage.ObjectStore
	Webhooks          Notifier
	Logger            *slog.Logger
	MaxUploadBytes    int64
	AllowedExtensions []string
	DownloadURLTTL    time.Duration
	HistoryLimit      int
}

// App implements the user-facing study actions. Each one checks that the
// caller owns the addressed chapter before touching it.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	webhooks       Notifier
	logger         *slog.Logger
	maxUploadBytes int64
	extensions     map[string]struct{}
	downloadTTL    time.Duration
	historyLimit   int
	now            func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		webhooks:       cfg.Webhooks,
		logger:         logger,
		maxUploadBytes: cfg.MaxUploadBytes,
		extensions:     make(map[string]struct{}),
		downloadTTL:    cfg.DownloadURLTTL,
		historyLimit:   cfg.HistoryLimit,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = defaultMaxUploadBytes
	}
	if a.downloadTTL <= 0 {
		a.downloadTTL = defaultDownloadURLTTL
	}
	if a.historyLimit <= 0 {
		a.historyLimit = defaultHistoryLimit
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = []string{defaultUploadExtension}
	}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		a.extensions[ext] = struct{}{}
	}
	return a, nil
}

// MaxUploadBytes is the largest accepted upload.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

// CreateSubject creates a subject owned by userID.
func (a *App) CreateSubject(ctx context.Context, userID, name string) (domain.Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Subject{}, ErrInvalidName
	}
	subject := domain.Subject{ID: util.NewID(), UserID: userID, Name: name, CreatedAt: a.now()}
	if err := a.store.SaveSubject(ctx, subject); err != nil {
		return domain.Subject{}, fmt.Errorf("save subject: %w", err)
	}
	return subject, nil
}

// CreateChapter adds a chapter to a subject owned by userID.
func (a *App) CreateChapter(ctx context.Context, userID, subjectID, name string) (domain.Chapter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Chapter{}, ErrInvalidName
	}
	subject, ok, err := a.store.GetSubject(ctx, subjectID)
	if err != nil {
		return domain.Chapter{}, fmt.Errorf("load subject: %w", err)
	}
	if !ok || subject.UserID != userID {
		return domain.Chapter{}, ErrSubjectNotFound
	}
	chapter := domain.Chapter{ID: util.NewID(), SubjectID: subject.ID, Name: name, CreatedAt: a.now()}
	if err := a.store.SaveChapter(ctx, chapter); err != nil {
		return domain.Chapter{}, fmt.Errorf("save chapter: %w", err)
	}
	return chapter, nil
}

// authorizeChapter resolves the owner of chapterID and checks it is userID.
// Chapters of other users are reported as missing.
func (a *App) authorizeChapter(ctx context.Context, userID, chapterID string) (domain.ChapterOwner, error) {
	owner, ok, err := a.store.GetChapterOwner(ctx, chapterID)
	if err != nil {
		return domain.ChapterOwner{}, fmt.Errorf("load chapter owner: %w", err)
	}
	if !ok {
		return domain.ChapterOwner{}, ErrChapterNotFound
	}
	if owner.UserID != userID {
		return domain.ChapterOwner{}, ErrChapterNotFound
	}
	return owner, nil
}

// authorizeFile resolves a file and checks the caller owns its chapter.
func (a *App) authorizeFile(ctx context.Context, userID, fileID string) (domain.FileRecord, domain.ChapterOwner, error) {
	file, ok, err := a.store.GetFile(ctx, fileID)
	if err != nil {
		return domain.FileRecord{}, domain.ChapterOwner{}, fmt.Errorf("load file: %w", err)
	}
	if !ok {
		return domain.FileRecord{}, domain.ChapterOwner{}, ErrFileNotFound
	}
	owner, err := a.authorizeChapter(ctx, userID, file.ChapterID)
	if errors.Is(err, ErrChapterNotFound) {
		return domain.FileRecord{}, domain.ChapterOwner{}, ErrFileNotFound
	}
	if err != nil {
		return domain.FileRecord{}, domain.ChapterOwner{}, err
	}
	return file, owner, nil
}

func validMessage(message string) (string, bool) {
	message = strings.TrimSpace(message)
	n := utf8.RuneCountInString(message)
	return message, n >= 1 && n <= maxMessageRunes
}
