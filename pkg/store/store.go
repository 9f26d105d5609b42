package store

import (
	"context"
	"errors"
	"time"

	"studyai/pkg/domain"
)

// ErrNotFound indicates the addressed row does not exist.
var ErrNotFound = errors.New("record not found")

// ChapterStore resolves the ownership scope of chapters.
type ChapterStore interface {
	SaveSubject(ctx context.Context, s domain.Subject) error
	SaveChapter(ctx context.Context, c domain.Chapter) error
	GetSubject(ctx context.Context, id string) (domain.Subject, bool, error)
	GetChapterOwner(ctx context.Context, chapterID string) (domain.ChapterOwner, bool, error)
}

// ChatStore persists chapter conversations.
type ChatStore interface {
	CreateChatMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error)
	// UpdateChatResponse writes the workflow answer onto the row keyed by chatID.
	// It reports false when no such row exists.
	UpdateChatResponse(ctx context.Context, chatID, response string, meta map[string]any) (bool, error)
	ListChatMessages(ctx context.Context, chapterID string) ([]domain.ChatMessage, error)
	// ListAnsweredHistory returns the oldest answered messages of a chapter, ascending.
	ListAnsweredHistory(ctx context.Context, chapterID string, limit int) ([]domain.HistoryEntry, error)
	DeleteChapterMessages(ctx context.Context, chapterID string) error
}

// FileStore persists uploaded file metadata.
type FileStore interface {
	CreateFile(ctx context.Context, f domain.FileRecord) (domain.FileRecord, error)
	GetFile(ctx context.Context, id string) (domain.FileRecord, bool, error)
	ListChapterFiles(ctx context.Context, chapterID string) ([]domain.FileRecord, error)
	DeleteFile(ctx context.Context, id string) error
}

// FlashcardStore persists generated flashcards.
type FlashcardStore interface {
	InsertFlashcards(ctx context.Context, cards []domain.Flashcard) ([]domain.Flashcard, error)
	ListFlashcardsByChapter(ctx context.Context, chapterID string) ([]domain.Flashcard, error)
	ListFlashcardsByFile(ctx context.Context, fileID string) ([]domain.Flashcard, error)
	DeleteFlashcardsByFile(ctx context.Context, fileID string) error
}

// RateLimitStore backs the table-based fixed-window limiter.
type RateLimitStore interface {
	// LatestRateLimitWindow returns the newest window for (userID, endpoint)
	// whose start is not before since.
	LatestRateLimitWindow(ctx context.Context, userID, endpoint string, since time.Time) (domain.RateLimitWindow, bool, error)
	InsertRateLimitWindow(ctx context.Context, w domain.RateLimitWindow) error
	SetRateLimitCount(ctx context.Context, userID, endpoint string, windowStart time.Time, count int) error
}

// AuditStore appends audit events. Events are never updated or deleted.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, evt domain.AuditEvent) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	ChapterStore
	ChatStore
	FileStore
	FlashcardStore
	RateLimitStore
	AuditStore
}
