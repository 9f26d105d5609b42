package domain

import (
	"encoding/json"
	"time"
)

// Endpoint names used as rate-limit and audit scopes.
const (
	EndpointChatWebhook       = "chat-webhook"
	EndpointFileUploadWebhook = "file-upload-webhook"
)

// Table names shared by the audit log and the change feed.
const (
	TableChats      = "chats"
	TableFiles      = "files"
	TableFlashcards = "flashcards"
)

type Subject struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Chapter struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ChapterOwner is a chapter joined with the user owning its subject.
type ChapterOwner struct {
	ChapterID string
	SubjectID string
	UserID    string
}

// ChatMessage is one question in a chapter conversation. A nil Response means
// the answer is still pending.
type ChatMessage struct {
	ID        string         `json:"id"`
	ChapterID string         `json:"chapter_id"`
	UserID    string         `json:"user_id"`
	Message   string         `json:"message"`
	Response  *string        `json:"response"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}

// Pending reports whether the workflow answer has not arrived yet.
func (m ChatMessage) Pending() bool {
	return m.Response == nil
}

type FileRecord struct {
	ID        string    `json:"id"`
	ChapterID string    `json:"chapter_id"`
	FileName  string    `json:"file_name"`
	FileURL   string    `json:"file_url"`
	CreatedAt time.Time `json:"created_at"`
}

type Flashcard struct {
	ID          string    `json:"id"`
	ChapterID   string    `json:"chapter_id"`
	FileID      string    `json:"file_id"`
	FlashcardID string    `json:"flashcard_id"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	CreatedAt   time.Time `json:"created_at"`
}

// RateLimitWindow counts requests of one user against one endpoint.
// WindowStart never changes after creation.
type RateLimitWindow struct {
	UserID       string    `json:"user_id"`
	Endpoint     string    `json:"endpoint"`
	RequestCount int       `json:"request_count"`
	WindowStart  time.Time `json:"window_start"`
}

type AuditEvent struct {
	ID        string         `json:"id"`
	UserID    *string        `json:"user_id"`
	Action    string         `json:"action"`
	TableName string         `json:"table_name"`
	RecordID  *string        `json:"record_id"`
	NewData   map[string]any `json:"new_data"`
	CreatedAt time.Time      `json:"created_at"`
}

// HistoryEntry is an answered message sent to the chat workflow as context.
type HistoryEntry struct {
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// FileContext is a chapter file sent to the chat workflow as context.
type FileContext struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a row-level change pushed to realtime subscribers.
// Record is omitted when the row is too large for the notification channel.
type ChangeEvent struct {
	Table     string          `json:"table"`
	Type      ChangeType      `json:"type"`
	ChapterID string          `json:"chapter_id"`
	RecordID  string          `json:"record_id,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`
	At        time.Time       `json:"at"`
}
