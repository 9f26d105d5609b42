// Package audit records security-relevant actions.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"studyai/pkg/domain"
	"studyai/pkg/store"
)

// Actions written by the webhook handlers.
const (
	ActionChatMessageMock      = "chat_message_mock"
	ActionChatMessageProcessed = "chat_message_processed"
	ActionFileUploaded         = "file_uploaded"
)

// Logger appends audit events. Writing is best effort: a failed append is
// logged and never reaches the caller.
type Logger struct {
	store  store.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

func NewLogger(s store.AuditStore, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: s, logger: logger, now: time.Now}
}

// Log appends one event. Empty userID and recordID are stored as null.
func (l *Logger) Log(ctx context.Context, userID, action, table, recordID string, details map[string]any) {
	if l == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	evt := domain.AuditEvent{
		UserID:    optional(userID),
		Action:    action,
		TableName: table,
		RecordID:  optional(recordID),
		NewData:   details,
		CreatedAt: l.now().UTC(),
	}
	l.logger.InfoContext(ctx, "security_event",
		"event", action,
		"outcome", "recorded",
		"user_id", userID,
		"table", table,
		"record_id", recordID,
	)
	if l.store == nil {
		return
	}
	if err := l.store.AppendAuditEvent(ctx, evt); err != nil {
		l.logger.ErrorContext(ctx, "audit log write failed", "action", action, "err", err)
	}
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
