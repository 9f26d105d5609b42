package app

import (
	"context"
	"fmt"

	"studyai/pkg/domain"
	"studyai/services/study/internal/webhookclient"
)

// CreateMessage stores a pending question and hands it to the chat webhook
// together with the chapter files and answered history. The answer lands on
// the same row later.
func (a *App) CreateMessage(ctx context.Context, userID, chapterID, message, bearer string) (domain.ChatMessage, error) {
	message, ok := validMessage(message)
	if !ok {
		return domain.ChatMessage{}, ErrInvalidMessage
	}
	if _, err := a.authorizeChapter(ctx, userID, chapterID); err != nil {
		return domain.ChatMessage{}, err
	}
	msg, err := a.store.CreateChatMessage(ctx, domain.ChatMessage{
		ChapterID: chapterID,
		UserID:    userID,
		Message:   message,
		Meta:      map[string]any{},
		CreatedAt: a.now(),
	})
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("create chat message: %w", err)
	}

	files, err := a.fileContext(ctx, chapterID)
	if err != nil {
		a.logger.Warn("load chapter files for chat failed", "chapter_id", chapterID, "err", err)
	}
	history, err := a.store.ListAnsweredHistory(ctx, chapterID, a.historyLimit)
	if err != nil {
		a.logger.Warn("load chat history failed", "chapter_id", chapterID, "err", err)
	}
	if a.webhooks != nil {
		a.webhooks.ChatMessageCreated(ctx, webhookclient.ChatMessage{
			ChatID:    msg.ID,
			UserID:    userID,
			ChapterID: chapterID,
			Message:   message,
			Files:     files,
			History:   history,
		}, bearer)
	}
	return msg, nil
}

// ListMessages returns the chapter conversation, oldest first.
func (a *App) ListMessages(ctx context.Context, userID, chapterID string) ([]domain.ChatMessage, error) {
	if _, err := a.authorizeChapter(ctx, userID, chapterID); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListChatMessages(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return msgs, nil
}

// ClearConversation deletes every message of a chapter.
func (a *App) ClearConversation(ctx context.Context, userID, chapterID string) error {
	if _, err := a.authorizeChapter(ctx, userID, chapterID); err != nil {
		return err
	}
	if err := a.store.DeleteChapterMessages(ctx, chapterID); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	return nil
}

func (a *App) fileContext(ctx context.Context, chapterID string) ([]domain.FileContext, error) {
	files, err := a.store.ListChapterFiles(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FileContext, 0, len(files))
	for _, f := range files {
		out = append(out, domain.FileContext{ID: f.ID, FileName: f.FileName, FileURL: f.FileURL})
	}
	return out, nil
}
