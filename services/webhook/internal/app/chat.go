package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"studyai/internal/audit"
	"studyai/internal/security"
	"studyai/internal/util"
	"studyai/pkg/domain"
)

const mockPreviewRunes = 100

// ChatDelivery is the body posted by the study service when a message is sent.
type ChatDelivery struct {
	ChatID    string            `json:"chat_id"`
	UserID    string            `json:"user_id"`
	ChapterID string            `json:"chapter_id"`
	Message   any               `json:"message"`
	Files     []json.RawMessage `json:"files"`
	History   []json.RawMessage `json:"history"`
}

type chatWorkflowRequest struct {
	ChatID    string            `json:"chat_id"`
	UserID    string            `json:"user_id"`
	ChapterID string            `json:"chapter_id"`
	Message   string            `json:"message"`
	Files     []json.RawMessage `json:"files"`
	History   []json.RawMessage `json:"history"`
	Timestamp string            `json:"timestamp"`
}

type chatWorkflowReply struct {
	Response *string        `json:"response"`
	Meta     map[string]any `json:"meta"`
}

// ChatResult describes a processed chat delivery.
type ChatResult struct {
	Mock bool
}

// ProcessChat validates a chat delivery, obtains an answer and writes it onto
// the chat row. Re-delivery of the same body repeats the same update.
func (a *App) ProcessChat(ctx context.Context, body []byte, signature string) (ChatResult, error) {
	if err := a.verify(ctx, body, signature); err != nil {
		return ChatResult{}, err
	}
	var in ChatDelivery
	if err := decodeBody(body, &in); err != nil {
		return ChatResult{}, err
	}
	if in.ChatID == "" || in.UserID == "" || in.ChapterID == "" || blank(in.Message) {
		return ChatResult{}, ErrMissingFields
	}
	if !security.IsValidUUID(in.ChatID) || !security.IsValidUUID(in.UserID) || !security.IsValidUUID(in.ChapterID) {
		return ChatResult{}, ErrInvalidID
	}
	message := security.SanitizeText(in.Message)
	if message == "" {
		return ChatResult{}, ErrInvalidMessage
	}
	if err := a.rateLimited(ctx, in.UserID, domain.EndpointChatWebhook, a.chatLimit); err != nil {
		return ChatResult{}, err
	}

	logger := util.LoggerFromContext(ctx)
	logger.Info("chat webhook received",
		"chat_id", in.ChatID,
		"chapter_id", in.ChapterID,
		"message_preview", preview(message, 50),
		"file_count", len(in.Files),
	)

	if a.chatURL == "" {
		logger.Warn("chat workflow not configured, using mock response")
		meta := map[string]any{"is_mock": true, "processed_at": a.timestamp()}
		if err := a.writeAnswer(ctx, in.ChatID, mockAnswer(message, len(in.Files)), meta); err != nil {
			return ChatResult{}, err
		}
		a.audit.Log(ctx, in.UserID, audit.ActionChatMessageMock, domain.TableChats, in.ChatID, nil)
		return ChatResult{Mock: true}, nil
	}

	req := chatWorkflowRequest{
		ChatID:    in.ChatID,
		UserID:    in.UserID,
		ChapterID: in.ChapterID,
		Message:   message,
		Files:     orEmpty(in.Files),
		History:   orEmpty(in.History),
		Timestamp: a.timestamp(),
	}
	data, err := a.workflow.PostJSON(ctx, a.chatURL, req)
	if err != nil {
		return ChatResult{}, fmt.Errorf("chat workflow request failed: %w", err)
	}
	var reply chatWorkflowReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return ChatResult{}, fmt.Errorf("decode chat workflow reply: %w", err)
	}
	// A reply without text leaves the row pending.
	if reply.Response == nil || strings.TrimSpace(*reply.Response) == "" {
		return ChatResult{}, ErrEmptyWorkflowReply
	}
	meta := make(map[string]any, len(reply.Meta)+1)
	for k, v := range reply.Meta {
		meta[k] = v
	}
	meta["processed_at"] = a.timestamp()
	if err := a.writeAnswer(ctx, in.ChatID, *reply.Response, meta); err != nil {
		return ChatResult{}, err
	}
	a.audit.Log(ctx, in.UserID, audit.ActionChatMessageProcessed, domain.TableChats, in.ChatID, nil)
	logger.Info("chat processed", "chat_id", in.ChatID)
	return ChatResult{}, nil
}

// writeAnswer updates the chat row. A missing row is logged, not failed:
// the update matches zero rows and the delivery still succeeds.
func (a *App) writeAnswer(ctx context.Context, chatID, response string, meta map[string]any) error {
	updated, err := a.store.UpdateChatResponse(ctx, chatID, response, meta)
	if err != nil {
		return fmt.Errorf("failed to update chat record: %w", err)
	}
	if !updated {
		util.LoggerFromContext(ctx).Warn("chat row not found for answer", "chat_id", chatID)
	}
	return nil
}

func mockAnswer(message string, files int) string {
	return fmt.Sprintf("I've received your question: \"%s\"\n\n"+
		"Based on your uploaded materials (%d files), I can help you understand this topic better.\n\n"+
		"Note: This is a mock response. Configure N8N_CHAT_WEBHOOK_URL environment variable to enable real LLM integration.",
		preview(message, mockPreviewRunes), files)
}

// preview returns the first n runes of s followed by an ellipsis.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r) + "..."
}

// blank mirrors a falsy check on a JSON value.
func blank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	default:
		return false
	}
}

func orEmpty(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return []json.RawMessage{}
	}
	return in
}
