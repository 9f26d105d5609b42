// Package webhookclient notifies the webhook service about new chat messages
// and uploads. Every call is fire-and-forget.
package webhookclient

import (
	"context"
	"strings"

	"studyai/internal/util"
	"studyai/pkg/dispatch"
	"studyai/pkg/domain"
	"studyai/pkg/workflow"
)

const (
	taskChatWebhook   = "chat_webhook"
	taskUploadWebhook = "file_upload_webhook"
)

// ChatMessage is posted to the chat webhook after a message row is created.
type ChatMessage struct {
	ChatID    string                `json:"chat_id"`
	UserID    string                `json:"user_id"`
	ChapterID string                `json:"chapter_id"`
	Message   string                `json:"message"`
	Files     []domain.FileContext  `json:"files"`
	History   []domain.HistoryEntry `json:"history"`
}

// FileUpload is posted to the upload webhook after a file row is created.
type FileUpload struct {
	UserID    string `json:"user_id"`
	SubjectID string `json:"subject_id"`
	ChapterID string `json:"chapter_id"`
	FileID    string `json:"file_id"`
	FileURL   string `json:"file_url"`
	FileName  string `json:"file_name"`
}

type Config struct {
	// BaseURL is the webhook service root, e.g. http://webhook:8090.
	BaseURL  string
	Workflow *workflow.Client
	Executor *dispatch.Executor
}

type Client struct {
	chatURL   string
	uploadURL string
	workflow  *workflow.Client
	executor  *dispatch.Executor
}

// New returns a client. An empty BaseURL disables all notifications.
func New(cfg Config) *Client {
	c := &Client{workflow: cfg.Workflow, executor: cfg.Executor}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		c.chatURL = base + "/functions/v1/" + domain.EndpointChatWebhook
		c.uploadURL = base + "/functions/v1/" + domain.EndpointFileUploadWebhook
	}
	return c
}

// ChatMessageCreated schedules the chat webhook call. It reports whether
// the call was scheduled.
func (c *Client) ChatMessageCreated(ctx context.Context, msg ChatMessage, bearer string) bool {
	if msg.Files == nil {
		msg.Files = []domain.FileContext{}
	}
	if msg.History == nil {
		msg.History = []domain.HistoryEntry{}
	}
	return c.send(ctx, taskChatWebhook, c.chatURL, msg, bearer)
}

// FileUploaded schedules the upload webhook call.
func (c *Client) FileUploaded(ctx context.Context, upload FileUpload, bearer string) bool {
	return c.send(ctx, taskUploadWebhook, c.uploadURL, upload, bearer)
}

func (c *Client) send(ctx context.Context, name, target string, payload any, bearer string) bool {
	if c == nil || target == "" || c.executor == nil || c.workflow == nil {
		return false
	}
	body, err := workflow.Encode(payload)
	if err != nil {
		util.LoggerFromContext(ctx).Error("encode webhook payload failed", "task", name, "err", err)
		return false
	}
	return c.executor.Go(ctx, dispatch.Task{
		Name:    name,
		Target:  target,
		Payload: body,
		Run: func(ctx context.Context) error {
			_, err := c.workflow.Post(ctx, target, body, workflow.WithBearer(bearer))
			return err
		},
	})
}
