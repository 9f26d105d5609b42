package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"studyai/internal/audit"
	"studyai/internal/security"
	"studyai/internal/util"
	"studyai/pkg/dispatch"
	"studyai/pkg/domain"
	"studyai/pkg/notify"
	"studyai/pkg/workflow"
)

// Background task names, also used as dead-letter and metric labels.
const (
	TaskPDFProcessor     = "pdf_processor"
	TaskUploadNotify     = "file_upload_notify"
	TaskUploadEvent      = "file_upload_event"
	uploadNotifyEventTag = "file_upload"
)

// UploadDelivery is the body posted by the study service after a file is stored.
type UploadDelivery struct {
	UserID    string `json:"user_id"`
	SubjectID string `json:"subject_id"`
	ChapterID string `json:"chapter_id"`
	FileID    string `json:"file_id"`
	FileURL   string `json:"file_url"`
	FileName  string `json:"file_name"`
}

type pdfProcessorRequest struct {
	FileID    string `json:"file_id"`
	FileURL   string `json:"file_url"`
	FileName  string `json:"file_name"`
	ChapterID string `json:"chapter_id"`
	UserID    string `json:"user_id"`
	SignedURL string `json:"signedUrl"`
}

type flashcardsRequest struct {
	URL string `json:"url"`
}

type uploadNotification struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
	SubjectID string `json:"subject_id"`
	ChapterID string `json:"chapter_id"`
	FileName  string `json:"file_name"`
	FileURL   string `json:"file_url"`
}

// UploadResult describes a processed upload delivery.
type UploadResult struct {
	PDFProcessorTriggered bool
	FlashcardsInserted    int
}

// ProcessUpload validates an upload delivery, signs a download URL and fans
// the file out to the document, flashcard and notification workflows. Only
// precondition and signing failures are returned; downstream failures are
// logged or dead-lettered.
func (a *App) ProcessUpload(ctx context.Context, body []byte, signature string) (UploadResult, error) {
	if err := a.verify(ctx, body, signature); err != nil {
		return UploadResult{}, err
	}
	var in UploadDelivery
	if err := decodeBody(body, &in); err != nil {
		return UploadResult{}, err
	}
	if in.UserID == "" || in.ChapterID == "" || in.FileURL == "" || in.FileName == "" {
		return UploadResult{}, ErrMissingFields
	}
	if !security.IsValidUUID(in.UserID) || !security.IsValidUUID(in.ChapterID) {
		return UploadResult{}, ErrInvalidID
	}
	fileName := security.SanitizeText(in.FileName)
	if fileName == "" {
		return UploadResult{}, ErrInvalidFilename
	}
	if err := a.rateLimited(ctx, in.UserID, domain.EndpointFileUploadWebhook, a.uploadLimit); err != nil {
		return UploadResult{}, err
	}

	logger := util.LoggerFromContext(ctx).With("chapter_id", in.ChapterID, "file_id", in.FileID)
	signedURL, err := a.objects.PresignGet(ctx, in.FileURL, a.signedURLTTL)
	if err != nil {
		logger.Error("create signed url failed", "file_url", in.FileURL, "err", err)
		return UploadResult{}, fmt.Errorf("%w: %v", ErrSignedURL, err)
	}

	if a.pdfURL != "" && in.FileID != "" {
		logger.Info("triggering pdf processor")
		a.fireAndForget(ctx, TaskPDFProcessor, a.pdfURL, pdfProcessorRequest{
			FileID:    in.FileID,
			FileURL:   in.FileURL,
			FileName:  fileName,
			ChapterID: in.ChapterID,
			UserID:    in.UserID,
			SignedURL: signedURL,
		})
	} else {
		logger.Info("pdf processor not configured or file_id missing")
	}

	result := UploadResult{PDFProcessorTriggered: a.pdfURL != ""}
	if a.flashcardsURL != "" && in.FileID != "" {
		result.FlashcardsInserted = a.generateFlashcards(ctx, logger, in)
	}

	a.announceUpload(ctx, in, fileName, signedURL)

	a.audit.Log(ctx, in.UserID, audit.ActionFileUploaded, domain.TableFiles, in.FileID, nil)
	return result, nil
}

// generateFlashcards calls the flashcard workflow and stores what it returns.
// Every failure is logged and swallowed.
func (a *App) generateFlashcards(ctx context.Context, logger *slog.Logger, in UploadDelivery) int {
	logger.Info("triggering flashcards generation")
	data, err := a.workflow.PostJSON(ctx, a.flashcardsURL, flashcardsRequest{URL: in.FileURL})
	if err != nil {
		var statusErr *workflow.StatusError
		if errors.As(err, &statusErr) {
			logger.Error("flashcards workflow failed", "status", statusErr.StatusCode, "body", statusErr.Body)
		} else {
			logger.Error("flashcards workflow request failed", "err", err)
		}
		return 0
	}
	reply, err := workflow.DecodeFlashcards(data)
	if err != nil {
		logger.Error("flashcards reply is not json", "err", err)
		return 0
	}
	logger = logger.With("shape", string(reply.Shape))
	switch reply.Problem {
	case workflow.ProblemUnexpectedType:
		logger.Error("flashcards reply has unexpected type")
		return 0
	case workflow.ProblemMissingOutput:
		logger.Error("flashcards reply has no output object")
		return 0
	case workflow.ProblemNotArray:
		logger.Error("flashcards output is not an array")
		return 0
	case workflow.ProblemEmpty:
		logger.Error("flashcards output is empty")
		return 0
	}
	if reply.Skipped > 0 {
		logger.Warn("flashcards skipped for missing question or answer", "skipped", reply.Skipped)
	}
	if len(reply.Cards) == 0 {
		return 0
	}
	rows := make([]domain.Flashcard, 0, len(reply.Cards))
	for _, c := range reply.Cards {
		rows = append(rows, domain.Flashcard{
			ChapterID:   in.ChapterID,
			FileID:      in.FileID,
			FlashcardID: c.ID,
			Question:    c.Question,
			Answer:      c.Answer,
		})
	}
	inserted, err := a.store.InsertFlashcards(ctx, rows)
	if err != nil {
		logger.Error("insert flashcards failed", "count", len(rows), "err", err)
		return 0
	}
	logger.Info("flashcards inserted", "count", len(inserted))
	return len(inserted)
}

// announceUpload sends the generic upload notification to the webhook and
// the event exchange, whichever are configured.
func (a *App) announceUpload(ctx context.Context, in UploadDelivery, fileName, signedURL string) {
	if a.notifyURL == "" && a.publisher == nil {
		return
	}
	event := uploadNotification{
		Event:     uploadNotifyEventTag,
		Timestamp: a.timestamp(),
		UserID:    in.UserID,
		SubjectID: in.SubjectID,
		ChapterID: in.ChapterID,
		FileName:  fileName,
		FileURL:   signedURL,
	}
	if a.notifyURL != "" {
		a.fireAndForget(ctx, TaskUploadNotify, a.notifyURL, event)
	}
	if a.publisher == nil {
		return
	}
	body, err := workflow.Encode(event)
	if err != nil {
		util.LoggerFromContext(ctx).Error("encode upload event failed", "err", err)
		return
	}
	a.executor.Go(ctx, dispatch.Task{
		Name:    TaskUploadEvent,
		Target:  notify.RoutingKeyFileUploaded,
		Payload: body,
		Run: func(ctx context.Context) error {
			return a.publisher.Publish(ctx, notify.RoutingKeyFileUploaded, body)
		},
	})
}
