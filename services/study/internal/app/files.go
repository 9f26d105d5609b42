package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"studyai/pkg/document"
	"studyai/pkg/domain"
	"studyai/services/study/internal/webhookclient"
)

const pdfContentType = "application/pdf"

// Upload is a file received from the client.
type Upload struct {
	FileName string
	Size     int64
	Body     io.Reader
}

// UploadFile validates and stores a chapter document, records it, and
// announces it to the upload webhook.
func (a *App) UploadFile(ctx context.Context, userID, chapterID string, upload Upload, bearer string) (domain.FileRecord, error) {
	if upload.Body == nil || strings.TrimSpace(upload.FileName) == "" {
		return domain.FileRecord{}, ErrFileRequired
	}
	if upload.Size > a.maxUploadBytes {
		return domain.FileRecord{}, ErrFileTooLarge
	}
	name := filepath.Base(strings.TrimSpace(upload.FileName))
	if _, ok := a.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return domain.FileRecord{}, ErrExtensionNotAllowed
	}
	data, err := io.ReadAll(io.LimitReader(upload.Body, a.maxUploadBytes+1))
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.maxUploadBytes {
		return domain.FileRecord{}, ErrFileTooLarge
	}
	if len(data) == 0 {
		return domain.FileRecord{}, ErrFileRequired
	}
	if _, err := document.InspectPDF(data); err != nil {
		return domain.FileRecord{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	owner, err := a.authorizeChapter(ctx, userID, chapterID)
	if err != nil {
		return domain.FileRecord{}, err
	}

	key := a.storageKey(owner, name)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), pdfContentType); err != nil {
		return domain.FileRecord{}, fmt.Errorf("save file: %w", err)
	}
	file, err := a.store.CreateFile(ctx, domain.FileRecord{
		ChapterID: chapterID,
		FileName:  name,
		FileURL:   key,
		CreatedAt: a.now(),
	})
	if err != nil {
		if delErr := a.objects.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			a.logger.Error("rollback stored object failed", "key", key, "err", delErr)
		}
		return domain.FileRecord{}, fmt.Errorf("save file record: %w", err)
	}

	if a.webhooks != nil {
		a.webhooks.FileUploaded(ctx, webhookclient.FileUpload{
			UserID:    userID,
			SubjectID: owner.SubjectID,
			ChapterID: chapterID,
			FileID:    file.ID,
			FileURL:   key,
			FileName:  name,
		}, bearer)
	}
	return file, nil
}

// ListFiles returns the files of a chapter, newest first.
func (a *App) ListFiles(ctx context.Context, userID, chapterID string) ([]domain.FileRecord, error) {
	if _, err := a.authorizeChapter(ctx, userID, chapterID); err != nil {
		return nil, err
	}
	files, err := a.store.ListChapterFiles(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// FileURL returns a short-lived download link for a file owned by userID.
func (a *App) FileURL(ctx context.Context, userID, fileID string) (string, error) {
	file, _, err := a.authorizeFile(ctx, userID, fileID)
	if err != nil {
		return "", err
	}
	url, err := a.objects.PresignGet(ctx, file.FileURL, a.downloadTTL)
	if err != nil {
		return "", fmt.Errorf("sign download url: %w", err)
	}
	return url, nil
}

// DeleteFile removes a file with its flashcards and the chapter conversation.
// A missing stored object does not stop the row from being deleted.
func (a *App) DeleteFile(ctx context.Context, userID, fileID string) error {
	file, _, err := a.authorizeFile(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteFlashcardsByFile(ctx, file.ID); err != nil {
		return fmt.Errorf("delete flashcards: %w", err)
	}
	if err := a.store.DeleteChapterMessages(ctx, file.ChapterID); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	if err := a.objects.Delete(ctx, file.FileURL); err != nil {
		a.logger.Warn("delete stored object failed", "file_id", file.ID, "key", file.FileURL, "err", err)
	}
	if err := a.store.DeleteFile(ctx, file.ID); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return nil
}

// ListChapterFlashcards returns every card generated for a chapter.
func (a *App) ListChapterFlashcards(ctx context.Context, userID, chapterID string) ([]domain.Flashcard, error) {
	if _, err := a.authorizeChapter(ctx, userID, chapterID); err != nil {
		return nil, err
	}
	cards, err := a.store.ListFlashcardsByChapter(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	return cards, nil
}

// ListFileFlashcards returns the cards generated from one file.
func (a *App) ListFileFlashcards(ctx context.Context, userID, fileID string) ([]domain.Flashcard, error) {
	file, _, err := a.authorizeFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	cards, err := a.store.ListFlashcardsByFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	return cards, nil
}

// storageKey lays objects out as user/subject/chapter/<unix ms>_<name>.
func (a *App) storageKey(owner domain.ChapterOwner, name string) string {
	stamp := strconv.FormatInt(a.now().UnixMilli(), 10)
	return path.Join(owner.UserID, owner.SubjectID, owner.ChapterID, stamp+"_"+sanitizeFilename(name))
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// IsClientError reports whether err is caused by the request rather than
// by the service.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidMessage, ErrInvalidName, ErrFileRequired,
		ErrFileTooLarge, ErrExtensionNotAllowed, ErrInvalidDocument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
