package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"studyai/internal/util"
	"studyai/pkg/domain"
)

const migrateLockID int64 = 51750175

const (
	// DefaultChangeChannel is the LISTEN/NOTIFY channel carrying row changes.
	DefaultChangeChannel = "studyai_changes"
	// Postgres rejects NOTIFY payloads of 8000 bytes or more.
	maxNotifyPayload = 7900
)

type GormStoreOptions struct {
	ChangeChannel string
}

type GormStoreOption func(*GormStoreOptions)

// WithChangeChannel overrides the NOTIFY channel used for row changes.
// An empty channel disables change notifications.
func WithChangeChannel(channel string) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.ChangeChannel = channel
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db            *gorm.DB
	changeChannel string
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{ChangeChannel: DefaultChangeChannel}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&SubjectModel{}, &ChapterModel{}, &ChatModel{}, &FileModel{},
			&FlashcardModel{}, &RateLimitModel{}, &AuditLogModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chapters'
					AND constraint_name = 'chapters_subject_id_fkey'
				) THEN
					ALTER TABLE chapters
					ADD CONSTRAINT chapters_subject_id_fkey
					FOREIGN KEY (subject_id) REFERENCES subjects(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chats'
					AND constraint_name = 'chats_chapter_id_fkey'
				) THEN
					ALTER TABLE chats
					ADD CONSTRAINT chats_chapter_id_fkey
					FOREIGN KEY (chapter_id) REFERENCES chapters(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'files'
					AND constraint_name = 'files_chapter_id_fkey'
				) THEN
					ALTER TABLE files
					ADD CONSTRAINT files_chapter_id_fkey
					FOREIGN KEY (chapter_id) REFERENCES chapters(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'flashcards'
					AND constraint_name = 'flashcards_file_id_fkey'
				) THEN
					ALTER TABLE flashcards
					ADD CONSTRAINT flashcards_file_id_fkey
					FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure chapter foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, changeChannel: strings.TrimSpace(opts.ChangeChannel)}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// notify publishes a row change inside tx so subscribers only see committed rows.
func (s *GormStore) notify(tx *gorm.DB, table string, kind domain.ChangeType, chapterID, recordID string, record any) error {
	if s.changeChannel == "" {
		return nil
	}
	payload, err := encodeChange(table, kind, chapterID, recordID, record)
	if err != nil {
		return err
	}
	return tx.Exec("SELECT pg_notify(?, ?)", s.changeChannel, string(payload)).Error
}

func encodeChange(table string, kind domain.ChangeType, chapterID, recordID string, record any) ([]byte, error) {
	evt := domain.ChangeEvent{
		Table:     table,
		Type:      kind,
		ChapterID: chapterID,
		RecordID:  recordID,
		At:        time.Now().UTC(),
	}
	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("encode change record: %w", err)
		}
		evt.Record = raw
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode change: %w", err)
	}
	if len(payload) > maxNotifyPayload {
		evt.Record = nil
		if payload, err = json.Marshal(evt); err != nil {
			return nil, fmt.Errorf("encode change: %w", err)
		}
	}
	return payload, nil
}

// SaveSubject stores or renames a subject.
func (s *GormStore) SaveSubject(ctx context.Context, subject domain.Subject) error {
	model := SubjectModel{ID: subject.ID, UserID: subject.UserID, Name: subject.Name, CreatedAt: subject.CreatedAt}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&model).Error
}

// SaveChapter stores or renames a chapter.
func (s *GormStore) SaveChapter(ctx context.Context, chapter domain.Chapter) error {
	model := ChapterModel{ID: chapter.ID, SubjectID: chapter.SubjectID, Name: chapter.Name, CreatedAt: chapter.CreatedAt}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&model).Error
}

// GetSubject loads a subject by id.
func (s *GormStore) GetSubject(ctx context.Context, id string) (domain.Subject, bool, error) {
	var model SubjectModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Subject{}, false, nil
		}
		return domain.Subject{}, false, err
	}
	return domain.Subject{ID: model.ID, UserID: model.UserID, Name: model.Name, CreatedAt: model.CreatedAt}, true, nil
}

// GetChapterOwner joins a chapter with its subject's owner.
func (s *GormStore) GetChapterOwner(ctx context.Context, chapterID string) (domain.ChapterOwner, bool, error) {
	var row struct {
		ChapterID string
		SubjectID string
		UserID    string
	}
	err := s.db.WithContext(ctx).
		Table("chapters").
		Select("chapters.id AS chapter_id, chapters.subject_id AS subject_id, subjects.user_id AS user_id").
		Joins("JOIN subjects ON subjects.id = chapters.subject_id").
		Where("chapters.id = ?", chapterID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChapterOwner{}, false, nil
		}
		return domain.ChapterOwner{}, false, err
	}
	return domain.ChapterOwner{ChapterID: row.ChapterID, SubjectID: row.SubjectID, UserID: row.UserID}, true, nil
}

// CreateChatMessage inserts a pending chat row.
func (s *GormStore) CreateChatMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = util.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	model := chatToModel(msg)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return s.notify(tx, domain.TableChats, domain.ChangeInsert, model.ChapterID, model.ID, chatFromModel(model))
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return chatFromModel(model), nil
}

// UpdateChatResponse stores the workflow answer and its metadata.
func (s *GormStore) UpdateChatResponse(ctx context.Context, chatID, response string, meta map[string]any) (bool, error) {
	updated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []ChatModel
		res := tx.Model(&models).
			Clauses(clause.Returning{}).
			Where("id = ?", chatID).
			Updates(map[string]any{
				"response": response,
				"meta":     encodeJSONMap(meta),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || len(models) == 0 {
			return nil
		}
		updated = true
		return s.notify(tx, domain.TableChats, domain.ChangeUpdate, models[0].ChapterID, models[0].ID, chatFromModel(models[0]))
	})
	return updated, err
}

// ListChatMessages returns the conversation of a chapter, oldest first.
func (s *GormStore) ListChatMessages(ctx context.Context, chapterID string) ([]domain.ChatMessage, error) {
	var models []ChatModel
	if err := s.db.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, chatFromModel(m))
	}
	return msgs, nil
}

// ListAnsweredHistory returns up to limit answered messages, oldest first.
func (s *GormStore) ListAnsweredHistory(ctx context.Context, chapterID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return []domain.HistoryEntry{}, nil
	}
	var models []ChatModel
	if err := s.db.WithContext(ctx).
		Where("chapter_id = ? AND response IS NOT NULL", chapterID).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	history := make([]domain.HistoryEntry, 0, len(models))
	for _, m := range models {
		history = append(history, domain.HistoryEntry{Message: m.Message, Response: *m.Response, CreatedAt: m.CreatedAt})
	}
	return history, nil
}

// DeleteChapterMessages clears a chapter conversation.
func (s *GormStore) DeleteChapterMessages(ctx context.Context, chapterID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []ChatModel
		if err := tx.Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "chapter_id"}}}).
			Where("chapter_id = ?", chapterID).
			Delete(&models).Error; err != nil {
			return err
		}
		for _, m := range models {
			if err := s.notify(tx, domain.TableChats, domain.ChangeDelete, m.ChapterID, m.ID, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateFile records uploaded file metadata.
func (s *GormStore) CreateFile(ctx context.Context, f domain.FileRecord) (domain.FileRecord, error) {
	if f.ID == "" {
		f.ID = util.NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	model := fileToModel(f)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return s.notify(tx, domain.TableFiles, domain.ChangeInsert, model.ChapterID, model.ID, fileFromModel(model))
	})
	if err != nil {
		return domain.FileRecord{}, err
	}
	return fileFromModel(model), nil
}

// GetFile retrieves file metadata.
func (s *GormStore) GetFile(ctx context.Context, id string) (domain.FileRecord, bool, error) {
	var model FileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListChapterFiles returns chapter files, newest first.
func (s *GormStore) ListChapterFiles(ctx context.Context, chapterID string) ([]domain.FileRecord, error) {
	var models []FileModel
	if err := s.db.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	files := make([]domain.FileRecord, 0, len(models))
	for _, m := range models {
		files = append(files, fileFromModel(m))
	}
	return files, nil
}

// DeleteFile removes a file row. A missing row yields ErrNotFound.
func (s *GormStore) DeleteFile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []FileModel
		if err := tx.Clauses(clause.Returning{}).Where("id = ?", id).Delete(&models).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return ErrNotFound
		}
		return s.notify(tx, domain.TableFiles, domain.ChangeDelete, models[0].ChapterID, models[0].ID, nil)
	})
}

// InsertFlashcards stores a batch of flashcards.
func (s *GormStore) InsertFlashcards(ctx context.Context, cards []domain.Flashcard) ([]domain.Flashcard, error) {
	if len(cards) == 0 {
		return []domain.Flashcard{}, nil
	}
	now := time.Now().UTC()
	models := make([]FlashcardModel, 0, len(cards))
	for _, c := range cards {
		if c.ID == "" {
			c.ID = util.NewID()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		models = append(models, flashcardToModel(c))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&models, 200).Error; err != nil {
			return err
		}
		for _, m := range models {
			if err := s.notify(tx, domain.TableFlashcards, domain.ChangeInsert, m.ChapterID, m.ID, flashcardFromModel(m)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Flashcard, 0, len(models))
	for _, m := range models {
		out = append(out, flashcardFromModel(m))
	}
	return out, nil
}

// ListFlashcardsByChapter returns chapter flashcards, oldest first.
func (s *GormStore) ListFlashcardsByChapter(ctx context.Context, chapterID string) ([]domain.Flashcard, error) {
	return s.listFlashcards(ctx, "chapter_id = ?", chapterID)
}

// ListFlashcardsByFile returns the flashcards generated from one file.
func (s *GormStore) ListFlashcardsByFile(ctx context.Context, fileID string) ([]domain.Flashcard, error) {
	return s.listFlashcards(ctx, "file_id = ?", fileID)
}

func (s *GormStore) listFlashcards(ctx context.Context, cond string, arg string) ([]domain.Flashcard, error) {
	var models []FlashcardModel
	if err := s.db.WithContext(ctx).Where(cond, arg).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	cards := make([]domain.Flashcard, 0, len(models))
	for _, m := range models {
		cards = append(cards, flashcardFromModel(m))
	}
	return cards, nil
}

// DeleteFlashcardsByFile removes every flashcard generated from fileID.
func (s *GormStore) DeleteFlashcardsByFile(ctx context.Context, fileID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []FlashcardModel
		if err := tx.Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "chapter_id"}}}).
			Where("file_id = ?", fileID).
			Delete(&models).Error; err != nil {
			return err
		}
		for _, m := range models {
			if err := s.notify(tx, domain.TableFlashcards, domain.ChangeDelete, m.ChapterID, m.ID, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// LatestRateLimitWindow returns the newest window started at or after since.
func (s *GormStore) LatestRateLimitWindow(ctx context.Context, userID, endpoint string, since time.Time) (domain.RateLimitWindow, bool, error) {
	var model RateLimitModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ? AND window_start >= ?", userID, endpoint, since.UTC()).
		Order("window_start DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RateLimitWindow{}, false, nil
		}
		return domain.RateLimitWindow{}, false, err
	}
	return domain.RateLimitWindow{
		UserID:       model.UserID,
		Endpoint:     model.Endpoint,
		RequestCount: model.RequestCount,
		WindowStart:  model.WindowStart,
	}, true, nil
}

// InsertRateLimitWindow opens a new counting window.
func (s *GormStore) InsertRateLimitWindow(ctx context.Context, w domain.RateLimitWindow) error {
	model := RateLimitModel{
		UserID:       w.UserID,
		Endpoint:     w.Endpoint,
		RequestCount: w.RequestCount,
		WindowStart:  w.WindowStart.UTC(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// SetRateLimitCount overwrites the count of an existing window.
func (s *GormStore) SetRateLimitCount(ctx context.Context, userID, endpoint string, windowStart time.Time, count int) error {
	return s.db.WithContext(ctx).Model(&RateLimitModel{}).
		Where("user_id = ? AND endpoint = ? AND window_start = ?", userID, endpoint, windowStart.UTC()).
		Update("request_count", count).Error
}

// AppendAuditEvent inserts one audit row.
func (s *GormStore) AppendAuditEvent(ctx context.Context, evt domain.AuditEvent) error {
	if evt.ID == "" {
		evt.ID = util.NewID()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	model := AuditLogModel{
		ID:          evt.ID,
		UserID:      evt.UserID,
		Action:      evt.Action,
		TargetTable: evt.TableName,
		RecordID:    evt.RecordID,
		NewData:     encodeJSONMap(evt.NewData),
		CreatedAt:   evt.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}
