package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"studyai/pkg/domain"
)

// GORM models used for persistence.
type SubjectModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (SubjectModel) TableName() string { return "subjects" }

type ChapterModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	SubjectID string    `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ChapterModel) TableName() string { return "chapters" }

type ChatModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	ChapterID string         `gorm:"type:uuid;not null;index"`
	UserID    string         `gorm:"type:uuid;not null;index"`
	Message   string         `gorm:"type:text;not null"`
	Response  *string        `gorm:"type:text"`
	Meta      datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

func (ChatModel) TableName() string { return "chats" }

type FileModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	ChapterID string    `gorm:"type:uuid;not null;index"`
	FileName  string    `gorm:"not null"`
	FileURL   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (FileModel) TableName() string { return "files" }

type FlashcardModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	ChapterID   string    `gorm:"type:uuid;not null;index"`
	FileID      string    `gorm:"type:uuid;not null;index"`
	FlashcardID string    `gorm:"not null"`
	Question    string    `gorm:"type:text;not null"`
	Answer      string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (FlashcardModel) TableName() string { return "flashcards" }

type RateLimitModel struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       string    `gorm:"type:uuid;not null;index:idx_rate_limit_scope,priority:1"`
	Endpoint     string    `gorm:"not null;index:idx_rate_limit_scope,priority:2"`
	RequestCount int       `gorm:"not null"`
	WindowStart  time.Time `gorm:"not null;index:idx_rate_limit_scope,priority:3"`
}

func (RateLimitModel) TableName() string { return "rate_limit_tracking" }

type AuditLogModel struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	UserID      *string        `gorm:"type:uuid;index"`
	Action      string         `gorm:"not null;index"`
	TargetTable string         `gorm:"column:table_name;not null"`
	RecordID    *string        `gorm:"index"`
	NewData     datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}

func (AuditLogModel) TableName() string { return "audit_logs" }

func chatToModel(m domain.ChatMessage) ChatModel {
	return ChatModel{
		ID:        m.ID,
		ChapterID: m.ChapterID,
		UserID:    m.UserID,
		Message:   m.Message,
		Response:  m.Response,
		Meta:      encodeJSONMap(m.Meta),
		CreatedAt: m.CreatedAt,
	}
}

func chatFromModel(m ChatModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        m.ID,
		ChapterID: m.ChapterID,
		UserID:    m.UserID,
		Message:   m.Message,
		Response:  m.Response,
		Meta:      decodeJSONMap(m.Meta),
		CreatedAt: m.CreatedAt,
	}
}

func fileToModel(f domain.FileRecord) FileModel {
	return FileModel{
		ID:        f.ID,
		ChapterID: f.ChapterID,
		FileName:  f.FileName,
		FileURL:   f.FileURL,
		CreatedAt: f.CreatedAt,
	}
}

func fileFromModel(m FileModel) domain.FileRecord {
	return domain.FileRecord{
		ID:        m.ID,
		ChapterID: m.ChapterID,
		FileName:  m.FileName,
		FileURL:   m.FileURL,
		CreatedAt: m.CreatedAt,
	}
}

func flashcardToModel(c domain.Flashcard) FlashcardModel {
	return FlashcardModel{
		ID:          c.ID,
		ChapterID:   c.ChapterID,
		FileID:      c.FileID,
		FlashcardID: c.FlashcardID,
		Question:    c.Question,
		Answer:      c.Answer,
		CreatedAt:   c.CreatedAt,
	}
}

func flashcardFromModel(m FlashcardModel) domain.Flashcard {
	return domain.Flashcard{
		ID:          m.ID,
		ChapterID:   m.ChapterID,
		FileID:      m.FileID,
		FlashcardID: m.FlashcardID,
		Question:    m.Question,
		Answer:      m.Answer,
		CreatedAt:   m.CreatedAt,
	}
}

func encodeJSONMap(v map[string]any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

func decodeJSONMap(raw datatypes.JSON) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
