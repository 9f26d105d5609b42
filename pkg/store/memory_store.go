package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"studyai/internal/util"
	"studyai/pkg/domain"
)

// MemoryStore implements Store in process. It is used by tests and by
// deployments without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	subjects   map[string]domain.Subject
	chapters   map[string]domain.Chapter
	chats      map[string]domain.ChatMessage
	files      map[string]domain.FileRecord
	flashcards map[string]domain.Flashcard
	windows    []domain.RateLimitWindow
	audit      []domain.AuditEvent
	onChange   func(domain.ChangeEvent)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects:   make(map[string]domain.Subject),
		chapters:   make(map[string]domain.Chapter),
		chats:      make(map[string]domain.ChatMessage),
		files:      make(map[string]domain.FileRecord),
		flashcards: make(map[string]domain.Flashcard),
	}
}

// OnChange registers fn to receive every committed row change.
// fn runs after the store lock is released.
func (s *MemoryStore) OnChange(fn func(domain.ChangeEvent)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *MemoryStore) emit(events []domain.ChangeEvent) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, evt := range events {
		fn(evt)
	}
}

func changeEvent(table string, kind domain.ChangeType, chapterID, recordID string, record any) domain.ChangeEvent {
	evt := domain.ChangeEvent{
		Table:     table,
		Type:      kind,
		ChapterID: chapterID,
		RecordID:  recordID,
		At:        time.Now().UTC(),
	}
	if record != nil {
		if raw, err := json.Marshal(record); err == nil {
			evt.Record = raw
		}
	}
	return evt
}

func (s *MemoryStore) SaveSubject(_ context.Context, subject domain.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = time.Now().UTC()
	}
	s.subjects[subject.ID] = subject
	return nil
}

func (s *MemoryStore) SaveChapter(_ context.Context, chapter domain.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chapter.CreatedAt.IsZero() {
		chapter.CreatedAt = time.Now().UTC()
	}
	s.chapters[chapter.ID] = chapter
	return nil
}

func (s *MemoryStore) GetSubject(_ context.Context, id string) (domain.Subject, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[id]
	return subject, ok, nil
}

func (s *MemoryStore) GetChapterOwner(_ context.Context, chapterID string) (domain.ChapterOwner, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chapter, ok := s.chapters[chapterID]
	if !ok {
		return domain.ChapterOwner{}, false, nil
	}
	subject, ok := s.subjects[chapter.SubjectID]
	if !ok {
		return domain.ChapterOwner{}, false, nil
	}
	return domain.ChapterOwner{ChapterID: chapter.ID, SubjectID: subject.ID, UserID: subject.UserID}, true, nil
}

func (s *MemoryStore) CreateChatMessage(_ context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = util.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Meta == nil {
		msg.Meta = map[string]any{}
	}
	s.chats[msg.ID] = msg
	s.mu.Unlock()
	s.emit([]domain.ChangeEvent{changeEvent(domain.TableChats, domain.ChangeInsert, msg.ChapterID, msg.ID, msg)})
	return msg, nil
}

func (s *MemoryStore) UpdateChatResponse(_ context.Context, chatID, response string, meta map[string]any) (bool, error) {
	s.mu.Lock()
	msg, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	msg.Response = &response
	msg.Meta = copyMap(meta)
	s.chats[chatID] = msg
	s.mu.Unlock()
	s.emit([]domain.ChangeEvent{changeEvent(domain.TableChats, domain.ChangeUpdate, msg.ChapterID, msg.ID, msg)})
	return true, nil
}

func (s *MemoryStore) ListChatMessages(_ context.Context, chapterID string) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]domain.ChatMessage, 0)
	for _, m := range s.chats {
		if m.ChapterID == chapterID {
			msgs = append(msgs, m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (s *MemoryStore) ListAnsweredHistory(ctx context.Context, chapterID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return []domain.HistoryEntry{}, nil
	}
	msgs, _ := s.ListChatMessages(ctx, chapterID)
	history := make([]domain.HistoryEntry, 0, limit)
	for _, m := range msgs {
		if m.Response == nil {
			continue
		}
		history = append(history, domain.HistoryEntry{Message: m.Message, Response: *m.Response, CreatedAt: m.CreatedAt})
		if len(history) == limit {
			break
		}
	}
	return history, nil
}

func (s *MemoryStore) DeleteChapterMessages(_ context.Context, chapterID string) error {
	s.mu.Lock()
	var events []domain.ChangeEvent
	for id, m := range s.chats {
		if m.ChapterID == chapterID {
			delete(s.chats, id)
			events = append(events, changeEvent(domain.TableChats, domain.ChangeDelete, chapterID, id, nil))
		}
	}
	s.mu.Unlock()
	s.emit(events)
	return nil
}

func (s *MemoryStore) CreateFile(_ context.Context, f domain.FileRecord) (domain.FileRecord, error) {
	s.mu.Lock()
	if f.ID == "" {
		f.ID = util.NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.files[f.ID] = f
	s.mu.Unlock()
	s.emit([]domain.ChangeEvent{changeEvent(domain.TableFiles, domain.ChangeInsert, f.ChapterID, f.ID, f)})
	return f, nil
}

func (s *MemoryStore) GetFile(_ context.Context, id string) (domain.FileRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	return f, ok, nil
}

func (s *MemoryStore) ListChapterFiles(_ context.Context, chapterID string) ([]domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make([]domain.FileRecord, 0)
	for _, f := range s.files {
		if f.ChapterID == chapterID {
			files = append(files, f)
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].CreatedAt.After(files[j].CreatedAt) })
	return files, nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, id string) error {
	s.mu.Lock()
	f, ok := s.files[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.files, id)
	s.mu.Unlock()
	s.emit([]domain.ChangeEvent{changeEvent(domain.TableFiles, domain.ChangeDelete, f.ChapterID, f.ID, nil)})
	return nil
}

func (s *MemoryStore) InsertFlashcards(_ context.Context, cards []domain.Flashcard) ([]domain.Flashcard, error) {
	s.mu.Lock()
	now := time.Now().UTC()
	out := make([]domain.Flashcard, 0, len(cards))
	events := make([]domain.ChangeEvent, 0, len(cards))
	for _, c := range cards {
		if c.ID == "" {
			c.ID = util.NewID()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		s.flashcards[c.ID] = c
		out = append(out, c)
		events = append(events, changeEvent(domain.TableFlashcards, domain.ChangeInsert, c.ChapterID, c.ID, c))
	}
	s.mu.Unlock()
	s.emit(events)
	return out, nil
}

func (s *MemoryStore) ListFlashcardsByChapter(_ context.Context, chapterID string) ([]domain.Flashcard, error) {
	return s.filterFlashcards(func(c domain.Flashcard) bool { return c.ChapterID == chapterID }), nil
}

func (s *MemoryStore) ListFlashcardsByFile(_ context.Context, fileID string) ([]domain.Flashcard, error) {
	return s.filterFlashcards(func(c domain.Flashcard) bool { return c.FileID == fileID }), nil
}

func (s *MemoryStore) filterFlashcards(match func(domain.Flashcard) bool) []domain.Flashcard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cards := make([]domain.Flashcard, 0)
	for _, c := range s.flashcards {
		if match(c) {
			cards = append(cards, c)
		}
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].FlashcardID < cards[j].FlashcardID
		}
		return cards[i].CreatedAt.Before(cards[j].CreatedAt)
	})
	return cards
}

func (s *MemoryStore) DeleteFlashcardsByFile(_ context.Context, fileID string) error {
	s.mu.Lock()
	var events []domain.ChangeEvent
	for id, c := range s.flashcards {
		if c.FileID == fileID {
			delete(s.flashcards, id)
			events = append(events, changeEvent(domain.TableFlashcards, domain.ChangeDelete, c.ChapterID, id, nil))
		}
	}
	s.mu.Unlock()
	s.emit(events)
	return nil
}

func (s *MemoryStore) LatestRateLimitWindow(_ context.Context, userID, endpoint string, since time.Time) (domain.RateLimitWindow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.RateLimitWindow
		found  bool
	)
	for _, w := range s.windows {
		if w.UserID != userID || w.Endpoint != endpoint || w.WindowStart.Before(since) {
			continue
		}
		if !found || w.WindowStart.After(latest.WindowStart) {
			latest = w
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) InsertRateLimitWindow(_ context.Context, w domain.RateLimitWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, w)
	return nil
}

func (s *MemoryStore) SetRateLimitCount(_ context.Context, userID, endpoint string, windowStart time.Time, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.windows {
		w := &s.windows[i]
		if w.UserID == userID && w.Endpoint == endpoint && w.WindowStart.Equal(windowStart) {
			w.RequestCount = count
		}
	}
	return nil
}

func (s *MemoryStore) AppendAuditEvent(_ context.Context, evt domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.ID == "" {
		evt.ID = util.NewID()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, evt)
	return nil
}

// AuditEvents returns a snapshot of the audit log in append order.
func (s *MemoryStore) AuditEvents() []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
