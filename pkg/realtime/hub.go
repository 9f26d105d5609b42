package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"studyai/pkg/domain"
)

const defaultBuffer = 32

// Hub fans change events out to subscribers scoped by chapter.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

// Subscription receives the events of one chapter on C. C is closed when the
// subscription is closed or dropped for falling behind.
type Subscription struct {
	C         <-chan domain.ChangeEvent
	ch        chan domain.ChangeEvent
	chapterID string
	hub       *Hub
	once      sync.Once
	dropped   atomic.Bool
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a listener for chapterID.
func (h *Hub) Subscribe(chapterID string) *Subscription {
	ch := make(chan domain.ChangeEvent, h.buffer)
	sub := &Subscription{C: ch, ch: ch, chapterID: chapterID, hub: h}
	h.mu.Lock()
	set, ok := h.subs[chapterID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[chapterID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Dropped reports whether the hub closed the subscription because its buffer
// was full.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.chapterID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.chapterID)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Publish delivers evt to every subscriber of its chapter without blocking.
func (h *Hub) Publish(evt domain.ChangeEvent) {
	if evt.ChapterID == "" {
		return
	}
	var slow []*Subscription
	h.mu.RLock()
	for sub := range h.subs[evt.ChapterID] {
		select {
		case sub.ch <- evt:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range slow {
		sub.dropped.Store(true)
		h.remove(sub)
		h.logger.Warn("realtime subscriber dropped", "chapter_id", evt.ChapterID, "table", evt.Table)
	}
}

// PublishRaw decodes a JSON change event, as carried by a database
// notification, and publishes it.
func (h *Hub) PublishRaw(payload string) {
	var evt domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		h.logger.Warn("realtime payload invalid", "err", err)
		return
	}
	h.Publish(evt)
}

// Subscribers returns the number of listeners on chapterID.
func (h *Hub) Subscribers(chapterID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chapterID])
}
