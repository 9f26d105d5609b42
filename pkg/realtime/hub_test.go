package realtime

import (
	"testing"
	"time"

	"studyai/pkg/domain"
)

func TestHubScopesByChapter(t *testing.T) {
	hub := NewHub(4, nil)
	a := hub.Subscribe("chapter-a")
	defer a.Close()
	b := hub.Subscribe("chapter-b")
	defer b.Close()

	hub.Publish(domain.ChangeEvent{Table: domain.TableChats, Type: domain.ChangeInsert, ChapterID: "chapter-a", RecordID: "c1"})

	select {
	case evt := <-a.C:
		if evt.RecordID != "c1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event on chapter-a")
	}
	select {
	case evt := <-b.C:
		t.Fatalf("unexpected event on chapter-b: %+v", evt)
	default:
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1, nil)
	slow := hub.Subscribe("chapter-a")
	evt := domain.ChangeEvent{Table: domain.TableFiles, Type: domain.ChangeInsert, ChapterID: "chapter-a"}

	hub.Publish(evt)
	hub.Publish(evt)

	if !slow.Dropped() {
		t.Fatalf("expected slow subscriber dropped")
	}
	if hub.Subscribers("chapter-a") != 0 {
		t.Fatalf("expected no subscribers left")
	}
	if _, ok := <-slow.C; !ok {
		t.Fatalf("expected buffered event before close")
	}
	if _, ok := <-slow.C; ok {
		t.Fatalf("expected channel closed")
	}
	slow.Close()
}

func TestHubPublishRaw(t *testing.T) {
	hub := NewHub(2, nil)
	sub := hub.Subscribe("chapter-a")
	defer sub.Close()

	hub.PublishRaw(`not json`)
	hub.PublishRaw(`{"table":"flashcards","type":"DELETE","chapter_id":"chapter-a","record_id":"f1","at":"2024-01-01T00:00:00Z"}`)

	select {
	case evt := <-sub.C:
		if evt.Type != domain.ChangeDelete || evt.Table != domain.TableFlashcards || evt.RecordID != "f1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected decoded event")
	}
}

func TestHubIgnoresUnscopedEvents(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.Subscribe("")
	defer sub.Close()
	hub.Publish(domain.ChangeEvent{Table: domain.TableChats})
	select {
	case evt := <-sub.C:
		t.Fatalf("unexpected event: %+v", evt)
	default:
	}
}
