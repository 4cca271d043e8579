package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/collabmate/collabmate/db/models"
)

// recordingRouter captures broadcast events.
type recordingRouter struct {
	mu     sync.Mutex
	events []models.Event
	panics bool
}

func (r *recordingRouter) Broadcast(projectID string, event models.Event) int {
	if r.panics {
		panic("subscriber exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return 1
}

func (r *recordingRouter) published() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublish(t *testing.T) {
	router := &recordingRouter{}
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	pub := NewPublisher(Config{
		Logger: discardLogger(),
		Router: router,
		Now:    func() time.Time { return fixed },
	})

	payload := models.MessagePayload{ID: "m1", Project: "p1", Sender: "u1", Content: "hi"}
	event, err := pub.Publish("p1", models.EventNewMessage, payload)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := router.published()
	if len(got) != 1 {
		t.Fatalf("expected 1 event routed, got %d", len(got))
	}
	if got[0].ID != event.ID || event.ID == "" {
		t.Errorf("routed event id = %q, returned id = %q", got[0].ID, event.ID)
	}
	if got[0].Room != "p1" || got[0].Type != models.EventNewMessage {
		t.Errorf("routed event = %+v", got[0])
	}
	if !got[0].OccurredAt.Equal(fixed) || got[0].OccurredAt.Location() != time.UTC {
		t.Errorf("OccurredAt = %v, want %v in UTC", got[0].OccurredAt, fixed)
	}

	var decoded models.MessagePayload
	if err := json.Unmarshal(got[0].Payload, &decoded); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if decoded.Content != "hi" {
		t.Errorf("payload content = %q, want hi", decoded.Content)
	}
}

func TestPublish_UnencodablePayload(t *testing.T) {
	router := &recordingRouter{}
	pub := NewPublisher(Config{Logger: discardLogger(), Router: router})

	_, err := pub.Publish("p1", "weird", make(chan int))
	if err == nil {
		t.Fatal("Publish() expected an error for an unencodable payload")
	}
	if len(router.published()) != 0 {
		t.Errorf("nothing should be routed when the payload cannot be encoded")
	}
}

func TestPublish_RouterPanicDoesNotEscape(t *testing.T) {
	pub := NewPublisher(Config{Logger: discardLogger(), Router: &recordingRouter{panics: true}})

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped Publish: %v", r)
		}
	}()
	if _, err := pub.Publish("p1", models.EventTaskCreated, map[string]string{"a": "b"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}
