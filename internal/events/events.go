// Package events builds fan-out events for successful writes and hands them
// to the room registry.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/lifecycle"
	"github.com/google/uuid"
)

// Router delivers an event to a project's room and reports how many
// connections accepted it.
type Router interface {
	Broadcast(projectID string, event models.Event) int
}

// Publisher is called by write handlers only after the write succeeded.
// Delivery outcome never flows back to the caller.
type Publisher interface {
	Publish(projectID, eventType string, payload any) (models.Event, error)
}

type Config struct {
	Logger *slog.Logger
	Router Router
	Now    func() time.Time
}

type publisher struct {
	logger *slog.Logger
	router Router
	now    func() time.Time
}

func NewPublisher(config Config) Publisher {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &publisher{
		logger: config.Logger,
		router: config.Router,
		now:    config.Now,
	}
}

// Publish builds the event once and broadcasts it. The only error is a
// payload that cannot be encoded, in which case nothing is sent.
func (p *publisher) Publish(projectID, eventType string, payload any) (models.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Could not encode event payload", "project", projectID, "type", eventType, "error", err)
		return models.Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	event := models.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Room:       projectID,
		Payload:    data,
		OccurredAt: p.now().UTC(),
	}

	p.deliver(event)
	return event, nil
}

func (p *publisher) deliver(event models.Event) {
	defer lifecycle.Recover(p.logger, "publish", "project", event.Room, "type", event.Type)

	delivered := p.router.Broadcast(event.Room, event)
	p.logger.Debug("Event published", "id", event.ID, "project", event.Room, "type", event.Type, "delivered", delivered)
}

// Discard is a Publisher for contexts with no realtime layer attached.
type Discard struct{}

func (Discard) Publish(projectID, eventType string, payload any) (models.Event, error) {
	return models.Event{}, nil
}
