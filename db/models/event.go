package models

import (
	"encoding/json"
	"time"
)

// Event types pushed to project rooms.
const (
	EventNewMessage     = "newMessage"
	EventTaskCreated    = "taskCreated"
	EventTaskUpdated    = "taskUpdated"
	EventTaskDeleted    = "taskDeleted"
	EventExpenseCreated = "expenseCreated"
	EventExpenseUpdated = "expenseUpdated"
	EventExpenseDeleted = "expenseDeleted"
	EventProjectUpdated = "projectUpdated"
	EventProjectDeleted = "projectDeleted"
)

// Event is a fan-out event. It is never persisted.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Room       string          `json:"room"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// MessagePayload is the payload of a newMessage event.
type MessagePayload struct {
	ID        string    `json:"_id"`
	Project   string    `json:"project"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeletedPayload is the payload of the *Deleted events.
type DeletedPayload struct {
	ID      string `json:"_id"`
	Project string `json:"project"`
}
