package repo

import (
	"context"
	"fmt"

	"github.com/collabmate/collabmate/db/models"
	"github.com/google/uuid"
)

// Message keys embed the creation time so a prefix scan yields the
// conversation in order.
func messageKey(m *models.Message) string {
	return key(projectMessagePrefix, m.Project, fmt.Sprintf("%020d", m.CreatedAt.UnixNano()), m.ID)
}

func (r *Repo) CreateMessage(ctx context.Context, projectID, senderID, content string) (*models.Message, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}

	message := &models.Message{
		ID:        uuid.NewString(),
		Project:   projectID,
		Sender:    senderID,
		Content:   content,
		CreatedAt: r.timestamp(),
	}
	if err := putJSON(kv, messageKey(message), message); err != nil {
		return nil, err
	}
	return message, nil
}

// ListMessages returns a project's messages, oldest first.
func (r *Repo) ListMessages(ctx context.Context, projectID string) ([]*models.Message, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}
	return scanJSON[models.Message](kv, key(projectMessagePrefix, projectID)+":")
}
