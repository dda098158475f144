package file

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

const messagesDir = "messages"

// MessageRepository handles agent message file operations.
type MessageRepository struct {
	root string
}

func (mr *MessageRepository) Save(ctx context.Context, message *models.AgentMessage) error {
	if err := validateID(message.ID); err != nil {
		return err
	}

	return writeRecord(mr.root, messagesDir, message.ID, message)
}

func (mr *MessageRepository) GetByID(ctx context.Context, id string) (*models.AgentMessage, error) {
	var message models.AgentMessage

	err := readRecord(mr.root, messagesDir, id, &message, persistence.ErrMessageNotFound)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

func (mr *MessageRepository) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	message, err := mr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	message.DeliveredAt = &deliveredAt

	return mr.Save(ctx, message)
}

func (mr *MessageRepository) IncrementAttempts(ctx context.Context, id string) error {
	message, err := mr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	message.DeliveryAttempts++

	return mr.Save(ctx, message)
}

func (mr *MessageRepository) ListUndelivered(ctx context.Context, limit int) ([]*models.AgentMessage, error) {
	var undelivered []*models.AgentMessage

	err := listRecords(mr.root, messagesDir, func(data []byte) error {
		var message models.AgentMessage

		err := json.Unmarshal(data, &message)
		if err != nil {
			return err
		}

		if message.DeliveredAt == nil {
			undelivered = append(undelivered, &message)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(undelivered, func(i, j int) bool {
		return undelivered[i].CreatedAt.Before(undelivered[j].CreatedAt)
	})

	if limit > 0 && len(undelivered) > limit {
		undelivered = undelivered[:limit]
	}

	return undelivered, nil
}
