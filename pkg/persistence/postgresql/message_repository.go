package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

// MessageRepository handles agent message database operations.
type MessageRepository struct {
	db *sql.DB
}

func (mr *MessageRepository) Save(ctx context.Context, message *models.AgentMessage) error {
	payloadJSON, err := json.Marshal(message.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	query := `
		INSERT INTO agent_messages (
			id, from_role, to_role, message_type, priority, correlation_id,
			task_id, payload, created_at, delivered_at, delivery_attempts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			delivered_at = EXCLUDED.delivered_at,
			delivery_attempts = EXCLUDED.delivery_attempts
	`

	_, err = mr.db.ExecContext(ctx, query,
		message.ID,
		message.From,
		message.To,
		message.Type,
		message.Priority,
		message.CorrelationID,
		message.TaskID,
		payloadJSON,
		message.CreatedAt,
		message.DeliveredAt,
		message.DeliveryAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to save agent message %s: %w", message.ID, err)
	}

	return nil
}

func (mr *MessageRepository) GetByID(ctx context.Context, id string) (*models.AgentMessage, error) {
	message, err := scanMessage(mr.db.QueryRowContext(ctx, messageSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrMessageNotFound
		}

		return nil, fmt.Errorf("failed to query agent message %s: %w", id, err)
	}

	return message, nil
}

func (mr *MessageRepository) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	result, err := mr.db.ExecContext(ctx,
		"UPDATE agent_messages SET delivered_at = $1 WHERE id = $2", deliveredAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark message %s delivered: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return persistence.ErrMessageNotFound
	}

	return nil
}

func (mr *MessageRepository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := mr.db.ExecContext(ctx,
		"UPDATE agent_messages SET delivery_attempts = delivery_attempts + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to increment attempts for message %s: %w", id, err)
	}

	return nil
}

func (mr *MessageRepository) ListUndelivered(ctx context.Context, limit int) ([]*models.AgentMessage, error) {
	query := messageSelect + ` WHERE delivered_at IS NULL ORDER BY created_at`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := mr.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.AgentMessage

	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}

		messages = append(messages, message)
	}

	return messages, rows.Err()
}

const messageSelect = `
	SELECT id, from_role, to_role, message_type, priority, correlation_id,
		   task_id, payload, created_at, delivered_at, delivery_attempts
	FROM agent_messages
`

func scanMessage(row rowScanner) (*models.AgentMessage, error) {
	var (
		message     models.AgentMessage
		payloadJSON []byte
	)

	err := row.Scan(
		&message.ID,
		&message.From,
		&message.To,
		&message.Type,
		&message.Priority,
		&message.CorrelationID,
		&message.TaskID,
		&payloadJSON,
		&message.CreatedAt,
		&message.DeliveredAt,
		&message.DeliveryAttempts,
	)
	if err != nil {
		return nil, err
	}

	if len(payloadJSON) > 0 && string(payloadJSON) != "null" {
		err = json.Unmarshal(payloadJSON, &message.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal message payload: %w", err)
		}
	}

	return &message, nil
}
