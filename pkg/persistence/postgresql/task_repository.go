package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

// TaskRepository handles task-related database operations.
type TaskRepository struct {
	db *sql.DB
}

func (tr *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	metadataJSON, err := json.Marshal(task.Metadata)
	if err != nil {
		return persistence.NewTaskError("Save", task.ID, fmt.Errorf("failed to marshal metadata: %w", err))
	}

	query := `
		INSERT INTO tasks (
			id, user_id, business_id, template_id, status, priority,
			deadline, metadata, partial_success, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			deadline = EXCLUDED.deadline,
			metadata = EXCLUDED.metadata,
			partial_success = EXCLUDED.partial_success,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tr.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.BusinessID,
		task.TemplateID,
		task.Status,
		task.Priority,
		task.Deadline,
		metadataJSON,
		task.PartialSuccess,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return persistence.NewTaskError("Save", task.ID, err)
	}

	return nil
}

func (tr *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT id, user_id, business_id, template_id, status, priority,
			   deadline, metadata, partial_success, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`

	task, err := scanTask(tr.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, persistence.NewTaskError("GetByID", id, err)
	}

	return task, nil
}

func (tr *TaskRepository) List(ctx context.Context) ([]*models.Task, error) {
	query := `
		SELECT id, user_id, business_id, template_id, status, priority,
			   deadline, metadata, partial_success, created_at, updated_at
		FROM tasks
		ORDER BY created_at
	`

	rows, err := tr.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}

		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task         models.Task
		metadataJSON []byte
	)

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.BusinessID,
		&task.TemplateID,
		&task.Status,
		&task.Priority,
		&task.Deadline,
		&metadataJSON,
		&task.PartialSuccess,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		err = json.Unmarshal(metadataJSON, &task.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &task, nil
}
