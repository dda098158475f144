// Package persistence provides the data storage abstraction consumed by the
// orchestration engine. Implementations supply their own concurrency control;
// the engine treats every operation as retryable-at-caller.
package persistence

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/pkg/models"
)

type Persistence interface {
	TaskRepository() TaskRepository
	ExecutionRepository() ExecutionRepository
	PausePointRepository() PausePointRepository
	ContextEntryRepository() ContextEntryRepository
	MessageRepository() MessageRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type TaskRepository interface {
	Save(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context) ([]*models.Task, error)
}

type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)

	// GetActiveByTask returns the task's single non-terminal execution, or
	// ErrExecutionNotFound when every execution is terminal.
	GetActiveByTask(ctx context.Context, taskID string) (*models.Execution, error)

	// ListByTask returns every execution for the task, oldest first.
	ListByTask(ctx context.Context, taskID string) ([]*models.Execution, error)

	// ListPaused returns every execution whose paused flag is set. Used by
	// startup recovery to find orphaned pauses.
	ListPaused(ctx context.Context) ([]*models.Execution, error)
}

type PausePointRepository interface {
	Save(ctx context.Context, pausePoint *models.PausePoint) error
	GetByID(ctx context.Context, id string) (*models.PausePoint, error)
	GetByToken(ctx context.Context, token string) (*models.PausePoint, error)
	ListUnresolvedByTask(ctx context.Context, taskID string) ([]*models.PausePoint, error)
	ListUnresolvedByExecution(ctx context.Context, executionID string) ([]*models.PausePoint, error)
}

type ContextEntryRepository interface {
	// Append persists an immutable audit entry. Entries are never updated
	// or deleted.
	Append(ctx context.Context, entry *models.ContextEntry) error
	ListByTask(ctx context.Context, taskID string) ([]*models.ContextEntry, error)

	// MaxSequence returns the highest sequence number recorded for the
	// task, or 0 when the task has no entries.
	MaxSequence(ctx context.Context, taskID string) (int64, error)
}

type MessageRepository interface {
	Save(ctx context.Context, message *models.AgentMessage) error
	GetByID(ctx context.Context, id string) (*models.AgentMessage, error)
	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error
	IncrementAttempts(ctx context.Context, id string) error
	ListUndelivered(ctx context.Context, limit int) ([]*models.AgentMessage, error)
}
