// Package models defines the core domain models for multi-agent task orchestration.
package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusPaused     TaskStatus = "paused"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskPriority orders tasks for operators; the engine itself does not schedule by it.
type TaskPriority string

const (
	TaskPriorityCritical TaskPriority = "critical"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityMedium   TaskPriority = "medium"
	TaskPriorityLow      TaskPriority = "low"
)

// Task is one long-running unit of business work tracked end-to-end.
// Status is mutated only through the orchestrator's defined transitions.
type Task struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"     validate:"required"`
	BusinessID string         `json:"business_id" validate:"required"`
	TemplateID string         `json:"template_id"`
	Status     TaskStatus     `json:"status"      validate:"required,oneof=pending in_progress paused completed failed"`
	Priority   TaskPriority   `json:"priority"    validate:"required,oneof=critical high medium low"`
	Deadline   *time.Time     `json:"deadline,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// PartialSuccess marks a completed task whose plan included a
	// permanently failed non-critical subtask.
	PartialSuccess bool `json:"partial_success,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the task can no longer change state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
