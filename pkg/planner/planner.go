// Package planner defines the interface to the planning oracle and the
// defensive validation boundary its plans must cross before execution. The
// oracle is a black box: slow, possibly non-deterministic, and never trusted
// to return well-formed output.
package planner

import (
	"context"
	"errors"

	"github.com/taskmesh/taskmesh/pkg/models"
)

// Classifiable planning failures. Callers retry rate-limited and unavailable
// errors with backoff; malformed plans are terminal for the attempt.
var (
	ErrRateLimited   = errors.New("planning oracle rate limited")
	ErrUnavailable   = errors.New("planning oracle unavailable")
	ErrMalformedPlan = errors.New("planning oracle returned malformed plan")
)

// TaskDefinition is the planning request: what the task is, not how to do it.
type TaskDefinition struct {
	TaskID     string              `json:"task_id"`
	TemplateID string              `json:"template_id,omitempty"`
	Objective  string              `json:"objective"`
	Priority   models.TaskPriority `json:"priority,omitempty"`
	Roles      []string            `json:"roles"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
}

// Planner produces an execution plan for a task definition and context
// snapshot. Output is not repeatable for the same input.
type Planner interface {
	Plan(ctx context.Context, definition TaskDefinition, taskContext map[string]any) (*models.ExecutionPlan, error)
}

// IsRetryable reports whether a planning failure is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
