package models

import "time"

// ExecutionStatus represents the lifecycle state of one attempt at running a
// task's plan.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// AssignmentStatus tracks one subtask assignment inside an execution.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentFailed    AssignmentStatus = "failed"
	AssignmentPaused    AssignmentStatus = "paused"
)

// Assignment records the state of one subtask dispatched to an agent role.
type Assignment struct {
	Role        string           `json:"role"`
	Status      AssignmentStatus `json:"status"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Execution is one attempt at running a task's plan. A task has at most one
// non-terminal execution at a time; resuming a paused task continues the same
// execution record.
type Execution struct {
	ID     string         `json:"id"`
	TaskID string         `json:"task_id" validate:"required"`
	Plan   *ExecutionPlan `json:"plan,omitempty"`

	CurrentStep    string   `json:"current_step"`
	CompletedSteps []string `json:"completed_steps"`

	// Assignments is keyed by subtask ID and records each dispatched
	// subtask's role and resolution.
	Assignments map[string]*Assignment `json:"assignments"`

	// Variables is the accumulated context bag; subtask outputs merge here.
	Variables map[string]any `json:"variables"`

	Status      ExecutionStatus `json:"status" validate:"required,oneof=running paused completed failed"`
	IsPaused    bool            `json:"is_paused"`
	PausedAt    *time.Time      `json:"paused_at,omitempty"`
	PauseReason string          `json:"pause_reason,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Assignment returns the assignment for a subtask, creating a pending one if
// none exists yet.
func (e *Execution) Assignment(subtaskID, role string) *Assignment {
	if e.Assignments == nil {
		e.Assignments = make(map[string]*Assignment)
	}

	a, ok := e.Assignments[subtaskID]
	if !ok {
		a = &Assignment{Role: role, Status: AssignmentPending}
		e.Assignments[subtaskID] = a
	}

	return a
}

// MergeVariables merges subtask output into the execution's variable bag.
func (e *Execution) MergeVariables(output map[string]any) {
	if e.Variables == nil {
		e.Variables = make(map[string]any)
	}

	for k, v := range output {
		e.Variables[k] = v
	}
}
