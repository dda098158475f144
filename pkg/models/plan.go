package models

import "time"

// ExecutionPlan is the ordered list of phases the planning oracle produced for
// a task. Plans are dynamic data, never compiled-in control flow, and must be
// validated before they reach the orchestrator.
type ExecutionPlan struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Phases    []*Phase  `json:"phases"  validate:"required,min=1,dive"`
	CreatedAt time.Time `json:"created_at"`
}

// Phase is an ordered group of subtasks, executed concurrently when Parallel
// is set, otherwise one at a time in list order.
type Phase struct {
	Name     string     `json:"name"     validate:"required"`
	Parallel bool       `json:"parallel"`
	Subtasks []*Subtask `json:"subtasks" validate:"required,min=1,dive"`
}

// Subtask is one unit of work assigned to a specific agent role.
type Subtask struct {
	ID              string         `json:"id"`
	Role            string         `json:"role"        validate:"required"`
	Instruction     string         `json:"instruction" validate:"required"`
	ExpectedOutput  string         `json:"expected_output,omitempty"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
}

// FindPhase returns the phase with the given name and its index in plan order.
func (p *ExecutionPlan) FindPhase(name string) (*Phase, int) {
	for i, phase := range p.Phases {
		if phase.Name == name {
			return phase, i
		}
	}

	return nil, -1
}

// FindSubtask returns the subtask with the given ID within the phase.
func (ph *Phase) FindSubtask(id string) *Subtask {
	for _, st := range ph.Subtasks {
		if st.ID == id {
			return st
		}
	}

	return nil
}
