package planner

import (
	"context"

	"github.com/taskmesh/taskmesh/pkg/models"
)

// StaticPlanner returns a fixed plan for every request. Used in tests and in
// offline mode where the plan shape is known ahead of time.
type StaticPlanner struct {
	Phases []*models.Phase
	Err    error
}

func (p *StaticPlanner) Plan(ctx context.Context, definition TaskDefinition, _ map[string]any) (*models.ExecutionPlan, error) {
	if p.Err != nil {
		return nil, p.Err
	}

	// Deep-copy so callers cannot mutate the template between tasks.
	phases := make([]*models.Phase, 0, len(p.Phases))

	for _, phase := range p.Phases {
		subtasks := make([]*models.Subtask, 0, len(phase.Subtasks))

		for _, subtask := range phase.Subtasks {
			copied := *subtask
			subtasks = append(subtasks, &copied)
		}

		phases = append(phases, &models.Phase{
			Name:     phase.Name,
			Parallel: phase.Parallel,
			Subtasks: subtasks,
		})
	}

	plan := &models.ExecutionPlan{Phases: phases}
	Normalize(plan, definition.TaskID)

	return plan, nil
}
