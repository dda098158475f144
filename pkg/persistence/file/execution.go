package file

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	root string
}

func (er *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	err := writeRecord(er.root, executionsDir, execution.ID, execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	var execution models.Execution

	err := readRecord(er.root, executionsDir, id, &execution, persistence.ErrExecutionNotFound)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func (er *ExecutionRepository) GetActiveByTask(ctx context.Context, taskID string) (*models.Execution, error) {
	var active *models.Execution

	err := er.scan(func(execution *models.Execution) {
		if execution.TaskID != taskID {
			return
		}

		if execution.Status == models.ExecutionStatusRunning || execution.Status == models.ExecutionStatusPaused {
			active = execution
		}
	})
	if err != nil {
		return nil, err
	}

	if active == nil {
		return nil, persistence.ErrExecutionNotFound
	}

	return active, nil
}

func (er *ExecutionRepository) ListByTask(ctx context.Context, taskID string) ([]*models.Execution, error) {
	var executions []*models.Execution

	err := er.scan(func(execution *models.Execution) {
		if execution.TaskID == taskID {
			executions = append(executions, execution)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) ListPaused(ctx context.Context) ([]*models.Execution, error) {
	var paused []*models.Execution

	err := er.scan(func(execution *models.Execution) {
		if execution.IsPaused {
			paused = append(paused, execution)
		}
	})
	if err != nil {
		return nil, err
	}

	return paused, nil
}

func (er *ExecutionRepository) scan(visit func(*models.Execution)) error {
	return listRecords(er.root, executionsDir, func(data []byte) error {
		var execution models.Execution

		err := json.Unmarshal(data, &execution)
		if err != nil {
			return err
		}

		visit(&execution)

		return nil
	})
}
