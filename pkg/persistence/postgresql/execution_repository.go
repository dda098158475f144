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

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db *sql.DB
}

func (er *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	planJSON, err := json.Marshal(execution.Plan)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal plan: %w", err))
	}

	completedJSON, err := json.Marshal(execution.CompletedSteps)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal completed steps: %w", err))
	}

	assignmentsJSON, err := json.Marshal(execution.Assignments)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal assignments: %w", err))
	}

	variablesJSON, err := json.Marshal(execution.Variables)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal variables: %w", err))
	}

	query := `
		INSERT INTO executions (
			id, task_id, plan, current_step, completed_steps, assignments,
			variables, status, is_paused, paused_at, pause_reason,
			started_at, ended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			plan = EXCLUDED.plan,
			current_step = EXCLUDED.current_step,
			completed_steps = EXCLUDED.completed_steps,
			assignments = EXCLUDED.assignments,
			variables = EXCLUDED.variables,
			status = EXCLUDED.status,
			is_paused = EXCLUDED.is_paused,
			paused_at = EXCLUDED.paused_at,
			pause_reason = EXCLUDED.pause_reason,
			ended_at = EXCLUDED.ended_at
	`

	_, err = er.db.ExecContext(ctx, query,
		execution.ID,
		execution.TaskID,
		planJSON,
		execution.CurrentStep,
		completedJSON,
		assignmentsJSON,
		variablesJSON,
		execution.Status,
		execution.IsPaused,
		execution.PausedAt,
		execution.PauseReason,
		execution.StartedAt,
		execution.EndedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := executionSelect + ` WHERE id = $1`

	execution, err := scanExecution(er.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) GetActiveByTask(ctx context.Context, taskID string) (*models.Execution, error) {
	query := executionSelect + `
		WHERE task_id = $1 AND status IN ('running', 'paused')
		ORDER BY started_at DESC
		LIMIT 1
	`

	execution, err := scanExecution(er.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetActiveByTask", taskID, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ListByTask(ctx context.Context, taskID string) ([]*models.Execution, error) {
	query := executionSelect + ` WHERE task_id = $1 ORDER BY started_at ASC`

	rows, err := er.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for task %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (er *ExecutionRepository) ListPaused(ctx context.Context) ([]*models.Execution, error) {
	query := executionSelect + ` WHERE is_paused = TRUE`

	rows, err := er.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list paused executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

const executionSelect = `
	SELECT id, task_id, plan, current_step, completed_steps, assignments,
		   variables, status, is_paused, paused_at, pause_reason,
		   started_at, ended_at
	FROM executions
`

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution       models.Execution
		planJSON        []byte
		completedJSON   []byte
		assignmentsJSON []byte
		variablesJSON   []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.TaskID,
		&planJSON,
		&execution.CurrentStep,
		&completedJSON,
		&assignmentsJSON,
		&variablesJSON,
		&execution.Status,
		&execution.IsPaused,
		&execution.PausedAt,
		&execution.PauseReason,
		&execution.StartedAt,
		&execution.EndedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		data []byte
		out  any
	}{
		{planJSON, &execution.Plan},
		{completedJSON, &execution.CompletedSteps},
		{assignmentsJSON, &execution.Assignments},
		{variablesJSON, &execution.Variables},
	} {
		if len(field.data) == 0 || string(field.data) == "null" {
			continue
		}

		err = json.Unmarshal(field.data, field.out)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution field: %w", err)
		}
	}

	return &execution, nil
}
