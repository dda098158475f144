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

// PausePointRepository handles pause point database operations.
type PausePointRepository struct {
	db *sql.DB
}

func (pr *PausePointRepository) Save(ctx context.Context, pausePoint *models.PausePoint) error {
	requiredDataJSON, err := json.Marshal(pausePoint.RequiredData)
	if err != nil {
		return fmt.Errorf("failed to marshal required data: %w", err)
	}

	resumeDataJSON, err := json.Marshal(pausePoint.ResumeData)
	if err != nil {
		return fmt.Errorf("failed to marshal resume data: %w", err)
	}

	query := `
		INSERT INTO pause_points (
			id, task_id, execution_id, pause_type, reason, required_action,
			required_data, phase_name, subtask_id, resume_token, expires_at,
			resumed, resumed_at, resume_data, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			resumed = EXCLUDED.resumed,
			resumed_at = EXCLUDED.resumed_at,
			resume_data = EXCLUDED.resume_data
	`

	_, err = pr.db.ExecContext(ctx, query,
		pausePoint.ID,
		pausePoint.TaskID,
		pausePoint.ExecutionID,
		pausePoint.Type,
		pausePoint.Reason,
		pausePoint.RequiredAction,
		requiredDataJSON,
		pausePoint.PhaseName,
		pausePoint.SubtaskID,
		pausePoint.ResumeToken,
		pausePoint.ExpiresAt,
		pausePoint.Resumed,
		pausePoint.ResumedAt,
		resumeDataJSON,
		pausePoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pause point %s: %w", pausePoint.ID, err)
	}

	return nil
}

func (pr *PausePointRepository) GetByID(ctx context.Context, id string) (*models.PausePoint, error) {
	return pr.getOne(ctx, pausePointSelect+` WHERE id = $1`, id)
}

func (pr *PausePointRepository) GetByToken(ctx context.Context, token string) (*models.PausePoint, error) {
	return pr.getOne(ctx, pausePointSelect+` WHERE resume_token = $1`, token)
}

func (pr *PausePointRepository) ListUnresolvedByTask(ctx context.Context, taskID string) ([]*models.PausePoint, error) {
	return pr.list(ctx, pausePointSelect+` WHERE task_id = $1 AND resumed = FALSE`, taskID)
}

func (pr *PausePointRepository) ListUnresolvedByExecution(ctx context.Context, executionID string) ([]*models.PausePoint, error) {
	return pr.list(ctx, pausePointSelect+` WHERE execution_id = $1 AND resumed = FALSE`, executionID)
}

func (pr *PausePointRepository) getOne(ctx context.Context, query string, arg any) (*models.PausePoint, error) {
	pausePoint, err := scanPausePoint(pr.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrPausePointNotFound
		}

		return nil, fmt.Errorf("failed to query pause point: %w", err)
	}

	return pausePoint, nil
}

func (pr *PausePointRepository) list(ctx context.Context, query string, arg any) ([]*models.PausePoint, error) {
	rows, err := pr.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list pause points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pausePoints []*models.PausePoint

	for rows.Next() {
		pausePoint, err := scanPausePoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pause point row: %w", err)
		}

		pausePoints = append(pausePoints, pausePoint)
	}

	return pausePoints, rows.Err()
}

const pausePointSelect = `
	SELECT id, task_id, execution_id, pause_type, reason, required_action,
		   required_data, phase_name, subtask_id, resume_token, expires_at,
		   resumed, resumed_at, resume_data, created_at
	FROM pause_points
`

func scanPausePoint(row rowScanner) (*models.PausePoint, error) {
	var (
		pausePoint       models.PausePoint
		requiredDataJSON []byte
		resumeDataJSON   []byte
	)

	err := row.Scan(
		&pausePoint.ID,
		&pausePoint.TaskID,
		&pausePoint.ExecutionID,
		&pausePoint.Type,
		&pausePoint.Reason,
		&pausePoint.RequiredAction,
		&requiredDataJSON,
		&pausePoint.PhaseName,
		&pausePoint.SubtaskID,
		&pausePoint.ResumeToken,
		&pausePoint.ExpiresAt,
		&pausePoint.Resumed,
		&pausePoint.ResumedAt,
		&resumeDataJSON,
		&pausePoint.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(requiredDataJSON) > 0 && string(requiredDataJSON) != "null" {
		err = json.Unmarshal(requiredDataJSON, &pausePoint.RequiredData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal required data: %w", err)
		}
	}

	if len(resumeDataJSON) > 0 && string(resumeDataJSON) != "null" {
		err = json.Unmarshal(resumeDataJSON, &pausePoint.ResumeData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal resume data: %w", err)
		}
	}

	return &pausePoint, nil
}
