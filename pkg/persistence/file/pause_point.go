package file

import (
	"context"
	"encoding/json"

	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

const pausePointsDir = "pause_points"

// PausePointRepository handles pause point file operations.
type PausePointRepository struct {
	root string
}

func (pr *PausePointRepository) Save(ctx context.Context, pausePoint *models.PausePoint) error {
	if err := validateID(pausePoint.ID); err != nil {
		return err
	}

	return writeRecord(pr.root, pausePointsDir, pausePoint.ID, pausePoint)
}

func (pr *PausePointRepository) GetByID(ctx context.Context, id string) (*models.PausePoint, error) {
	var pausePoint models.PausePoint

	err := readRecord(pr.root, pausePointsDir, id, &pausePoint, persistence.ErrPausePointNotFound)
	if err != nil {
		return nil, err
	}

	return &pausePoint, nil
}

func (pr *PausePointRepository) GetByToken(ctx context.Context, token string) (*models.PausePoint, error) {
	if token == "" {
		return nil, persistence.ErrPausePointNotFound
	}

	var found *models.PausePoint

	err := pr.scan(func(pausePoint *models.PausePoint) {
		if pausePoint.ResumeToken == token {
			found = pausePoint
		}
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.ErrPausePointNotFound
	}

	return found, nil
}

func (pr *PausePointRepository) ListUnresolvedByTask(ctx context.Context, taskID string) ([]*models.PausePoint, error) {
	var unresolved []*models.PausePoint

	err := pr.scan(func(pausePoint *models.PausePoint) {
		if pausePoint.TaskID == taskID && !pausePoint.Resumed {
			unresolved = append(unresolved, pausePoint)
		}
	})
	if err != nil {
		return nil, err
	}

	return unresolved, nil
}

func (pr *PausePointRepository) ListUnresolvedByExecution(ctx context.Context, executionID string) ([]*models.PausePoint, error) {
	var unresolved []*models.PausePoint

	err := pr.scan(func(pausePoint *models.PausePoint) {
		if pausePoint.ExecutionID == executionID && !pausePoint.Resumed {
			unresolved = append(unresolved, pausePoint)
		}
	})
	if err != nil {
		return nil, err
	}

	return unresolved, nil
}

func (pr *PausePointRepository) scan(visit func(*models.PausePoint)) error {
	return listRecords(pr.root, pausePointsDir, func(data []byte) error {
		var pausePoint models.PausePoint

		err := json.Unmarshal(data, &pausePoint)
		if err != nil {
			return err
		}

		visit(&pausePoint)

		return nil
	})
}
