package file

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

const tasksDir = "tasks"

// TaskRepository handles task-related file operations.
type TaskRepository struct {
	root string
}

func (tr *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	if err := validateID(task.ID); err != nil {
		return persistence.NewTaskError("Save", task.ID, err)
	}

	err := writeRecord(tr.root, tasksDir, task.ID, task)
	if err != nil {
		return persistence.NewTaskError("Save", task.ID, err)
	}

	return nil
}

func (tr *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task

	err := readRecord(tr.root, tasksDir, id, &task, persistence.ErrTaskNotFound)
	if err != nil {
		return nil, err
	}

	return &task, nil
}

func (tr *TaskRepository) List(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task

	err := listRecords(tr.root, tasksDir, func(data []byte) error {
		var task models.Task

		err := json.Unmarshal(data, &task)
		if err != nil {
			return err
		}

		tasks = append(tasks, &task)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}
