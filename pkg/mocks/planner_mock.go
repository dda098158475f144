package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/planner"
)

// MockPlanner is a mock implementation of planner.Planner interface.
type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context, definition planner.TaskDefinition, taskContext map[string]any) (*models.ExecutionPlan, error) {
	args := m.Called(ctx, definition, taskContext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionPlan), args.Error(1)
}
