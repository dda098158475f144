package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

// MockTaskRepository is a mock implementation of persistence.TaskRepository interface.
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Save(ctx context.Context, task *models.Task) error {
	args := m.Called(ctx, task)

	return args.Error(0)
}

func (m *MockTaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *MockTaskRepository) List(ctx context.Context) ([]*models.Task, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Task), args.Error(1)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) GetActiveByTask(ctx context.Context, taskID string) (*models.Execution, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) ListByTask(ctx context.Context, taskID string) ([]*models.Execution, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) ListPaused(ctx context.Context) ([]*models.Execution, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

// MockPausePointRepository is a mock implementation of persistence.PausePointRepository interface.
type MockPausePointRepository struct {
	mock.Mock
}

func (m *MockPausePointRepository) Save(ctx context.Context, pausePoint *models.PausePoint) error {
	args := m.Called(ctx, pausePoint)

	return args.Error(0)
}

func (m *MockPausePointRepository) GetByID(ctx context.Context, id string) (*models.PausePoint, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.PausePoint), args.Error(1)
}

func (m *MockPausePointRepository) GetByToken(ctx context.Context, token string) (*models.PausePoint, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.PausePoint), args.Error(1)
}

func (m *MockPausePointRepository) ListUnresolvedByTask(ctx context.Context, taskID string) ([]*models.PausePoint, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.PausePoint), args.Error(1)
}

func (m *MockPausePointRepository) ListUnresolvedByExecution(ctx context.Context, executionID string) ([]*models.PausePoint, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.PausePoint), args.Error(1)
}

// MockContextEntryRepository is a mock implementation of persistence.ContextEntryRepository interface.
type MockContextEntryRepository struct {
	mock.Mock
}

func (m *MockContextEntryRepository) Append(ctx context.Context, entry *models.ContextEntry) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockContextEntryRepository) ListByTask(ctx context.Context, taskID string) ([]*models.ContextEntry, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ContextEntry), args.Error(1)
}

func (m *MockContextEntryRepository) MaxSequence(ctx context.Context, taskID string) (int64, error) {
	args := m.Called(ctx, taskID)

	return args.Get(0).(int64), args.Error(1)
}

// MockMessageRepository is a mock implementation of persistence.MessageRepository interface.
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(ctx context.Context, message *models.AgentMessage) error {
	args := m.Called(ctx, message)

	return args.Error(0)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id string) (*models.AgentMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.AgentMessage), args.Error(1)
}

func (m *MockMessageRepository) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	args := m.Called(ctx, id, deliveredAt)

	return args.Error(0)
}

func (m *MockMessageRepository) IncrementAttempts(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockMessageRepository) ListUndelivered(ctx context.Context, limit int) ([]*models.AgentMessage, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AgentMessage), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	taskRepo         *MockTaskRepository
	executionRepo    *MockExecutionRepository
	pausePointRepo   *MockPausePointRepository
	contextEntryRepo *MockContextEntryRepository
	messageRepo      *MockMessageRepository
}

// NewMockPersistence creates a new MockPersistence with all mock repositories.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		taskRepo:         &MockTaskRepository{},
		executionRepo:    &MockExecutionRepository{},
		pausePointRepo:   &MockPausePointRepository{},
		contextEntryRepo: &MockContextEntryRepository{},
		messageRepo:      &MockMessageRepository{},
	}
}

// GetMockTaskRepository returns the underlying mock task repository for setting up expectations.
func (m *MockPersistence) GetMockTaskRepository() *MockTaskRepository {
	return m.taskRepo
}

func (m *MockPersistence) GetMockExecutionRepository() *MockExecutionRepository {
	return m.executionRepo
}

func (m *MockPersistence) GetMockPausePointRepository() *MockPausePointRepository {
	return m.pausePointRepo
}

func (m *MockPersistence) GetMockContextEntryRepository() *MockContextEntryRepository {
	return m.contextEntryRepo
}

func (m *MockPersistence) GetMockMessageRepository() *MockMessageRepository {
	return m.messageRepo
}

func (m *MockPersistence) TaskRepository() persistence.TaskRepository {
	return m.taskRepo
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.executionRepo
}

func (m *MockPersistence) PausePointRepository() persistence.PausePointRepository {
	return m.pausePointRepo
}

func (m *MockPersistence) ContextEntryRepository() persistence.ContextEntryRepository {
	return m.contextEntryRepo
}

func (m *MockPersistence) MessageRepository() persistence.MessageRepository {
	return m.messageRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
