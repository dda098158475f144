package file

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func newTestTask() *models.Task {
	now := time.Now().UTC()

	return &models.Task{
		ID:         uuid.New().String(),
		UserID:     "user-1",
		BusinessID: "biz-1",
		Status:     models.TaskStatusPending,
		Priority:   models.TaskPriorityMedium,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestTaskRepository_SaveAndGet(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.TaskRepository()

	task := newTestTask()
	require.NoError(t, repo.Save(t.Context(), task))

	got, err := repo.GetByID(t.Context(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, models.TaskStatusPending, got.Status)

	task.Status = models.TaskStatusInProgress
	require.NoError(t, repo.Save(t.Context(), task))

	got, err = repo.GetByID(t.Context(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, got.Status)
}

func TestTaskRepository_GetByIDNotFound(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.TaskRepository().GetByID(t.Context(), uuid.New().String())
	require.ErrorIs(t, err, persistence.ErrTaskNotFound)
}

func TestTaskRepository_RejectsUnsafeIDs(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.TaskRepository().GetByID(t.Context(), "../escape")
	require.Error(t, err)
	assert.NotErrorIs(t, err, persistence.ErrTaskNotFound)
}

func TestExecutionRepository_ActiveByTask(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.ExecutionRepository()

	taskID := uuid.New().String()

	finished := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Status:    models.ExecutionStatusCompleted,
		StartedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, repo.Save(t.Context(), finished))

	_, err := repo.GetActiveByTask(t.Context(), taskID)
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	active := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Status:    models.ExecutionStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(t.Context(), active))

	got, err := repo.GetActiveByTask(t.Context(), taskID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)
}

func TestExecutionRepository_ListPaused(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.ExecutionRepository()

	pausedAt := time.Now().UTC()
	paused := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    uuid.New().String(),
		Status:    models.ExecutionStatusPaused,
		IsPaused:  true,
		PausedAt:  &pausedAt,
		StartedAt: time.Now().UTC(),
	}
	running := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    uuid.New().String(),
		Status:    models.ExecutionStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.Save(t.Context(), paused))
	require.NoError(t, repo.Save(t.Context(), running))

	got, err := repo.ListPaused(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, paused.ID, got[0].ID)
}

func TestExecutionRepository_ListByTask(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.ExecutionRepository()

	taskID := uuid.New().String()

	first := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Status:    models.ExecutionStatusFailed,
		StartedAt: time.Now().UTC().Add(-time.Hour),
	}
	second := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Status:    models.ExecutionStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	other := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    uuid.New().String(),
		Status:    models.ExecutionStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.Save(t.Context(), second))
	require.NoError(t, repo.Save(t.Context(), first))
	require.NoError(t, repo.Save(t.Context(), other))

	got, err := repo.ListByTask(t.Context(), taskID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}

func TestPausePointRepository_TokenLookup(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.PausePointRepository()

	pausePoint := &models.PausePoint{
		ID:          uuid.New().String(),
		TaskID:      uuid.New().String(),
		ExecutionID: uuid.New().String(),
		Type:        models.PauseTypeUserApproval,
		ResumeToken: "tok-abc123",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.Save(t.Context(), pausePoint))

	got, err := repo.GetByToken(t.Context(), "tok-abc123")
	require.NoError(t, err)
	assert.Equal(t, pausePoint.ID, got.ID)

	_, err = repo.GetByToken(t.Context(), "tok-unknown")
	require.ErrorIs(t, err, persistence.ErrPausePointNotFound)

	_, err = repo.GetByToken(t.Context(), "")
	require.ErrorIs(t, err, persistence.ErrPausePointNotFound)
}

func TestPausePointRepository_Unresolved(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.PausePointRepository()

	taskID := uuid.New().String()
	executionID := uuid.New().String()

	open := &models.PausePoint{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		ExecutionID: executionID,
		Type:        models.PauseTypePayment,
		ResumeToken: "tok-open",
		CreatedAt:   time.Now().UTC(),
	}
	resolvedAt := time.Now().UTC()
	resolved := &models.PausePoint{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		ExecutionID: executionID,
		Type:        models.PauseTypeUserApproval,
		ResumeToken: "tok-done",
		Resumed:     true,
		ResumedAt:   &resolvedAt,
		CreatedAt:   time.Now().UTC(),
	}

	require.NoError(t, repo.Save(t.Context(), open))
	require.NoError(t, repo.Save(t.Context(), resolved))

	byTask, err := repo.ListUnresolvedByTask(t.Context(), taskID)
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, open.ID, byTask[0].ID)

	byExecution, err := repo.ListUnresolvedByExecution(t.Context(), executionID)
	require.NoError(t, err)
	require.Len(t, byExecution, 1)
	assert.Equal(t, open.ID, byExecution[0].ID)
}

func TestContextEntryRepository_AppendAndList(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.ContextEntryRepository()

	taskID := uuid.New().String()

	for i := int64(1); i <= 3; i++ {
		entry := &models.ContextEntry{
			ID:        uuid.New().String(),
			TaskID:    taskID,
			Sequence:  i,
			Actor:     models.SystemActor,
			Operation: "test_op",
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, repo.Append(t.Context(), entry))
	}

	entries, err := repo.ListByTask(t.Context(), taskID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Sequence)
	}

	maxSeq, err := repo.MaxSequence(t.Context(), taskID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxSeq)
}

func TestContextEntryRepository_DuplicateSequence(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.ContextEntryRepository()

	taskID := uuid.New().String()
	entry := &models.ContextEntry{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Sequence:  1,
		Actor:     models.SystemActor,
		Operation: "test_op",
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.Append(t.Context(), entry))

	duplicate := *entry
	duplicate.ID = uuid.New().String()
	require.ErrorIs(t, repo.Append(t.Context(), &duplicate), persistence.ErrDuplicateSequence)
}

func TestMessageRepository_DeliveryLifecycle(t *testing.T) {
	p := newTestPersistence(t)
	repo := p.MessageRepository()

	message := &models.AgentMessage{
		ID:        uuid.New().String(),
		From:      "planner",
		To:        "forms",
		Type:      models.MessageTypeRequest,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(t.Context(), message))

	undelivered, err := repo.ListUndelivered(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, undelivered, 1)

	require.NoError(t, repo.IncrementAttempts(t.Context(), message.ID))
	require.NoError(t, repo.MarkDelivered(t.Context(), message.ID, time.Now().UTC()))

	undelivered, err = repo.ListUndelivered(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, undelivered)

	got, err := repo.GetByID(t.Context(), message.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DeliveryAttempts)
	assert.NotNil(t, got.DeliveredAt)
}

func TestHealthCheck(t *testing.T) {
	p := newTestPersistence(t)
	require.NoError(t, p.HealthCheck(t.Context()))
	require.NoError(t, p.Close(t.Context()))

	missing := NewPersistence("/nonexistent/taskmesh-test")
	require.Error(t, missing.HealthCheck(t.Context()))
}
