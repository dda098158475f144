package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
	"github.com/taskmesh/taskmesh/pkg/persistence/postgresql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"agent_messages", "context_entries", "pause_points", "executions", "tasks", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("taskmesh_test"),
			postgres.WithUsername("taskmesh"),
			postgres.WithPassword("taskmesh"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func saveTask(ctx context.Context, t *testing.T, store *postgresql.Persistence) *models.Task {
	t.Helper()

	now := time.Now().UTC()
	task := &models.Task{
		ID:         uuid.New().String(),
		UserID:     "user-1",
		BusinessID: "biz-1",
		TemplateID: "onboarding",
		Status:     models.TaskStatusPending,
		Priority:   models.TaskPriorityHigh,
		Metadata:   map[string]any{"objective": "register the new entity"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := store.TaskRepository().Save(ctx, task)
	require.NoError(t, err)

	return task
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	for _, table := range []string{"tasks", "executions", "pause_points", "context_entries", "agent_messages", "schema_migrations"} {
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	err := store.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestNewPersistence_SaveAndRetrieveTask(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	task := saveTask(ctx, t, store)

	retrieved, err := store.TaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)

	assert.Equal(t, task.ID, retrieved.ID)
	assert.Equal(t, task.UserID, retrieved.UserID)
	assert.Equal(t, task.BusinessID, retrieved.BusinessID)
	assert.Equal(t, task.Status, retrieved.Status)
	assert.Equal(t, task.Priority, retrieved.Priority)
	assert.Equal(t, "register the new entity", retrieved.Metadata["objective"])

	task.Status = models.TaskStatusCompleted
	task.PartialSuccess = true
	task.UpdatedAt = time.Now().UTC()

	err = store.TaskRepository().Save(ctx, task)
	require.NoError(t, err)

	retrieved, err = store.TaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, retrieved.Status)
	assert.True(t, retrieved.PartialSuccess)

	_, err = store.TaskRepository().GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, persistence.ErrTaskNotFound)
}

func TestNewPersistence_ExecutionLifecycle(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	task := saveTask(ctx, t, store)

	execution := &models.Execution{
		ID:     uuid.New().String(),
		TaskID: task.ID,
		Plan: &models.ExecutionPlan{
			ID:     uuid.New().String(),
			TaskID: task.ID,
			Phases: []*models.Phase{
				{
					Name: "intake",
					Subtasks: []*models.Subtask{
						{ID: "st-1", Role: "forms", Instruction: "collect details"},
					},
				},
			},
		},
		CurrentStep: "intake",
		Variables:   map[string]any{"region": "EU"},
		Assignments: map[string]*models.Assignment{
			"st-1": {Role: "forms", Status: models.AssignmentPending},
		},
		Status:    models.ExecutionStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	err := store.ExecutionRepository().Save(ctx, execution)
	require.NoError(t, err)

	active, err := store.ExecutionRepository().GetActiveByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, active.ID)
	assert.Equal(t, "intake", active.CurrentStep)
	require.NotNil(t, active.Plan)
	assert.Len(t, active.Plan.Phases, 1)
	assert.Equal(t, "EU", active.Variables["region"])
	assert.Equal(t, models.AssignmentPending, active.Assignments["st-1"].Status)

	execution.IsPaused = true
	execution.Status = models.ExecutionStatusPaused
	execution.PauseReason = "waiting for approval"

	err = store.ExecutionRepository().Save(ctx, execution)
	require.NoError(t, err)

	paused, err := store.ExecutionRepository().ListPaused(ctx)
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, "waiting for approval", paused[0].PauseReason)

	now := time.Now().UTC()
	execution.IsPaused = false
	execution.Status = models.ExecutionStatusCompleted
	execution.EndedAt = &now

	err = store.ExecutionRepository().Save(ctx, execution)
	require.NoError(t, err)

	_, err = store.ExecutionRepository().GetActiveByTask(ctx, task.ID)
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	all, err := store.ExecutionRepository().ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, all[0].Status)
}

func TestNewPersistence_PausePointTokenLookup(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	task := saveTask(ctx, t, store)

	execution := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Status:    models.ExecutionStatusPaused,
		StartedAt: time.Now().UTC(),
	}
	err := store.ExecutionRepository().Save(ctx, execution)
	require.NoError(t, err)

	expires := time.Now().UTC().Add(time.Hour)
	pausePoint := &models.PausePoint{
		ID:           uuid.New().String(),
		TaskID:       task.ID,
		ExecutionID:  execution.ID,
		Type:         models.PauseTypeUserApproval,
		Reason:       "manager sign-off required",
		RequiredData: map[string]any{"approver": "manager"},
		PhaseName:    "review",
		SubtaskID:    "st-2",
		ResumeToken:  "tok-" + uuid.NewString(),
		ExpiresAt:    &expires,
		CreatedAt:    time.Now().UTC(),
	}

	err = store.PausePointRepository().Save(ctx, pausePoint)
	require.NoError(t, err)

	byToken, err := store.PausePointRepository().GetByToken(ctx, pausePoint.ResumeToken)
	require.NoError(t, err)
	assert.Equal(t, pausePoint.ID, byToken.ID)
	assert.Equal(t, "review", byToken.PhaseName)
	assert.False(t, byToken.Resumed)

	unresolved, err := store.PausePointRepository().ListUnresolvedByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	now := time.Now().UTC()
	pausePoint.Resumed = true
	pausePoint.ResumedAt = &now
	pausePoint.ResumeData = map[string]any{"approved": true}

	err = store.PausePointRepository().Save(ctx, pausePoint)
	require.NoError(t, err)

	unresolved, err = store.PausePointRepository().ListUnresolvedByExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	_, err = store.PausePointRepository().GetByToken(ctx, "no-such-token")
	assert.ErrorIs(t, err, persistence.ErrPausePointNotFound)
}

func TestNewPersistence_ContextEntrySequences(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	task := saveTask(ctx, t, store)

	for seq := int64(1); seq <= 3; seq++ {
		entry := &models.ContextEntry{
			ID:        uuid.New().String(),
			TaskID:    task.ID,
			Sequence:  seq,
			Actor:     models.SystemActor,
			Operation: "phase_completed",
			Data:      map[string]any{"phase": "intake"},
			CreatedAt: time.Now().UTC(),
		}

		err := store.ContextEntryRepository().Append(ctx, entry)
		require.NoError(t, err)
	}

	maxSeq, err := store.ContextEntryRepository().MaxSequence(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxSeq)

	entries, err := store.ContextEntryRepository().ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Sequence)
	}

	duplicate := &models.ContextEntry{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Sequence:  2,
		Actor:     models.SystemActor,
		Operation: "subtask_completed",
		CreatedAt: time.Now().UTC(),
	}

	err = store.ContextEntryRepository().Append(ctx, duplicate)
	assert.ErrorIs(t, err, persistence.ErrDuplicateSequence)
}

func TestNewPersistence_MessageDeliveryTracking(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	message := &models.AgentMessage{
		ID:        uuid.New().String(),
		From:      "forms",
		To:        "legal",
		Type:      models.MessageTypeRequest,
		Priority:  models.TaskPriorityMedium,
		TaskID:    uuid.New().String(),
		Payload:   map[string]any{"document": "articles"},
		CreatedAt: time.Now().UTC(),
	}

	err := store.MessageRepository().Save(ctx, message)
	require.NoError(t, err)

	undelivered, err := store.MessageRepository().ListUndelivered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, undelivered, 1)
	assert.Equal(t, message.ID, undelivered[0].ID)

	err = store.MessageRepository().IncrementAttempts(ctx, message.ID)
	require.NoError(t, err)

	err = store.MessageRepository().MarkDelivered(ctx, message.ID, time.Now().UTC())
	require.NoError(t, err)

	retrieved, err := store.MessageRepository().GetByID(ctx, message.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.DeliveredAt)
	assert.Equal(t, 1, retrieved.DeliveryAttempts)
	assert.Equal(t, "articles", retrieved.Payload["document"])

	undelivered, err = store.MessageRepository().ListUndelivered(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, undelivered)

	err = store.MessageRepository().MarkDelivered(ctx, uuid.NewString(), time.Now().UTC())
	assert.ErrorIs(t, err, persistence.ErrMessageNotFound)
}
