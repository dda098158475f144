package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/agent"
	"github.com/taskmesh/taskmesh/pkg/eventbus"
	"github.com/taskmesh/taskmesh/pkg/events"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
	"github.com/taskmesh/taskmesh/pkg/stream"
)

// ErrInvalidOrExpiredToken is returned for every resume token the controller
// will not honor. Unknown, already consumed and expired tokens are
// indistinguishable to the caller.
var ErrInvalidOrExpiredToken = errors.New("invalid or expired resume token")

const resumeTokenBytes = 32

// DefaultPauseTTL bounds how long a resume token stays valid.
const DefaultPauseTTL = 7 * 24 * time.Hour

// Resumer re-enters a paused execution after its pause point is resolved.
// Implemented by the Executor; the indirection keeps the pause controller
// free of the state machine.
type Resumer interface {
	ResumeExecution(ctx context.Context, execution *models.Execution, pausePoint *models.PausePoint, resumeData map[string]any)

	// ResumeOrphan re-enters an execution whose pause point was lost; it
	// resumes at the execution's recorded step with no resume payload.
	ResumeOrphan(ctx context.Context, execution *models.Execution)
}

// PauseController owns the pause/resume lifecycle: durable pause points,
// unguessable single-use resume tokens, and the handoff back into the state
// machine on resume.
type PauseController struct {
	store    persistence.Persistence
	eventBus eventbus.EventBus
	stream   *stream.Stream
	audit    *AuditLog
	logger   *slog.Logger

	ttl time.Duration

	mu      sync.Mutex
	resumer Resumer

	// resumeMu serializes token consumption: Resume is check-then-act against
	// the store, and two concurrent calls must not both pass the resumed check.
	resumeMu sync.Mutex
}

func NewPauseController(store persistence.Persistence, eventBus eventbus.EventBus, observers *stream.Stream, audit *AuditLog, logger *slog.Logger) *PauseController {
	return &PauseController{
		store:    store,
		eventBus: eventBus,
		stream:   observers,
		audit:    audit,
		logger:   logger.With("module", "pause_controller"),
		ttl:      DefaultPauseTTL,
	}
}

// SetResumer wires the executor in after construction; the two reference each
// other.
func (c *PauseController) SetResumer(r Resumer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resumer = r
}

// Pause suspends an execution at the given subtask. It creates the single
// unresolved pause point for the execution, flips execution and task to
// paused, and returns the pause point carrying the resume token.
func (c *PauseController) Pause(ctx context.Context, task *models.Task, execution *models.Execution, phaseName string, subtask *models.Subtask, response *agent.Response) (*models.PausePoint, error) {
	token, err := newResumeToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(c.ttl)

	pauseType := response.PauseType
	if pauseType == "" {
		pauseType = models.PauseTypeUserApproval
	}

	pausePoint := &models.PausePoint{
		ID:             uuid.New().String(),
		TaskID:         task.ID,
		ExecutionID:    execution.ID,
		Type:           pauseType,
		Reason:         response.PauseReason,
		RequiredAction: response.RequiredAction,
		RequiredData:   response.RequiredData,
		PhaseName:      phaseName,
		SubtaskID:      subtask.ID,
		ResumeToken:    token,
		ExpiresAt:      &expiresAt,
		CreatedAt:      now,
	}

	err = c.store.PausePointRepository().Save(ctx, pausePoint)
	if err != nil {
		return nil, fmt.Errorf("failed to persist pause point: %w", err)
	}

	execution.Status = models.ExecutionStatusPaused
	execution.IsPaused = true
	execution.PausedAt = &now
	execution.PauseReason = response.PauseReason
	execution.Assignment(subtask.ID, subtask.Role).Status = models.AssignmentPaused

	err = c.store.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to persist paused execution: %w", err)
	}

	task.Status = models.TaskStatusPaused
	task.UpdatedAt = now

	err = c.store.TaskRepository().Save(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to persist paused task: %w", err)
	}

	_, err = c.audit.Append(ctx, task.ID, models.SystemActor, "task_paused", map[string]any{
		"pause_point_id": pausePoint.ID,
		"pause_type":     string(pauseType),
		"phase":          phaseName,
		"subtask_id":     subtask.ID,
	}, response.PauseReason, subtask.ID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to audit pause", "task_id", task.ID, "error", err)
	}

	c.publish(ctx, task.ID, events.TaskPaused{
		BaseEvent:    events.NewBaseEvent(events.TaskPausedEvent, task.ID),
		ExecutionID:  execution.ID,
		PausePointID: pausePoint.ID,
		PauseType:    pauseType,
		Reason:       response.PauseReason,
		PhaseName:    phaseName,
		SubtaskID:    subtask.ID,
	})

	c.broadcast(task.ID, string(events.TaskPausedEvent), map[string]any{
		"pause_point_id":  pausePoint.ID,
		"pause_type":      string(pauseType),
		"reason":          response.PauseReason,
		"required_action": response.RequiredAction,
		"ui_requests":     response.UIRequests,
	})

	c.logger.InfoContext(ctx, "Task paused",
		"task_id", task.ID, "execution_id", execution.ID,
		"pause_type", pauseType, "phase", phaseName, "subtask_id", subtask.ID)

	return pausePoint, nil
}

// Resume consumes a resume token. On success the pause point is marked
// resolved, task and execution return to their running states, and the
// executor re-enters the plan on a background goroutine. Any token the
// controller will not honor yields ErrInvalidOrExpiredToken.
func (c *PauseController) Resume(ctx context.Context, token string, resumeData map[string]any, resumedBy string) (*models.PausePoint, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	c.resumeMu.Lock()
	defer c.resumeMu.Unlock()

	pausePoint, err := c.store.PausePointRepository().GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, persistence.ErrPausePointNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}

		return nil, fmt.Errorf("failed to look up resume token: %w", err)
	}

	now := time.Now().UTC()

	if pausePoint.Resumed || pausePoint.Expired(now) {
		return nil, ErrInvalidOrExpiredToken
	}

	execution, err := c.store.ExecutionRepository().GetByID(ctx, pausePoint.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", pausePoint.ExecutionID, err)
	}

	task, err := c.store.TaskRepository().GetByID(ctx, pausePoint.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", pausePoint.TaskID, err)
	}

	pausePoint.Resumed = true
	pausePoint.ResumedAt = &now
	pausePoint.ResumeData = resumeData

	err = c.store.PausePointRepository().Save(ctx, pausePoint)
	if err != nil {
		return nil, fmt.Errorf("failed to consume resume token: %w", err)
	}

	execution.Status = models.ExecutionStatusRunning
	execution.IsPaused = false
	execution.PausedAt = nil
	execution.PauseReason = ""

	err = c.store.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to persist resumed execution: %w", err)
	}

	task.Status = models.TaskStatusInProgress
	task.UpdatedAt = now

	err = c.store.TaskRepository().Save(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to persist resumed task: %w", err)
	}

	_, err = c.audit.Append(ctx, task.ID, models.SystemActor, "task_resumed", map[string]any{
		"pause_point_id": pausePoint.ID,
		"resumed_by":     resumedBy,
		"phase":          pausePoint.PhaseName,
	}, "", pausePoint.ID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to audit resume", "task_id", task.ID, "error", err)
	}

	c.publish(ctx, task.ID, events.TaskResumed{
		BaseEvent:    events.NewBaseEvent(events.TaskResumedEvent, task.ID),
		ExecutionID:  execution.ID,
		PausePointID: pausePoint.ID,
		ResumedBy:    resumedBy,
		PhaseName:    pausePoint.PhaseName,
	})

	c.broadcast(task.ID, string(events.TaskResumedEvent), map[string]any{
		"pause_point_id": pausePoint.ID,
		"resumed_by":     resumedBy,
	})

	c.logger.InfoContext(ctx, "Task resumed",
		"task_id", task.ID, "execution_id", execution.ID, "pause_point_id", pausePoint.ID)

	c.mu.Lock()
	resumer := c.resumer
	c.mu.Unlock()

	if resumer != nil {
		// Continuation runs detached from the caller's request lifetime.
		go resumer.ResumeExecution(context.WithoutCancel(ctx), execution, pausePoint, resumeData)
	}

	return pausePoint, nil
}

// RecoverOrphans scans paused executions at startup and auto-resumes every
// one left with no unresolved pause point. No token for such an execution is
// in circulation, so nobody could ever resume it; it re-enters the state
// machine at its recorded step instead of staying stuck.
func (c *PauseController) RecoverOrphans(ctx context.Context) error {
	paused, err := c.store.ExecutionRepository().ListPaused(ctx)
	if err != nil {
		return fmt.Errorf("failed to list paused executions: %w", err)
	}

	for _, execution := range paused {
		unresolved, err := c.store.PausePointRepository().ListUnresolvedByExecution(ctx, execution.ID)
		if err != nil {
			return fmt.Errorf("failed to list pause points for execution %s: %w", execution.ID, err)
		}

		if len(unresolved) > 0 {
			continue
		}

		now := time.Now().UTC()

		execution.Status = models.ExecutionStatusRunning
		execution.IsPaused = false
		execution.PausedAt = nil
		execution.PauseReason = ""

		err = c.store.ExecutionRepository().Save(ctx, execution)
		if err != nil {
			return fmt.Errorf("failed to resume orphaned execution %s: %w", execution.ID, err)
		}

		task, err := c.store.TaskRepository().GetByID(ctx, execution.TaskID)
		if err != nil {
			return fmt.Errorf("failed to load task %s: %w", execution.TaskID, err)
		}

		task.Status = models.TaskStatusInProgress
		task.UpdatedAt = now

		err = c.store.TaskRepository().Save(ctx, task)
		if err != nil {
			return fmt.Errorf("failed to persist resumed task %s: %w", task.ID, err)
		}

		_, err = c.audit.Append(ctx, task.ID, models.SystemActor, "task_resumed", map[string]any{
			"execution_id": execution.ID,
			"recovered":    true,
			"phase":        execution.CurrentStep,
		}, "orphaned pause recovered at startup", execution.ID)
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to audit orphan recovery", "task_id", task.ID, "error", err)
		}

		c.publish(ctx, task.ID, events.TaskResumed{
			BaseEvent:   events.NewBaseEvent(events.TaskResumedEvent, task.ID),
			ExecutionID: execution.ID,
			ResumedBy:   models.SystemActor,
			PhaseName:   execution.CurrentStep,
		})

		c.logger.WarnContext(ctx, "Auto-resuming orphaned paused execution",
			"task_id", execution.TaskID, "execution_id", execution.ID, "phase", execution.CurrentStep)

		c.mu.Lock()
		resumer := c.resumer
		c.mu.Unlock()

		if resumer != nil {
			go resumer.ResumeOrphan(context.WithoutCancel(ctx), execution)
		}
	}

	return nil
}

func (c *PauseController) publish(ctx context.Context, taskID string, event eventbus.Event) {
	if c.eventBus == nil {
		return
	}

	err := c.eventBus.Publish(ctx, taskID, event)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to publish event", "task_id", taskID, "event_type", event.GetType(), "error", err)
	}
}

func (c *PauseController) broadcast(taskID, eventType string, payload map[string]any) {
	if c.stream == nil {
		return
	}

	c.stream.Broadcast(stream.Event{
		ID:      uuid.New().String(),
		TaskID:  taskID,
		Type:    eventType,
		Payload: payload,
	})
}

func newResumeToken() (string, error) {
	buf := make([]byte, resumeTokenBytes)

	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to generate resume token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
