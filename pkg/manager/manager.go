// Package manager is the engine's front door: it owns task intake, the agent
// outbox pumps, redelivery sweeps and the deadline monitor, and delegates all
// state transitions to the orchestrator.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/taskmesh/taskmesh/pkg/agent"
	"github.com/taskmesh/taskmesh/pkg/eventbus"
	"github.com/taskmesh/taskmesh/pkg/events"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/orchestrator"
	"github.com/taskmesh/taskmesh/pkg/persistence"
	"github.com/taskmesh/taskmesh/pkg/redelivery"
	"github.com/taskmesh/taskmesh/pkg/router"
	"github.com/taskmesh/taskmesh/pkg/stream"
)

const (
	// maxDeliveryAttempts caps redelivery; beyond it a message is dead.
	maxDeliveryAttempts = 5

	// redeliveryAge is how long a message stays untouched before the sweep
	// picks it up. Young messages are usually mid-delivery.
	redeliveryAge = 30 * time.Second

	redeliverySchedule = "@every 30s"
	deadlineSchedule   = "@every 1m"

	sweepBatchSize = 100
)

var (
	ErrTaskTerminal      = errors.New("task is in a terminal state")
	ErrTaskAlreadyPaused = errors.New("task is already paused")
)

// CreateTaskInput is the task intake payload.
type CreateTaskInput struct {
	UserID     string
	BusinessID string
	TemplateID string
	Priority   models.TaskPriority
	Deadline   *time.Time
	Metadata   map[string]any
}

// TaskStatus is the assembled view of one task for status queries.
type TaskStatus struct {
	Task            *models.Task       `json:"task"`
	Execution       *models.Execution  `json:"execution,omitempty"`
	PausePoint      *models.PausePoint `json:"pause_point,omitempty"`
	CompletedPhases int                `json:"completed_phases"`
	TotalPhases     int                `json:"total_phases"`
}

// AgentInfo describes one registered agent for health reporting.
type AgentInfo struct {
	Role     string `json:"role"`
	Version  string `json:"version"`
	Critical bool   `json:"critical"`
}

type Manager struct {
	store     persistence.Persistence
	registry  *agent.Registry
	router    *router.Router
	executor  *orchestrator.Executor
	pauser    *orchestrator.PauseController
	audit     *orchestrator.AuditLog
	eventBus  eventbus.EventBus
	observers *stream.Stream
	queue     redelivery.Queue
	logger    *slog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	deadlineNotified map[string]bool
}

func NewManager(store persistence.Persistence, registry *agent.Registry, messageRouter *router.Router, executor *orchestrator.Executor, pauser *orchestrator.PauseController, audit *orchestrator.AuditLog, eventBus eventbus.EventBus, observers *stream.Stream, queue redelivery.Queue, logger *slog.Logger) *Manager {
	return &Manager{
		store:            store,
		registry:         registry,
		router:           messageRouter,
		executor:         executor,
		pauser:           pauser,
		audit:            audit,
		eventBus:         eventBus,
		observers:        observers,
		queue:            queue,
		logger:           logger.With("module", "manager"),
		cron:             cron.New(),
		deadlineNotified: make(map[string]bool),
	}
}

// Start brings the background machinery up: orphan recovery, the redelivery
// queue and its sweep, agent outbox pumps and the deadline monitor.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	err := m.pauser.RecoverOrphans(runCtx)
	if err != nil {
		return fmt.Errorf("orphan recovery failed: %w", err)
	}

	err = m.queue.Start(runCtx, func(ctx context.Context, message *models.AgentMessage) error {
		return m.router.Route(ctx, message)
	})
	if err != nil {
		return fmt.Errorf("failed to start redelivery queue: %w", err)
	}

	for _, role := range m.registry.Roles() {
		specialist, ok := m.registry.Get(role)
		if !ok {
			continue
		}

		m.wg.Add(1)

		go m.pumpOutbox(runCtx, specialist)
	}

	_, err = m.cron.AddFunc(redeliverySchedule, func() { m.sweepUndelivered(runCtx) })
	if err != nil {
		return fmt.Errorf("failed to schedule redelivery sweep: %w", err)
	}

	_, err = m.cron.AddFunc(deadlineSchedule, func() { m.checkDeadlines(runCtx) })
	if err != nil {
		return fmt.Errorf("failed to schedule deadline monitor: %w", err)
	}

	m.cron.Start()
	m.logger.InfoContext(ctx, "Manager started", "agents", m.registry.Roles())

	return nil
}

// Stop winds the manager down: agents first so outboxes close, then the
// pumps, the scheduler and the queue.
func (m *Manager) Stop(ctx context.Context) error {
	err := m.registry.StopAll(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to stop agents", "error", err)
	}

	m.wg.Wait()

	if m.cancel != nil {
		m.cancel()
	}

	<-m.cron.Stop().Done()

	queueErr := m.queue.Stop(ctx)
	if queueErr != nil {
		m.logger.ErrorContext(ctx, "Failed to stop redelivery queue", "error", queueErr)
	}

	m.logger.InfoContext(ctx, "Manager stopped")

	if err != nil {
		return err
	}

	return queueErr
}

// CreateTask persists a new task and dispatches it to the executor on its own
// goroutine. The returned task is in pending state; planning has started but
// not finished.
func (m *Manager) CreateTask(ctx context.Context, input CreateTaskInput) (*models.Task, error) {
	now := time.Now().UTC()

	priority := input.Priority
	if priority == "" {
		priority = models.TaskPriorityMedium
	}

	task := &models.Task{
		ID:         uuid.New().String(),
		UserID:     input.UserID,
		BusinessID: input.BusinessID,
		TemplateID: input.TemplateID,
		Status:     models.TaskStatusPending,
		Priority:   priority,
		Deadline:   input.Deadline,
		Metadata:   input.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := models.ValidateTask(task)
	if err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	err = m.store.TaskRepository().Save(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	_, err = m.audit.Append(ctx, task.ID, models.SystemActor, "task_created", map[string]any{
		"user_id":     task.UserID,
		"business_id": task.BusinessID,
		"template_id": task.TemplateID,
		"priority":    string(task.Priority),
	}, "", "")
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to audit task creation", "task_id", task.ID, "error", err)
	}

	m.publish(ctx, task.ID, events.TaskCreated{
		BaseEvent:  events.NewBaseEvent(events.TaskCreatedEvent, task.ID),
		UserID:     task.UserID,
		BusinessID: task.BusinessID,
		TemplateID: task.TemplateID,
		Priority:   task.Priority,
	})

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		err := m.executor.StartTask(context.WithoutCancel(ctx), task)
		if err != nil {
			m.logger.ErrorContext(ctx, "Task run ended with error", "task_id", task.ID, "error", err)
		}
	}()

	m.logger.InfoContext(ctx, "Task created", "task_id", task.ID, "user_id", task.UserID)

	return task, nil
}

// PauseTask requests an operator pause. The executor honors it at the next
// dispatch boundary; a subtask already in flight finishes first.
func (m *Manager) PauseTask(ctx context.Context, taskID, reason string) error {
	task, err := m.store.TaskRepository().GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	if task.IsTerminal() {
		return ErrTaskTerminal
	}

	if task.Status == models.TaskStatusPaused {
		return ErrTaskAlreadyPaused
	}

	if reason == "" {
		reason = "operator requested pause"
	}

	m.executor.RequestPause(taskID, reason)
	m.logger.InfoContext(ctx, "Pause requested", "task_id", taskID, "reason", reason)

	return nil
}

// ResumeTask consumes a resume token and restarts the paused execution.
func (m *Manager) ResumeTask(ctx context.Context, token string, resumeData map[string]any, resumedBy string) (*models.PausePoint, error) {
	return m.pauser.Resume(ctx, token, resumeData, resumedBy)
}

// GetTaskStatus assembles the task, its latest execution and any open pause
// point into one view.
func (m *Manager) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	task, err := m.store.TaskRepository().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	status := &TaskStatus{Task: task}

	executions, err := m.store.ExecutionRepository().ListByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for task %s: %w", taskID, err)
	}

	if len(executions) > 0 {
		execution := executions[len(executions)-1]
		status.Execution = execution
		status.CompletedPhases = len(execution.CompletedSteps)

		if execution.Plan != nil {
			status.TotalPhases = len(execution.Plan.Phases)
		}
	}

	unresolved, err := m.store.PausePointRepository().ListUnresolvedByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pause points for task %s: %w", taskID, err)
	}

	if len(unresolved) > 0 {
		status.PausePoint = unresolved[0]
	}

	return status, nil
}

// AgentHealth reports every registered agent.
func (m *Manager) AgentHealth() []AgentInfo {
	roles := m.registry.Roles()
	infos := make([]AgentInfo, 0, len(roles))

	for _, role := range roles {
		specialist, ok := m.registry.Get(role)
		if !ok {
			continue
		}

		infos = append(infos, AgentInfo{
			Role:     role,
			Version:  specialist.Version(),
			Critical: specialist.Critical(),
		})
	}

	return infos
}

// pumpOutbox drains one agent's outbox into the router. Routing failures fall
// back to the redelivery queue.
func (m *Manager) pumpOutbox(ctx context.Context, specialist agent.Agent) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case message, open := <-specialist.Outbox():
			if !open {
				return
			}

			err := m.router.Route(ctx, message)
			if err != nil {
				m.logger.WarnContext(ctx, "Routing failed, queueing for redelivery",
					"message_id", message.ID, "to", message.To, "error", err)

				err = m.queue.Enqueue(ctx, message)
				if err != nil {
					m.logger.ErrorContext(ctx, "Failed to queue message for redelivery",
						"message_id", message.ID, "error", err)
				}
			}
		}
	}
}

// sweepUndelivered requeues persisted messages that never got acknowledged.
// Messages past the attempt cap are dead and only logged.
func (m *Manager) sweepUndelivered(ctx context.Context) {
	undelivered, err := m.store.MessageRepository().ListUndelivered(ctx, sweepBatchSize)
	if err != nil {
		m.logger.ErrorContext(ctx, "Redelivery sweep failed", "error", err)

		return
	}

	cutoff := time.Now().UTC().Add(-redeliveryAge)

	for _, message := range undelivered {
		if message.CreatedAt.After(cutoff) {
			continue
		}

		if message.DeliveryAttempts >= maxDeliveryAttempts {
			m.logger.ErrorContext(ctx, "Message exceeded delivery attempts, dropping from sweep",
				"message_id", message.ID, "to", message.To, "attempts", message.DeliveryAttempts)

			continue
		}

		err := m.queue.Enqueue(ctx, message)
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to requeue undelivered message",
				"message_id", message.ID, "error", err)
		}
	}
}

// checkDeadlines flags overdue non-terminal tasks once, in the audit log and
// on the observer stream.
func (m *Manager) checkDeadlines(ctx context.Context) {
	tasks, err := m.store.TaskRepository().List(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Deadline check failed", "error", err)

		return
	}

	now := time.Now().UTC()

	for _, task := range tasks {
		if task.Deadline == nil || task.IsTerminal() || now.Before(*task.Deadline) {
			continue
		}

		m.mu.Lock()
		notified := m.deadlineNotified[task.ID]
		m.deadlineNotified[task.ID] = true
		m.mu.Unlock()

		if notified {
			continue
		}

		_, err := m.audit.Append(ctx, task.ID, models.SystemActor, "deadline_exceeded", map[string]any{
			"deadline": task.Deadline.Format(time.RFC3339),
		}, "", "")
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to audit deadline breach", "task_id", task.ID, "error", err)
		}

		if m.observers != nil {
			m.observers.Broadcast(stream.Event{
				ID:     uuid.New().String(),
				TaskID: task.ID,
				Type:   "task.deadline_exceeded",
				Payload: map[string]any{
					"deadline": task.Deadline.Format(time.RFC3339),
				},
			})
		}

		m.logger.WarnContext(ctx, "Task deadline exceeded", "task_id", task.ID, "deadline", task.Deadline)
	}
}

func (m *Manager) publish(ctx context.Context, taskID string, event eventbus.Event) {
	if m.eventBus == nil {
		return
	}

	err := m.eventBus.Publish(ctx, taskID, event)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish event", "task_id", taskID, "event_type", event.GetType(), "error", err)
	}
}
