// Package orchestrator contains the task state machine: planning, phase
// execution, pause/resume and the audit log. All task and execution state
// transitions happen here and are persisted before they are announced.
package orchestrator

import (
	"context"
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
	"github.com/taskmesh/taskmesh/pkg/otelhelper"
	"github.com/taskmesh/taskmesh/pkg/persistence"
	"github.com/taskmesh/taskmesh/pkg/planner"
	"github.com/taskmesh/taskmesh/pkg/stream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond

	planningStep = "planning"
)

// Executor drives a task through planning and phase execution. One task has
// at most one live run at a time; a resume continues the same execution
// record where it stopped.
type Executor struct {
	planner  planner.Planner
	registry *agent.Registry
	store    persistence.Persistence
	eventBus eventbus.EventBus
	stream   *stream.Stream
	audit    *AuditLog
	pauser   *PauseController
	logger   *slog.Logger
	tracer   trace.Tracer

	maxAttempts int
	retryDelay  time.Duration

	// pauseRequests holds operator pause reasons by task ID; honored at the
	// next dispatch boundary.
	pauseRequests sync.Map
}

func NewExecutor(p planner.Planner, registry *agent.Registry, store persistence.Persistence, eventBus eventbus.EventBus, observers *stream.Stream, audit *AuditLog, pauser *PauseController, logger *slog.Logger) *Executor {
	e := &Executor{
		planner:     p,
		registry:    registry,
		store:       store,
		eventBus:    eventBus,
		stream:      observers,
		audit:       audit,
		pauser:      pauser,
		logger:      logger.With("module", "executor"),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}

	pauser.SetResumer(e)

	return e
}

// SetTracer enables spans around planning, phase execution and subtask
// dispatch. Without it the executor runs untraced.
func (e *Executor) SetTracer(tracer trace.Tracer) {
	e.tracer = tracer
}

func (e *Executor) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return otelhelper.StartSpan(ctx, e.tracer, name, attrs...)
}

// StartTask runs a pending task to its first terminal or paused state. It
// blocks for the duration, so callers dispatch it on its own goroutine.
func (e *Executor) StartTask(ctx context.Context, task *models.Task) error {
	ctx, span := e.startSpan(ctx, "orchestrator.start_task",
		attribute.String(otelhelper.TaskIDKey, task.ID))
	defer span.End()

	now := time.Now().UTC()
	task.Status = models.TaskStatusInProgress
	task.UpdatedAt = now

	err := e.store.TaskRepository().Save(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to persist task %s: %w", task.ID, err)
	}

	execution := &models.Execution{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		CurrentStep: planningStep,
		Status:      models.ExecutionStatusRunning,
		Variables:   map[string]any{},
		Assignments: map[string]*models.Assignment{},
		StartedAt:   now,
	}

	err = e.store.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to persist execution for task %s: %w", task.ID, err)
	}

	e.auditAppend(ctx, task.ID, models.SystemActor, "execution_started", map[string]any{"execution_id": execution.ID}, "", "")

	plan, err := e.planWithRetry(ctx, task)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.TaskIDKey, task.ID))
		e.failTask(ctx, task, execution, fmt.Sprintf("planning failed: %v", err), "", "")

		return err
	}

	execution.Plan = plan

	err = e.store.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to persist plan for task %s: %w", task.ID, err)
	}

	e.publish(ctx, task.ID, events.PlanReady{
		BaseEvent:   events.NewBaseEvent(events.PlanReadyEvent, task.ID),
		ExecutionID: execution.ID,
		PlanID:      plan.ID,
		PhaseCount:  len(plan.Phases),
	})
	e.broadcast(task.ID, string(events.PlanReadyEvent), map[string]any{
		"plan_id":     plan.ID,
		"phase_count": len(plan.Phases),
	})
	e.auditAppend(ctx, task.ID, models.SystemActor, "plan_ready", map[string]any{
		"plan_id":     plan.ID,
		"phase_count": len(plan.Phases),
	}, "", "")

	e.runFrom(ctx, task, execution, 0, "", nil)

	return nil
}

// ResumeExecution re-enters a resumed execution at its pause point: the
// paused subtask is re-dispatched with the resume data, then the plan
// continues as usual. Called by the pause controller after token validation.
func (e *Executor) ResumeExecution(ctx context.Context, execution *models.Execution, pausePoint *models.PausePoint, resumeData map[string]any) {
	ctx, span := e.startSpan(ctx, "orchestrator.resume_execution",
		attribute.String(otelhelper.TaskIDKey, execution.TaskID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.PausePointIDKey, pausePoint.ID))
	defer span.End()

	task, err := e.store.TaskRepository().GetByID(ctx, execution.TaskID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load task for resumed execution",
			"task_id", execution.TaskID, "execution_id", execution.ID, "error", err)

		return
	}

	if execution.Plan == nil {
		e.failTask(ctx, task, execution, "resumed execution has no plan", "", "")

		return
	}

	_, index := execution.Plan.FindPhase(pausePoint.PhaseName)
	if index < 0 {
		e.failTask(ctx, task, execution, fmt.Sprintf("resumed phase %q not in plan", pausePoint.PhaseName), "", "")

		return
	}

	// The paused assignment goes back to pending so the phase re-dispatches it.
	if assignment, ok := execution.Assignments[pausePoint.SubtaskID]; ok {
		assignment.Status = models.AssignmentPending
	}

	e.runFrom(ctx, task, execution, index, pausePoint.SubtaskID, resumeData)
}

// ResumeOrphan re-enters an execution recovered at startup with no pause
// point to resolve. It resumes at the execution's recorded step; subtasks
// that were paused go back to pending and re-dispatch without resume data.
func (e *Executor) ResumeOrphan(ctx context.Context, execution *models.Execution) {
	ctx, span := e.startSpan(ctx, "orchestrator.resume_orphan",
		attribute.String(otelhelper.TaskIDKey, execution.TaskID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID))
	defer span.End()

	task, err := e.store.TaskRepository().GetByID(ctx, execution.TaskID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load task for recovered execution",
			"task_id", execution.TaskID, "execution_id", execution.ID, "error", err)

		return
	}

	if execution.Plan == nil {
		e.failTask(ctx, task, execution, "recovered execution has no plan", "", "")

		return
	}

	_, index := execution.Plan.FindPhase(execution.CurrentStep)
	if index < 0 {
		e.failTask(ctx, task, execution, fmt.Sprintf("recovered step %q not in plan", execution.CurrentStep), "", "")

		return
	}

	for _, assignment := range execution.Assignments {
		if assignment.Status == models.AssignmentPaused {
			assignment.Status = models.AssignmentPending
		}
	}

	e.runFrom(ctx, task, execution, index, "", nil)
}

func (e *Executor) planWithRetry(ctx context.Context, task *models.Task) (*models.ExecutionPlan, error) {
	objective, _ := task.Metadata["objective"].(string)

	definition := planner.TaskDefinition{
		TaskID:     task.ID,
		TemplateID: task.TemplateID,
		Objective:  objective,
		Priority:   task.Priority,
		Roles:      e.registry.Roles(),
		Metadata:   task.Metadata,
	}

	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		plan, err := e.planner.Plan(ctx, definition, task.Metadata)
		if err == nil {
			return plan, nil
		}

		lastErr = err

		if !planner.IsRetryable(err) {
			return nil, err
		}

		e.logger.WarnContext(ctx, "Planning attempt failed",
			"task_id", task.ID, "attempt", attempt, "error", err)

		if attempt < e.maxAttempts && !e.sleep(ctx, time.Duration(attempt)*e.retryDelay) {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// runFrom executes plan phases starting at the given index. The resume
// subtask and data apply to the first phase only.
func (e *Executor) runFrom(ctx context.Context, task *models.Task, execution *models.Execution, startIndex int, resumeSubtaskID string, resumeData map[string]any) {
	r := &run{
		executor:  e,
		task:      task,
		execution: execution,
		partial:   task.PartialSuccess,
	}

	for i := startIndex; i < len(execution.Plan.Phases); i++ {
		phase := execution.Plan.Phases[i]

		outcome := r.runPhase(ctx, phase, resumeSubtaskID, resumeData)
		resumeSubtaskID, resumeData = "", nil

		switch outcome {
		case phasePaused:
			return
		case phaseFailed:
			return
		case phaseCompleted:
		}
	}

	r.complete(ctx)
}

type phaseOutcome int

const (
	phaseCompleted phaseOutcome = iota
	phasePaused
	phaseFailed
)

type subtaskOutcome int

const (
	subtaskCompleted subtaskOutcome = iota
	subtaskNeedsInput
	subtaskFailedNonCritical
	subtaskFailedCritical
)

type subtaskResult struct {
	subtask  *models.Subtask
	outcome  subtaskOutcome
	response *agent.Response
	errText  string
}

// run is the mutable state of one pass through the plan. The mutex guards
// the execution record during parallel phases.
type run struct {
	executor  *Executor
	task      *models.Task
	execution *models.Execution

	mu      sync.Mutex
	partial bool
}

func (r *run) runPhase(ctx context.Context, phase *models.Phase, resumeSubtaskID string, resumeData map[string]any) phaseOutcome {
	e := r.executor

	pending := r.pendingSubtasks(phase)
	if len(pending) == 0 {
		r.finishPhase(ctx, phase, time.Now().UTC())

		return phaseCompleted
	}

	if reason, requested := e.takePauseRequest(r.task.ID); requested {
		response := &agent.Response{
			Status:      agent.StatusNeedsInput,
			PauseType:   models.PauseTypeUserApproval,
			PauseReason: reason,
		}

		_, err := e.pauser.Pause(ctx, r.task, r.execution, phase.Name, pending[0], response)
		if err != nil {
			e.failTask(ctx, r.task, r.execution, fmt.Sprintf("failed to pause: %v", err), phase.Name, pending[0].Role)

			return phaseFailed
		}

		return phasePaused
	}

	phaseStart := time.Now().UTC()

	r.mu.Lock()
	r.execution.CurrentStep = phase.Name
	r.mu.Unlock()

	err := e.store.ExecutionRepository().Save(ctx, r.execution)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist current step",
			"task_id", r.task.ID, "phase", phase.Name, "error", err)
	}

	e.publish(ctx, r.task.ID, events.PhaseStarted{
		BaseEvent:    events.NewBaseEvent(events.PhaseStartedEvent, r.task.ID),
		ExecutionID:  r.execution.ID,
		PhaseName:    phase.Name,
		Parallel:     phase.Parallel,
		SubtaskCount: len(phase.Subtasks),
	})
	e.broadcast(r.task.ID, string(events.PhaseStartedEvent), map[string]any{
		"phase":    phase.Name,
		"parallel": phase.Parallel,
	})

	var results []subtaskResult

	if phase.Parallel {
		results = r.runParallel(ctx, phase, pending, resumeSubtaskID, resumeData)
	} else {
		results = r.runSequential(ctx, phase, pending, resumeSubtaskID, resumeData)
	}

	// Critical failures outrank pauses: a doomed task must not wait on input.
	for _, result := range results {
		if result.outcome == subtaskFailedCritical {
			e.failTask(ctx, r.task, r.execution, result.errText, phase.Name, result.subtask.Role)

			return phaseFailed
		}
	}

	for _, result := range results {
		if result.outcome != subtaskNeedsInput {
			continue
		}

		// First needs_input wins and becomes the execution's single
		// unresolved pause point. Other pending subtasks stay pending and
		// re-dispatch after resume.
		_, err := e.pauser.Pause(ctx, r.task, r.execution, phase.Name, result.subtask, result.response)
		if err != nil {
			e.failTask(ctx, r.task, r.execution, fmt.Sprintf("failed to pause: %v", err), phase.Name, result.subtask.Role)

			return phaseFailed
		}

		return phasePaused
	}

	err = e.store.ExecutionRepository().Save(ctx, r.execution)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist execution after phase",
			"task_id", r.task.ID, "phase", phase.Name, "error", err)
	}

	r.finishPhase(ctx, phase, phaseStart)

	return phaseCompleted
}

func (r *run) pendingSubtasks(phase *models.Phase) []*models.Subtask {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*models.Subtask

	for _, subtask := range phase.Subtasks {
		assignment := r.execution.Assignment(subtask.ID, subtask.Role)
		if assignment.Status == models.AssignmentCompleted || assignment.Status == models.AssignmentFailed {
			continue
		}

		pending = append(pending, subtask)
	}

	return pending
}

func (r *run) runParallel(ctx context.Context, phase *models.Phase, pending []*models.Subtask, resumeSubtaskID string, resumeData map[string]any) []subtaskResult {
	results := make([]subtaskResult, len(pending))

	var wg sync.WaitGroup

	for i, subtask := range pending {
		var data map[string]any
		if subtask.ID == resumeSubtaskID {
			data = resumeData
		}

		wg.Add(1)

		go func(i int, subtask *models.Subtask, data map[string]any) {
			defer wg.Done()

			results[i] = r.runSubtask(ctx, phase, subtask, data)
		}(i, subtask, data)
	}

	wg.Wait()

	return results
}

func (r *run) runSequential(ctx context.Context, phase *models.Phase, pending []*models.Subtask, resumeSubtaskID string, resumeData map[string]any) []subtaskResult {
	var results []subtaskResult

	for _, subtask := range pending {
		var data map[string]any
		if subtask.ID == resumeSubtaskID {
			data = resumeData
		}

		result := r.runSubtask(ctx, phase, subtask, data)
		results = append(results, result)

		// Sequential phases stop at the first pause or hard failure; later
		// subtasks wait for the resume or die with the task.
		if result.outcome == subtaskNeedsInput || result.outcome == subtaskFailedCritical {
			break
		}
	}

	return results
}

func (r *run) runSubtask(ctx context.Context, phase *models.Phase, subtask *models.Subtask, resumeData map[string]any) subtaskResult {
	e := r.executor
	started := time.Now().UTC()

	ctx, span := e.startSpan(ctx, "orchestrator.run_subtask",
		attribute.String(otelhelper.TaskIDKey, r.task.ID),
		attribute.String(otelhelper.PhaseNameKey, phase.Name),
		attribute.String(otelhelper.SubtaskIDKey, subtask.ID),
		attribute.String(otelhelper.AgentRoleKey, subtask.Role))
	defer span.End()

	specialist, registered := e.registry.Get(subtask.Role)
	if !registered {
		errText := fmt.Sprintf("no agent registered for role %q", subtask.Role)
		otelhelper.SetError(span, errors.New(errText))
		r.recordFailure(ctx, phase, subtask, errText, true)

		return subtaskResult{subtask: subtask, outcome: subtaskFailedCritical, errText: errText}
	}

	e.publish(ctx, r.task.ID, events.SubtaskDispatched{
		BaseEvent:   events.NewBaseEvent(events.SubtaskDispatchedEvent, r.task.ID),
		ExecutionID: r.execution.ID,
		PhaseName:   phase.Name,
		SubtaskID:   subtask.ID,
		Role:        subtask.Role,
	})
	e.broadcast(r.task.ID, string(events.SubtaskDispatchedEvent), map[string]any{
		"phase":      phase.Name,
		"subtask_id": subtask.ID,
		"role":       subtask.Role,
	})

	request := &agent.Request{
		TaskID:      r.task.ID,
		ExecutionID: r.execution.ID,
		Subtask:     subtask,
		Variables:   r.snapshotVariables(),
		ResumeData:  resumeData,
	}

	var (
		response *agent.Response
		err      error
	)

	for attempt := 1; ; attempt++ {
		response, err = specialist.Execute(ctx, request)

		if err == nil && response != nil && response.Status != agent.StatusError {
			break
		}

		kind := Classify(specialist, response, err, attempt, e.maxAttempts)
		if kind == FailureRetryable {
			e.logger.WarnContext(ctx, "Subtask attempt failed, retrying",
				"task_id", r.task.ID, "subtask_id", subtask.ID, "role", subtask.Role,
				"attempt", attempt, "error", err)

			if e.sleep(ctx, time.Duration(attempt)*e.retryDelay) {
				continue
			}

			kind = FailureCritical
		}

		errText := failureText(response, err)
		r.recordFailure(ctx, phase, subtask, errText, kind == FailureCritical)

		if kind == FailureCritical {
			otelhelper.SetError(span, errors.New(errText))

			return subtaskResult{subtask: subtask, outcome: subtaskFailedCritical, response: response, errText: errText}
		}

		return subtaskResult{subtask: subtask, outcome: subtaskFailedNonCritical, response: response, errText: errText}
	}

	if response.Status == agent.StatusNeedsInput {
		return subtaskResult{subtask: subtask, outcome: subtaskNeedsInput, response: response}
	}

	now := time.Now().UTC()

	r.mu.Lock()
	r.execution.MergeVariables(response.Output)
	assignment := r.execution.Assignment(subtask.ID, subtask.Role)
	assignment.Status = models.AssignmentCompleted
	assignment.CompletedAt = &now
	r.mu.Unlock()

	actor := subtask.Role + "@" + specialist.Version()
	e.auditAppend(ctx, r.task.ID, actor, "subtask_completed", map[string]any{
		"phase":      phase.Name,
		"subtask_id": subtask.ID,
		"output":     response.Output,
	}, response.Reasoning, subtask.ID)

	e.publish(ctx, r.task.ID, events.SubtaskCompleted{
		BaseEvent:   events.NewBaseEvent(events.SubtaskCompletedEvent, r.task.ID),
		ExecutionID: r.execution.ID,
		PhaseName:   phase.Name,
		SubtaskID:   subtask.ID,
		Role:        subtask.Role,
		Output:      response.Output,
		DurationMs:  time.Since(started).Milliseconds(),
	})
	e.broadcast(r.task.ID, string(events.SubtaskCompletedEvent), map[string]any{
		"phase":      phase.Name,
		"subtask_id": subtask.ID,
		"role":       subtask.Role,
	})

	return subtaskResult{subtask: subtask, outcome: subtaskCompleted, response: response}
}

func (r *run) recordFailure(ctx context.Context, phase *models.Phase, subtask *models.Subtask, errText string, critical bool) {
	e := r.executor

	r.mu.Lock()
	assignment := r.execution.Assignment(subtask.ID, subtask.Role)
	assignment.Status = models.AssignmentFailed
	assignment.Error = errText

	if !critical {
		r.partial = true
	}
	r.mu.Unlock()

	e.auditAppend(ctx, r.task.ID, models.SystemActor, "subtask_failed", map[string]any{
		"phase":      phase.Name,
		"subtask_id": subtask.ID,
		"role":       subtask.Role,
		"error":      errText,
		"critical":   critical,
	}, "", subtask.ID)

	e.publish(ctx, r.task.ID, events.SubtaskFailed{
		BaseEvent:   events.NewBaseEvent(events.SubtaskFailedEvent, r.task.ID),
		ExecutionID: r.execution.ID,
		PhaseName:   phase.Name,
		SubtaskID:   subtask.ID,
		Role:        subtask.Role,
		Error:       errText,
		Critical:    critical,
	})
	e.broadcast(r.task.ID, string(events.SubtaskFailedEvent), map[string]any{
		"phase":      phase.Name,
		"subtask_id": subtask.ID,
		"role":       subtask.Role,
		"error":      errText,
		"critical":   critical,
	})
}

func (r *run) snapshotVariables() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]any, len(r.execution.Variables))
	for k, v := range r.execution.Variables {
		snapshot[k] = v
	}

	return snapshot
}

func (r *run) finishPhase(ctx context.Context, phase *models.Phase, startedAt time.Time) {
	e := r.executor

	r.mu.Lock()

	done := false

	for _, step := range r.execution.CompletedSteps {
		if step == phase.Name {
			done = true

			break
		}
	}

	if !done {
		r.execution.CompletedSteps = append(r.execution.CompletedSteps, phase.Name)
	}

	r.mu.Unlock()

	if done {
		return
	}

	err := e.store.ExecutionRepository().Save(ctx, r.execution)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist completed phase",
			"task_id", r.task.ID, "phase", phase.Name, "error", err)
	}

	e.auditAppend(ctx, r.task.ID, models.SystemActor, "phase_completed", map[string]any{"phase": phase.Name}, "", "")

	e.publish(ctx, r.task.ID, events.PhaseCompleted{
		BaseEvent:   events.NewBaseEvent(events.PhaseCompletedEvent, r.task.ID),
		ExecutionID: r.execution.ID,
		PhaseName:   phase.Name,
		DurationMs:  time.Since(startedAt).Milliseconds(),
	})
	e.broadcast(r.task.ID, string(events.PhaseCompletedEvent), map[string]any{"phase": phase.Name})
}

func (r *run) complete(ctx context.Context) {
	e := r.executor
	now := time.Now().UTC()

	r.execution.Status = models.ExecutionStatusCompleted
	r.execution.EndedAt = &now
	r.execution.CurrentStep = ""

	err := e.store.ExecutionRepository().Save(ctx, r.execution)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist completed execution",
			"task_id", r.task.ID, "execution_id", r.execution.ID, "error", err)
	}

	r.task.Status = models.TaskStatusCompleted
	r.task.PartialSuccess = r.partial
	r.task.UpdatedAt = now

	err = e.store.TaskRepository().Save(ctx, r.task)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist completed task",
			"task_id", r.task.ID, "error", err)
	}

	e.auditAppend(ctx, r.task.ID, models.SystemActor, "task_completed", map[string]any{
		"execution_id":    r.execution.ID,
		"partial_success": r.partial,
	}, "", "")

	e.publish(ctx, r.task.ID, events.TaskCompleted{
		BaseEvent:      events.NewBaseEvent(events.TaskCompletedEvent, r.task.ID),
		ExecutionID:    r.execution.ID,
		PartialSuccess: r.partial,
		Variables:      r.execution.Variables,
		DurationMs:     now.Sub(r.execution.StartedAt).Milliseconds(),
	})
	e.broadcast(r.task.ID, string(events.TaskCompletedEvent), map[string]any{
		"partial_success": r.partial,
	})

	e.logger.InfoContext(ctx, "Task completed",
		"task_id", r.task.ID, "execution_id", r.execution.ID, "partial_success", r.partial)

	e.finish(r.task.ID)
}

func (e *Executor) failTask(ctx context.Context, task *models.Task, execution *models.Execution, errText, phaseName, role string) {
	now := time.Now().UTC()

	execution.Status = models.ExecutionStatusFailed
	execution.EndedAt = &now

	err := e.store.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist failed execution",
			"task_id", task.ID, "execution_id", execution.ID, "error", err)
	}

	task.Status = models.TaskStatusFailed
	task.UpdatedAt = now

	err = e.store.TaskRepository().Save(ctx, task)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist failed task", "task_id", task.ID, "error", err)
	}

	e.auditAppend(ctx, task.ID, models.SystemActor, "task_failed", map[string]any{
		"execution_id": execution.ID,
		"error":        errText,
		"phase":        phaseName,
		"role":         role,
	}, "", "")

	e.publish(ctx, task.ID, events.TaskFailed{
		BaseEvent:   events.NewBaseEvent(events.TaskFailedEvent, task.ID),
		ExecutionID: execution.ID,
		Error:       errText,
		FailedPhase: phaseName,
		FailedRole:  role,
	})
	e.broadcast(task.ID, string(events.TaskFailedEvent), map[string]any{
		"error": errText,
		"phase": phaseName,
	})

	e.logger.ErrorContext(ctx, "Task failed",
		"task_id", task.ID, "execution_id", execution.ID, "phase", phaseName, "error", errText)

	e.finish(task.ID)
}

// RequestPause asks the executor to pause the task at its next dispatch
// boundary. A subtask already in flight finishes first.
func (e *Executor) RequestPause(taskID, reason string) {
	e.pauseRequests.Store(taskID, reason)
}

func (e *Executor) takePauseRequest(taskID string) (string, bool) {
	value, ok := e.pauseRequests.LoadAndDelete(taskID)
	if !ok {
		return "", false
	}

	reason, _ := value.(string)

	return reason, true
}

// finish releases per-task resources once the task is terminal.
func (e *Executor) finish(taskID string) {
	e.pauseRequests.Delete(taskID)
	e.audit.Trim(taskID)

	if e.stream != nil {
		e.stream.Evict(taskID)
	}
}

func (e *Executor) publish(ctx context.Context, taskID string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, taskID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"task_id", taskID, "event_type", event.GetType(), "error", err)
	}
}

func (e *Executor) broadcast(taskID, eventType string, payload map[string]any) {
	if e.stream == nil {
		return
	}

	e.stream.Broadcast(stream.Event{
		ID:      uuid.New().String(),
		TaskID:  taskID,
		Type:    eventType,
		Payload: payload,
	})
}

func (e *Executor) auditAppend(ctx context.Context, taskID, actor, operation string, data map[string]any, reasoning, triggeredBy string) {
	_, err := e.audit.Append(ctx, taskID, actor, operation, data, reasoning, triggeredBy)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to append audit entry",
			"task_id", taskID, "operation", operation, "error", err)
	}
}

// sleep waits for the given duration, returning false if the context ended.
func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func failureText(response *agent.Response, err error) string {
	if err != nil {
		return err.Error()
	}

	if response != nil && response.ErrorMessage != "" {
		return response.ErrorMessage
	}

	return "agent reported failure"
}
