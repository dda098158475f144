// Package events defines event types and structures for task lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/models"
)

type EventType string

const Topic = "taskmesh.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Task lifecycle events.
	TaskCreatedEvent   EventType = "task.created"
	TaskCompletedEvent EventType = "task.completed"
	TaskFailedEvent    EventType = "task.failed"
	TaskPausedEvent    EventType = "task.paused"
	TaskResumedEvent   EventType = "task.resumed"

	// Plan and phase events.
	PlanReadyEvent      EventType = "plan.ready"
	PhaseStartedEvent   EventType = "phase.started"
	PhaseCompletedEvent EventType = "phase.completed"

	// Subtask events.
	SubtaskDispatchedEvent EventType = "subtask.dispatched"
	SubtaskCompletedEvent  EventType = "subtask.completed"
	SubtaskFailedEvent     EventType = "subtask.failed"

	// Audit and messaging events.
	ContextAppendedEvent EventType = "context.appended"
	MessageRoutedEvent   EventType = "message.routed"
)

type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, taskID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Metadata:  make(map[string]any),
	}
}

type TaskCreated struct {
	BaseEvent

	UserID     string              `json:"user_id"`
	BusinessID string              `json:"business_id"`
	TemplateID string              `json:"template_id,omitempty"`
	Priority   models.TaskPriority `json:"priority"`
}

func (e TaskCreated) GetType() EventType { return TaskCreatedEvent }

type TaskCompleted struct {
	BaseEvent

	ExecutionID    string         `json:"execution_id"`
	PartialSuccess bool           `json:"partial_success"`
	Variables      map[string]any `json:"variables,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
}

func (e TaskCompleted) GetType() EventType { return TaskCompletedEvent }

type TaskFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
	FailedPhase string `json:"failed_phase,omitempty"`
	FailedRole  string `json:"failed_role,omitempty"`
}

func (e TaskFailed) GetType() EventType { return TaskFailedEvent }

type TaskPaused struct {
	BaseEvent

	ExecutionID  string           `json:"execution_id"`
	PausePointID string           `json:"pause_point_id"`
	PauseType    models.PauseType `json:"pause_type"`
	Reason       string           `json:"reason"`
	PhaseName    string           `json:"phase_name"`
	SubtaskID    string           `json:"subtask_id"`
}

func (e TaskPaused) GetType() EventType { return TaskPausedEvent }

type TaskResumed struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	PausePointID string `json:"pause_point_id"`
	ResumedBy    string `json:"resumed_by,omitempty"`
	PhaseName    string `json:"phase_name"`
}

func (e TaskResumed) GetType() EventType { return TaskResumedEvent }

type PlanReady struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	PlanID      string `json:"plan_id"`
	PhaseCount  int    `json:"phase_count"`
}

func (e PlanReady) GetType() EventType { return PlanReadyEvent }

type PhaseStarted struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	PhaseName    string `json:"phase_name"`
	Parallel     bool   `json:"parallel"`
	SubtaskCount int    `json:"subtask_count"`
}

func (e PhaseStarted) GetType() EventType { return PhaseStartedEvent }

type PhaseCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	PhaseName   string `json:"phase_name"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e PhaseCompleted) GetType() EventType { return PhaseCompletedEvent }

type SubtaskDispatched struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	PhaseName   string `json:"phase_name"`
	SubtaskID   string `json:"subtask_id"`
	Role        string `json:"role"`
}

func (e SubtaskDispatched) GetType() EventType { return SubtaskDispatchedEvent }

type SubtaskCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	PhaseName   string         `json:"phase_name"`
	SubtaskID   string         `json:"subtask_id"`
	Role        string         `json:"role"`
	Output      map[string]any `json:"output,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e SubtaskCompleted) GetType() EventType { return SubtaskCompletedEvent }

type SubtaskFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	PhaseName   string `json:"phase_name"`
	SubtaskID   string `json:"subtask_id"`
	Role        string `json:"role"`
	Error       string `json:"error"`
	Critical    bool   `json:"critical"`
	Retryable   bool   `json:"retryable"`
}

func (e SubtaskFailed) GetType() EventType { return SubtaskFailedEvent }

type ContextAppended struct {
	BaseEvent

	Sequence  int64  `json:"sequence"`
	Actor     string `json:"actor"`
	Operation string `json:"operation"`
}

func (e ContextAppended) GetType() EventType { return ContextAppendedEvent }

type MessageRouted struct {
	BaseEvent

	MessageID string             `json:"message_id"`
	From      string             `json:"from"`
	To        string             `json:"to"`
	Kind      models.MessageType `json:"kind"`
}

func (e MessageRouted) GetType() EventType { return MessageRoutedEvent }
