// Package agent defines the contract specialist agents implement and the
// registry the router and orchestrator resolve them from. Agents are opaque
// workers: the engine only sees requests in, responses or pauses out.
package agent

import (
	"context"

	"github.com/taskmesh/taskmesh/pkg/models"
)

// ResponseStatus is the outcome an agent reports for a subtask.
type ResponseStatus string

const (
	StatusCompleted  ResponseStatus = "completed"
	StatusNeedsInput ResponseStatus = "needs_input"
	StatusError      ResponseStatus = "error"
)

// Request carries one subtask to an agent together with the variables
// accumulated by earlier phases. ResumeData is set only when the subtask is
// re-dispatched after a pause was resolved.
type Request struct {
	TaskID      string          `json:"task_id"`
	ExecutionID string          `json:"execution_id"`
	Subtask     *models.Subtask `json:"subtask"`
	Variables   map[string]any  `json:"variables,omitempty"`
	ResumeData  map[string]any  `json:"resume_data,omitempty"`
}

// Response is the agent's report for a single request. Output is merged into
// execution variables on completion. A needs_input status carries the pause
// descriptor fields; an error status carries ErrorMessage and Retryable.
type Response struct {
	Status    ResponseStatus `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`

	// UIRequests surface structured prompts to the end user while paused.
	UIRequests []map[string]any `json:"ui_requests,omitempty"`

	PauseType      models.PauseType `json:"pause_type,omitempty"`
	PauseReason    string           `json:"pause_reason,omitempty"`
	RequiredAction string           `json:"required_action,omitempty"`
	RequiredData   map[string]any   `json:"required_data,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

// Agent is a specialist worker bound to a role. Execute blocks for the
// duration of the subtask; HandleMessage must be idempotent per message ID
// because delivery is at-least-once. Outbox exposes messages the agent wants
// routed to its peers.
type Agent interface {
	Role() string
	Version() string

	// Critical reports whether this agent's failures fail the whole task.
	// Non-critical agents degrade the task to partial success instead.
	Critical() bool

	Execute(ctx context.Context, request *Request) (*Response, error)
	HandleMessage(ctx context.Context, message *models.AgentMessage) error

	Outbox() <-chan *models.AgentMessage
	Stop(ctx context.Context) error
}
