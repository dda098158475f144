package models

import "time"

// PauseType classifies why a task was suspended.
type PauseType string

const (
	PauseTypeUserApproval PauseType = "user_approval"
	PauseTypePayment      PauseType = "payment"
	PauseTypeExternalWait PauseType = "external_wait"
	PauseTypeError        PauseType = "error"
)

// PausePoint is a durable suspension record. The resume token is unguessable
// and consumed at most once; the phase/subtask scope is what lets the
// orchestrator re-enter the plan at the exact point it stopped.
type PausePoint struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"      validate:"required"`
	ExecutionID string    `json:"execution_id" validate:"required"`
	Type        PauseType `json:"type"         validate:"required,oneof=user_approval payment external_wait error"`

	Reason         string         `json:"reason"`
	RequiredAction string         `json:"required_action,omitempty"`
	RequiredData   map[string]any `json:"required_data,omitempty"`

	PhaseName string `json:"phase_name"`
	SubtaskID string `json:"subtask_id"`

	ResumeToken string     `json:"resume_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	Resumed    bool           `json:"resumed"`
	ResumedAt  *time.Time     `json:"resumed_at,omitempty"`
	ResumeData map[string]any `json:"resume_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the pause point's token can no longer be used.
func (p *PausePoint) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}
