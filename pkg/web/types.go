// Package web provides HTTP request and response types for the task API.
package web

import "time"

// CreateTaskRequest represents the request body for creating a new task.
type CreateTaskRequest struct {
	UserID     string         `json:"user_id"     validate:"required"`
	BusinessID string         `json:"business_id" validate:"required"`
	TemplateID string         `json:"template_id,omitempty"`
	Priority   string         `json:"priority,omitempty"    validate:"omitempty,oneof=critical high medium low"`
	Deadline   *time.Time     `json:"deadline,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PauseTaskRequest represents the request body for an operator pause.
type PauseTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ResumeRequest represents the request body for consuming a resume token.
type ResumeRequest struct {
	Token     string         `json:"token" validate:"required"`
	Data      map[string]any `json:"data,omitempty"`
	ResumedBy string         `json:"resumed_by,omitempty"`
}

// ResumeResponse confirms which pause point a token resolved.
type ResumeResponse struct {
	TaskID       string `json:"task_id"`
	ExecutionID  string `json:"execution_id"`
	PausePointID string `json:"pause_point_id"`
	PhaseName    string `json:"phase_name"`
}
