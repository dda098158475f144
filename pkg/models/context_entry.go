package models

import "time"

// SystemActor is the actor recorded for transitions the engine itself makes.
const SystemActor = "system"

// ContextEntry is one immutable audit record of a state transition. Sequence
// numbers are strictly increasing and gapless per task; the entry log is the
// single source of truth for what happened to a task.
type ContextEntry struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id" validate:"required"`
	Sequence int64  `json:"sequence"`

	// Actor is "system" or "<agent-role>@<version>".
	Actor     string         `json:"actor"     validate:"required"`
	Operation string         `json:"operation" validate:"required"`
	Data      map[string]any `json:"data,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`

	// TriggeredBy records provenance when another entry or external call
	// caused this transition.
	TriggeredBy string `json:"triggered_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
