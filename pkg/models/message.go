package models

import "time"

// MessageType classifies inter-agent messages.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// AgentMessage is a unit of inter-agent communication. Delivery is
// at-least-once: receivers must be idempotent per message ID. Messages are
// persisted for audit and redelivery, never replayed for control flow.
type AgentMessage struct {
	ID            string         `json:"id"   validate:"required"`
	From          string         `json:"from" validate:"required"`
	To            string         `json:"to"   validate:"required"`
	Type          MessageType    `json:"type" validate:"required,oneof=request response notification error"`
	Priority      TaskPriority   `json:"priority,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// DeliveredAt is the delivery acknowledgment; nil means the redelivery
	// sweep will re-route the message until DeliveryAttempts hits its cap.
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	DeliveryAttempts int        `json:"delivery_attempts"`
}
