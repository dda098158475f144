package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/models"
)

const outboxCapacity = 64

// BaseAgent provides the outbox plumbing and per-message deduplication shared
// by concrete agents. Embed it and implement Execute plus the identity
// methods.
type BaseAgent struct {
	role   string
	logger *slog.Logger

	outbox chan *models.AgentMessage

	mu      sync.Mutex
	seen    map[string]bool
	stopped bool
}

func NewBaseAgent(role string, logger *slog.Logger) *BaseAgent {
	return &BaseAgent{
		role:   role,
		logger: logger.With("module", "agent", "role", role),
		outbox: make(chan *models.AgentMessage, outboxCapacity),
		seen:   make(map[string]bool),
	}
}

func (a *BaseAgent) Role() string { return a.role }

func (a *BaseAgent) Outbox() <-chan *models.AgentMessage { return a.outbox }

// Send queues a message for routing. It stamps identity fields the caller
// left empty and drops the message if the agent is stopped.
func (a *BaseAgent) Send(to string, messageType models.MessageType, taskID string, payload map[string]any) *models.AgentMessage {
	message := &models.AgentMessage{
		ID:        uuid.New().String(),
		From:      a.role,
		To:        to,
		Type:      messageType,
		TaskID:    taskID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()

	if stopped {
		return message
	}

	select {
	case a.outbox <- message:
	default:
		a.logger.Warn("Outbox full, dropping message", "to", to, "type", messageType)
	}

	return message
}

// MarkSeen records a message ID and reports whether it was already handled.
// Receivers call this first so redelivered messages become no-ops.
func (a *BaseAgent) MarkSeen(messageID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seen[messageID] {
		return true
	}

	a.seen[messageID] = true

	return false
}

// HandleMessage is the default receiver: dedupe and log. Concrete agents
// override it when they react to peer messages.
func (a *BaseAgent) HandleMessage(ctx context.Context, message *models.AgentMessage) error {
	if a.MarkSeen(message.ID) {
		a.logger.DebugContext(ctx, "Duplicate message ignored", "message_id", message.ID, "from", message.From)

		return nil
	}

	a.logger.DebugContext(ctx, "Message received", "message_id", message.ID, "from", message.From, "type", message.Type)

	return nil
}

func (a *BaseAgent) Stop(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}

	a.stopped = true
	close(a.outbox)

	return nil
}
