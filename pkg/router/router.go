// Package router delivers inter-agent messages. Delivery is at-least-once:
// the router persists each message before handing it to the receiver and only
// acknowledges delivery after the receiver returns, so a crash between the
// two re-routes the message on the next sweep. Persistence is best-effort
// relative to delivery: a store failure is logged and the message is handed
// to the receiver regardless.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/agent"
	"github.com/taskmesh/taskmesh/pkg/eventbus"
	"github.com/taskmesh/taskmesh/pkg/events"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/otelhelper"
	"github.com/taskmesh/taskmesh/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Router struct {
	registry *agent.Registry
	messages persistence.MessageRepository
	eventBus eventbus.EventBus
	logger   *slog.Logger
	tracer   trace.Tracer

	unroutable atomic.Int64
}

func NewRouter(registry *agent.Registry, messages persistence.MessageRepository, eventBus eventbus.EventBus, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		messages: messages,
		eventBus: eventBus,
		logger:   logger.With("module", "router"),
	}
}

// SetTracer enables spans around message delivery.
func (r *Router) SetTracer(tracer trace.Tracer) {
	r.tracer = tracer
}

// Route persists a message and delivers it to the target agent. An unknown
// recipient is logged and counted, not returned as an error: senders cannot
// do anything useful about a peer that is not registered.
func (r *Router) Route(ctx context.Context, message *models.AgentMessage) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	if r.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, r.tracer, "router.route",
			attribute.String(otelhelper.MessageIDKey, message.ID),
			attribute.String(otelhelper.TaskIDKey, message.TaskID),
			attribute.String(otelhelper.AgentRoleKey, message.To))
		defer span.End()
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	err := models.ValidateMessage(message)
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	err = r.messages.Save(ctx, message)
	if err != nil {
		// A store outage must not stop messages flowing between agents; the
		// message just loses its redelivery safety net.
		r.logger.ErrorContext(ctx, "Failed to persist message, delivering anyway",
			"message_id", message.ID, "from", message.From, "to", message.To, "error", err)
	}

	target, ok := r.registry.Get(message.To)
	if !ok {
		r.unroutable.Add(1)
		r.logger.WarnContext(ctx, "No agent registered for recipient, message retained for redelivery",
			"message_id", message.ID, "from", message.From, "to", message.To)

		return nil
	}

	err = r.messages.IncrementAttempts(ctx, message.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to record delivery attempt",
			"message_id", message.ID, "error", err)
	}

	err = target.HandleMessage(ctx, message)
	if err != nil {
		r.logger.ErrorContext(ctx, "Receiver failed to handle message",
			"message_id", message.ID, "to", message.To, "error", err)

		return fmt.Errorf("delivery to %s failed: %w", message.To, err)
	}

	// Acknowledgment is best-effort: an unacknowledged delivery is re-routed
	// by the sweep and de-duplicated by the receiver.
	err = r.messages.MarkDelivered(ctx, message.ID, time.Now().UTC())
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to acknowledge delivery",
			"message_id", message.ID, "error", err)
	}

	r.publishRouted(ctx, message)

	return nil
}

// Unroutable returns the count of messages addressed to unregistered roles.
func (r *Router) Unroutable() int64 {
	return r.unroutable.Load()
}

func (r *Router) publishRouted(ctx context.Context, message *models.AgentMessage) {
	if r.eventBus == nil {
		return
	}

	event := events.MessageRouted{
		BaseEvent: events.NewBaseEvent(events.MessageRoutedEvent, message.TaskID),
		MessageID: message.ID,
		From:      message.From,
		To:        message.To,
		Kind:      message.Type,
	}

	err := r.eventBus.Publish(ctx, message.TaskID, event)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to publish message routed event", "message_id", message.ID, "error", err)
	}
}
