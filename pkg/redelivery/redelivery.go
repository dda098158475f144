// Package redelivery provides the queue that undelivered agent messages are
// parked on until their recipient can take them. The manager's sweep feeds
// it; handlers route messages back through the router.
package redelivery

import (
	"context"

	"github.com/taskmesh/taskmesh/pkg/models"
)

// Handler processes one queued message. Returning an error leaves the message
// undelivered in the store so a later sweep retries it.
type Handler func(ctx context.Context, message *models.AgentMessage) error

// Queue transports undelivered messages between the sweep and the router.
type Queue interface {
	Enqueue(ctx context.Context, message *models.AgentMessage) error
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}
