package redelivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/taskmesh/taskmesh/pkg/models"
)

const memoryQueueCapacity = 1024

// MemoryQueue is the in-process queue used in single-node deployments and
// tests.
type MemoryQueue struct {
	logger *slog.Logger

	ch     chan *models.AgentMessage
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		logger: logger.With("module", "redelivery", "provider", "memory"),
		ch:     make(chan *models.AgentMessage, memoryQueueCapacity),
		stopCh: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, message *models.AgentMessage) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()

	if stopped {
		return errors.New("redelivery queue is stopped")
	}

	select {
	case q.ch <- message:
		return nil
	default:
		return errors.New("redelivery queue is full")
	}
}

func (q *MemoryQueue) Start(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return errors.New("redelivery queue already started")
	}

	q.started = true

	q.wg.Add(1)

	go func() {
		defer q.wg.Done()

		for {
			select {
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			case message := <-q.ch:
				err := handler(ctx, message)
				if err != nil {
					q.logger.ErrorContext(ctx, "Redelivery handler failed",
						"message_id", message.ID, "to", message.To, "error", err)
				}
			}
		}
	}()

	return nil
}

func (q *MemoryQueue) Stop(_ context.Context) error {
	q.mu.Lock()

	if q.stopped {
		q.mu.Unlock()

		return nil
	}

	q.stopped = true
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()

	return nil
}
