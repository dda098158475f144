package redelivery

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/pkg/models"
)

func newQueuedMessage() *models.AgentMessage {
	return &models.AgentMessage{
		ID:        uuid.New().String(),
		From:      "planner",
		To:        "forms",
		Type:      models.MessageTypeRequest,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryQueue_DeliversEnqueuedMessages(t *testing.T) {
	q := NewMemoryQueue(slog.Default())

	var (
		mu       sync.Mutex
		received []string
	)

	require.NoError(t, q.Start(t.Context(), func(_ context.Context, message *models.AgentMessage) error {
		mu.Lock()
		received = append(received, message.ID)
		mu.Unlock()

		return nil
	}))

	first := newQueuedMessage()
	second := newQueuedMessage()

	require.NoError(t, q.Enqueue(t.Context(), first))
	require.NoError(t, q.Enqueue(t.Context(), second))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{first.ID, second.ID}, received)
	mu.Unlock()

	require.NoError(t, q.Stop(t.Context()))
}

func TestMemoryQueue_EnqueueAfterStopFails(t *testing.T) {
	q := NewMemoryQueue(slog.Default())

	require.NoError(t, q.Start(t.Context(), func(context.Context, *models.AgentMessage) error {
		return nil
	}))
	require.NoError(t, q.Stop(t.Context()))
	require.NoError(t, q.Stop(t.Context()))

	require.Error(t, q.Enqueue(t.Context(), newQueuedMessage()))
}

func TestMemoryQueue_DoubleStartFails(t *testing.T) {
	q := NewMemoryQueue(slog.Default())

	handler := func(context.Context, *models.AgentMessage) error { return nil }

	require.NoError(t, q.Start(t.Context(), handler))
	require.Error(t, q.Start(t.Context(), handler))
	require.NoError(t, q.Stop(t.Context()))
}
