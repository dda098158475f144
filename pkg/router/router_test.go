package router

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/pkg/agent"
	"github.com/taskmesh/taskmesh/pkg/mocks"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence/file"
)

type recordingAgent struct {
	*agent.BaseAgent

	received []string
	fail     error
}

func newRecordingAgent(role string) *recordingAgent {
	return &recordingAgent{BaseAgent: agent.NewBaseAgent(role, slog.Default())}
}

func (a *recordingAgent) Version() string { return "1.0.0" }
func (a *recordingAgent) Critical() bool  { return false }

func (a *recordingAgent) Execute(_ context.Context, _ *agent.Request) (*agent.Response, error) {
	return &agent.Response{Status: agent.StatusCompleted}, nil
}

func (a *recordingAgent) HandleMessage(_ context.Context, message *models.AgentMessage) error {
	if a.MarkSeen(message.ID) {
		return nil
	}

	if a.fail != nil {
		return a.fail
	}

	a.received = append(a.received, message.ID)

	return nil
}

func newTestRouter(t *testing.T) (*Router, *agent.Registry, *file.Persistence) {
	t.Helper()

	registry := agent.NewRegistry()
	store := file.NewPersistence(t.TempDir())

	return NewRouter(registry, store.MessageRepository(), nil, slog.Default()), registry, store
}

func newMessage(to string) *models.AgentMessage {
	return &models.AgentMessage{
		From:   "planner",
		To:     to,
		Type:   models.MessageTypeRequest,
		TaskID: "task-1",
	}
}

func TestRoute_DeliversAndAcknowledges(t *testing.T) {
	router, registry, store := newTestRouter(t)

	forms := newRecordingAgent("forms")
	require.NoError(t, registry.Register(forms))

	message := newMessage("forms")
	require.NoError(t, router.Route(t.Context(), message))
	require.Len(t, forms.received, 1)

	persisted, err := store.MessageRepository().GetByID(t.Context(), message.ID)
	require.NoError(t, err)
	assert.NotNil(t, persisted.DeliveredAt)
	assert.Equal(t, 1, persisted.DeliveryAttempts)
}

func TestRoute_UnknownRecipientRetained(t *testing.T) {
	router, _, store := newTestRouter(t)

	message := newMessage("nobody")
	require.NoError(t, router.Route(t.Context(), message))
	assert.Equal(t, int64(1), router.Unroutable())

	// Message stays undelivered so the redelivery sweep picks it up once the
	// agent registers.
	undelivered, err := store.MessageRepository().ListUndelivered(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, undelivered, 1)
	assert.Equal(t, message.ID, undelivered[0].ID)
}

func TestRoute_ReceiverFailureKeepsMessageUndelivered(t *testing.T) {
	router, registry, store := newTestRouter(t)

	forms := newRecordingAgent("forms")
	forms.fail = errors.New("handler broken")
	require.NoError(t, registry.Register(forms))

	message := newMessage("forms")
	require.Error(t, router.Route(t.Context(), message))

	persisted, err := store.MessageRepository().GetByID(t.Context(), message.ID)
	require.NoError(t, err)
	assert.Nil(t, persisted.DeliveredAt)
	assert.Equal(t, 1, persisted.DeliveryAttempts)
}

func TestRoute_DuplicateDeliveryIsIdempotent(t *testing.T) {
	router, registry, _ := newTestRouter(t)

	forms := newRecordingAgent("forms")
	require.NoError(t, registry.Register(forms))

	message := newMessage("forms")
	message.ID = "fixed-id"
	message.CreatedAt = time.Now().UTC()

	require.NoError(t, router.Route(t.Context(), message))
	require.NoError(t, router.Route(t.Context(), message))

	assert.Len(t, forms.received, 1)
}

func TestRoute_InvalidMessageRejected(t *testing.T) {
	router, _, _ := newTestRouter(t)

	message := &models.AgentMessage{From: "planner", Type: models.MessageTypeRequest}
	require.Error(t, router.Route(t.Context(), message))
}

func TestRoute_PersistenceFailureStillDelivers(t *testing.T) {
	registry := agent.NewRegistry()

	messages := &mocks.MockMessageRepository{}
	messages.On("Save", mock.Anything, mock.Anything).Return(errors.New("store down"))
	messages.On("IncrementAttempts", mock.Anything, mock.Anything).Return(errors.New("store down"))
	messages.On("MarkDelivered", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("store down"))

	router := NewRouter(registry, messages, nil, slog.Default())

	forms := newRecordingAgent("forms")
	require.NoError(t, registry.Register(forms))

	// Persistence is best-effort relative to delivery: the receiver still
	// gets the message when the store is down.
	require.NoError(t, router.Route(t.Context(), newMessage("forms")))
	assert.Len(t, forms.received, 1)
}

func TestRoute_PublishesRoutedEvent(t *testing.T) {
	registry := agent.NewRegistry()
	store := file.NewPersistence(t.TempDir())

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "task-1", mock.Anything).Return(nil)

	router := NewRouter(registry, store.MessageRepository(), bus, slog.Default())

	forms := newRecordingAgent("forms")
	require.NoError(t, registry.Register(forms))

	require.NoError(t, router.Route(t.Context(), newMessage("forms")))
	bus.AssertCalled(t, "Publish", mock.Anything, "task-1", mock.Anything)
}
