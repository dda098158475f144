package agent

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/pkg/models"
)

type stubAgent struct {
	*BaseAgent

	critical bool
}

func newStubAgent(role string, critical bool) *stubAgent {
	return &stubAgent{BaseAgent: NewBaseAgent(role, slog.Default()), critical: critical}
}

func (a *stubAgent) Version() string { return "1.0.0" }
func (a *stubAgent) Critical() bool  { return a.critical }

func (a *stubAgent) Execute(_ context.Context, _ *Request) (*Response, error) {
	return &Response{Status: StatusCompleted}, nil
}

func TestBaseAgent_SendQueuesToOutbox(t *testing.T) {
	a := newStubAgent("forms", true)

	sent := a.Send("payment", models.MessageTypeRequest, "task-1", map[string]any{"amount": 50})
	require.NotEmpty(t, sent.ID)
	assert.Equal(t, "forms", sent.From)

	select {
	case got := <-a.Outbox():
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "payment", got.To)
		assert.Equal(t, "task-1", got.TaskID)
	default:
		t.Fatal("expected message in outbox")
	}
}

func TestBaseAgent_HandleMessageDeduplicates(t *testing.T) {
	a := newStubAgent("forms", true)

	message := &models.AgentMessage{ID: "msg-1", From: "legal", To: "forms", Type: models.MessageTypeNotification}

	require.NoError(t, a.HandleMessage(t.Context(), message))
	assert.True(t, a.MarkSeen("msg-1"))

	// Redelivery of the same ID is a no-op.
	require.NoError(t, a.HandleMessage(t.Context(), message))
}

func TestBaseAgent_StopClosesOutbox(t *testing.T) {
	a := newStubAgent("forms", true)

	require.NoError(t, a.Stop(t.Context()))
	require.NoError(t, a.Stop(t.Context()))

	_, open := <-a.Outbox()
	assert.False(t, open)

	// Sending after stop must not panic.
	a.Send("payment", models.MessageTypeRequest, "task-1", nil)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(newStubAgent("forms", true)))
	require.NoError(t, registry.Register(newStubAgent("legal", false)))
	require.Error(t, registry.Register(newStubAgent("forms", true)))

	a, ok := registry.Get("forms")
	require.True(t, ok)
	assert.Equal(t, "forms", a.Role())

	_, ok = registry.Get("unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{"forms", "legal"}, registry.Roles())
}

func TestRegistry_StopAll(t *testing.T) {
	registry := NewRegistry()

	forms := newStubAgent("forms", true)
	require.NoError(t, registry.Register(forms))
	require.NoError(t, registry.StopAll(t.Context()))

	_, open := <-forms.Outbox()
	assert.False(t, open)
}
