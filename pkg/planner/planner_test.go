package planner

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/pkg/models"
)

func validPlanJSON() []byte {
	return []byte(`{
		"phases": [
			{
				"name": "discovery",
				"subtasks": [
					{"role": "legal", "instruction": "Identify required licenses"}
				]
			},
			{
				"name": "filing",
				"parallel": true,
				"subtasks": [
					{"role": "forms", "instruction": "Fill out application"},
					{"role": "payment", "instruction": "Pay filing fee"}
				]
			}
		]
	}`)
}

func TestValidatePlan_Valid(t *testing.T) {
	plan, err := ValidatePlan(validPlanJSON())
	require.NoError(t, err)
	require.Len(t, plan.Phases, 2)
	assert.Equal(t, "discovery", plan.Phases[0].Name)
	assert.True(t, plan.Phases[1].Parallel)
	require.Len(t, plan.Phases[1].Subtasks, 2)
}

func TestValidatePlan_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"phases": [`,
		"no phases":         `{"phases": []}`,
		"missing role":      `{"phases": [{"name": "a", "subtasks": [{"instruction": "do"}]}]}`,
		"empty instruction": `{"phases": [{"name": "a", "subtasks": [{"role": "x", "instruction": ""}]}]}`,
		"no subtasks":       `{"phases": [{"name": "a", "subtasks": []}]}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidatePlan([]byte(raw))
			require.ErrorIs(t, err, ErrMalformedPlan)
		})
	}
}

func TestValidatePlan_DuplicatePhaseNames(t *testing.T) {
	raw := `{"phases": [
		{"name": "a", "subtasks": [{"role": "x", "instruction": "do"}]},
		{"name": "a", "subtasks": [{"role": "y", "instruction": "do"}]}
	]}`

	_, err := ValidatePlan([]byte(raw))
	require.ErrorIs(t, err, ErrMalformedPlan)
	assert.Contains(t, err.Error(), "duplicate phase name")
}

func TestNormalize_StampsIdentities(t *testing.T) {
	plan, err := ValidatePlan(validPlanJSON())
	require.NoError(t, err)

	Normalize(plan, "task-1")

	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "task-1", plan.TaskID)
	assert.False(t, plan.CreatedAt.IsZero())

	for _, phase := range plan.Phases {
		for _, subtask := range phase.Subtasks {
			assert.NotEmpty(t, subtask.ID)
		}
	}
}

func TestOracleClient_Plan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/plan", r.URL.Path)

		var request oracleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "task-1", request.Definition.TaskID)

		_, _ = w.Write(validPlanJSON())
	}))
	defer server.Close()

	client := NewOracleClient(server.URL, slog.Default())

	plan, err := client.Plan(t.Context(), TaskDefinition{TaskID: "task-1", Objective: "register business"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "task-1", plan.TaskID)
	require.Len(t, plan.Phases, 2)
}

func TestOracleClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, "", ErrRateLimited},
		{"server error", http.StatusInternalServerError, "", ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, "", ErrUnavailable},
		{"unexpected status", http.StatusNotFound, "", ErrMalformedPlan},
		{"garbage body", http.StatusOK, `{"phases": []}`, ErrMalformedPlan},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewOracleClient(server.URL, slog.Default())

			_, err := client.Plan(t.Context(), TaskDefinition{TaskID: "task-1"}, nil)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestOracleClient_ConnectionRefused(t *testing.T) {
	client := NewOracleClient("http://127.0.0.1:1", slog.Default())

	_, err := client.Plan(t.Context(), TaskDefinition{TaskID: "task-1"}, nil)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsRetryable(err))
}

func TestStaticPlanner_DeepCopies(t *testing.T) {
	static := &StaticPlanner{
		Phases: []*models.Phase{
			{Name: "only", Subtasks: []*models.Subtask{{Role: "x", Instruction: "do"}}},
		},
	}

	first, err := static.Plan(t.Context(), TaskDefinition{TaskID: "t1"}, nil)
	require.NoError(t, err)

	second, err := static.Plan(t.Context(), TaskDefinition{TaskID: "t2"}, nil)
	require.NoError(t, err)

	first.Phases[0].Subtasks[0].Instruction = "mutated"
	assert.Equal(t, "do", second.Phases[0].Subtasks[0].Instruction)
	assert.NotEqual(t, first.Phases[0].Subtasks[0].ID, second.Phases[0].Subtasks[0].ID)
}

func TestStaticPlanner_Err(t *testing.T) {
	boom := errors.New("boom")
	static := &StaticPlanner{Err: boom}

	_, err := static.Plan(t.Context(), TaskDefinition{TaskID: "t1"}, nil)
	require.ErrorIs(t, err, boom)
}
