package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskmesh/taskmesh/pkg/models"
)

const defaultOracleTimeout = 60 * time.Second

// maxPlanBody bounds how much of an oracle response is read; a plan document
// has no business being larger.
const maxPlanBody = 1 << 20

// OracleClient calls an external planning service over HTTP. A single call
// can take seconds; callers must only block the initial dispatch on it.
type OracleClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type oracleRequest struct {
	Definition TaskDefinition `json:"definition"`
	Context    map[string]any `json:"context,omitempty"`
}

func NewOracleClient(baseURL string, logger *slog.Logger) *OracleClient {
	return &OracleClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultOracleTimeout},
		logger:     logger.With("module", "planner_oracle"),
	}
}

func (c *OracleClient) Plan(ctx context.Context, definition TaskDefinition, taskContext map[string]any) (*models.ExecutionPlan, error) {
	body, err := json.Marshal(oracleRequest{Definition: definition, Context: taskContext})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal planning request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/plan", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build planning request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	started := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.DebugContext(ctx, "Planning oracle responded",
		"task_id", definition.TaskID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrMalformedPlan, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPlanBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	plan, err := ValidatePlan(raw)
	if err != nil {
		return nil, err
	}

	Normalize(plan, definition.TaskID)

	return plan, nil
}
