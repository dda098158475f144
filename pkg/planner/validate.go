package planner

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// planSchema is the strict contract a plan must satisfy before it reaches the
// state machine. Anything the oracle returns outside this shape is rejected,
// not repaired.
const planSchema = `{
	"type": "object",
	"required": ["phases"],
	"properties": {
		"phases": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "subtasks"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"parallel": {"type": "boolean"},
					"subtasks": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["role", "instruction"],
							"properties": {
								"role": {"type": "string", "minLength": 1},
								"instruction": {"type": "string", "minLength": 1},
								"expected_output": {"type": "string"},
								"success_criteria": {
									"type": "array",
									"items": {"type": "string"}
								}
							}
						}
					}
				}
			}
		}
	}
}`

var compiledPlanSchema = gojsonschema.NewStringLoader(planSchema)

// ValidatePlan checks a raw plan document against the plan schema and returns
// the decoded plan. The returned error wraps ErrMalformedPlan so callers can
// classify it.
func ValidatePlan(raw []byte) (*models.ExecutionPlan, error) {
	result, err := gojsonschema.Validate(compiledPlanSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPlan, schemaErrors(result))
	}

	var plan models.ExecutionPlan

	err = json.Unmarshal(raw, &plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}

	err = checkPlan(&plan)
	if err != nil {
		return nil, err
	}

	return &plan, nil
}

// checkPlan enforces structural constraints the JSON schema cannot express.
func checkPlan(plan *models.ExecutionPlan) error {
	seen := make(map[string]bool, len(plan.Phases))

	for _, phase := range plan.Phases {
		if seen[phase.Name] {
			return fmt.Errorf("%w: duplicate phase name %q", ErrMalformedPlan, phase.Name)
		}

		seen[phase.Name] = true
	}

	return nil
}

// Normalize stamps identities and timestamps onto a validated plan, binding it
// to the task it was produced for.
func Normalize(plan *models.ExecutionPlan, taskID string) {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}

	plan.TaskID = taskID

	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	for _, phase := range plan.Phases {
		for _, subtask := range phase.Subtasks {
			if subtask.ID == "" {
				subtask.ID = uuid.New().String()
			}
		}
	}
}

func schemaErrors(result *gojsonschema.Result) string {
	msg := ""

	for i, desc := range result.Errors() {
		if i > 0 {
			msg += "; "
		}

		msg += desc.String()
	}

	return msg
}
