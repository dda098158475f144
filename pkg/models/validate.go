package models

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// Validator returns the shared validator instance used across the codebase.
func Validator() *validator.Validate {
	return validate
}

// ValidateTask runs struct validation on a task.
func ValidateTask(t *Task) error {
	return validate.Struct(t)
}

// ValidateExecution runs struct validation on an execution.
func ValidateExecution(e *Execution) error {
	return validate.Struct(e)
}

// ValidatePausePoint runs struct validation on a pause point.
func ValidatePausePoint(p *PausePoint) error {
	return validate.Struct(p)
}

// ValidateMessage runs struct validation on an agent message.
func ValidateMessage(m *AgentMessage) error {
	return validate.Struct(m)
}
