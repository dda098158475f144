package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/taskmesh/taskmesh/pkg/manager"
	"github.com/taskmesh/taskmesh/pkg/orchestrator"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps engine errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsTaskNotFound(err):
		return notFound(c, "task not found")

	case errors.Is(err, orchestrator.ErrInvalidOrExpiredToken):
		return notFound(c, "invalid or expired resume token")

	case errors.Is(err, manager.ErrTaskTerminal):
		return conflict(c, "task is in a terminal state")

	case errors.Is(err, manager.ErrTaskAlreadyPaused):
		return conflict(c, "task is already paused")

	default:
		return internalError(c, err)
	}
}
