package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/events"
	"github.com/taskmesh/taskmesh/pkg/manager"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
	"github.com/taskmesh/taskmesh/pkg/stream"
)

type APIHandlers struct {
	manager     *manager.Manager
	persistence persistence.Persistence
	observers   *stream.Stream
	validator   *validator.Validate
}

func NewAPIHandlers(taskManager *manager.Manager, store persistence.Persistence, observers *stream.Stream, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		manager:     taskManager,
		persistence: store,
		observers:   observers,
		validator:   validate,
	}
}

func (h *APIHandlers) CreateTask(c fiber.Ctx) error {
	var req CreateTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.manager.CreateTask(c.Context(), manager.CreateTaskInput{
		UserID:     req.UserID,
		BusinessID: req.BusinessID,
		TemplateID: req.TemplateID,
		Priority:   models.TaskPriority(req.Priority),
		Deadline:   req.Deadline,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *APIHandlers) GetTasks(c fiber.Ctx) error {
	tasks, err := h.persistence.TaskRepository().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"tasks": tasks, "total_count": len(tasks)})
}

func (h *APIHandlers) GetTaskStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	status, err := h.manager.GetTaskStatus(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) PauseTask(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	var req PauseTaskRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	err := h.manager.PauseTask(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "pause_requested"})
}

func (h *APIHandlers) ResumeTask(c fiber.Ctx) error {
	var req ResumeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	pausePoint, err := h.manager.ResumeTask(c.Context(), req.Token, req.Data, req.ResumedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ResumeResponse{
		TaskID:       pausePoint.TaskID,
		ExecutionID:  pausePoint.ExecutionID,
		PausePointID: pausePoint.ID,
		PhaseName:    pausePoint.PhaseName,
	})
}

// TaskEvents streams a task's observer feed as server-sent events. Buffered
// history is replayed first unless replay=false; the stream ends when the
// task reaches a terminal state.
func (h *APIHandlers) TaskEvents(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	_, err := h.persistence.TaskRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	skipHistory := false
	if replayStr := c.Query("replay"); replayStr != "" {
		replay, err := strconv.ParseBool(replayStr)
		if err != nil {
			return badRequest(c, "Invalid replay parameter")
		}

		skipHistory = !replay
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		eventCh := make(chan stream.Event, 64)

		unsubscribe := h.observers.Subscribe(id, func(ev stream.Event) {
			select {
			case eventCh <- ev:
			default:
			}
		}, uuid.New().String(), skipHistory)
		defer unsubscribe()

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case ev := <-eventCh:
				if writeSSE(w, ev) != nil {
					return
				}

				if terminalEvent(ev.Type) {
					return
				}
			case <-keepalive.C:
				_, err := w.WriteString(": keepalive\n\n")
				if err != nil || w.Flush() != nil {
					return
				}
			}
		}
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	message := "Taskmesh API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Taskmesh API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"agents":    h.manager.AgentHealth(),
		"timestamp": time.Now().UTC(),
	})
}

func writeSSE(w *bufio.Writer, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, err = w.WriteString("event: " + ev.Type + "\ndata: " + string(data) + "\n\n")
	if err != nil {
		return err
	}

	return w.Flush()
}

func terminalEvent(eventType string) bool {
	return eventType == string(events.TaskCompletedEvent) || eventType == string(events.TaskFailedEvent)
}
