// Package main provides the taskmesh orchestrator daemon: the task state
// machine, the agent manager and the HTTP control surface in one process.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/taskmesh/taskmesh/pkg/agent"
	"github.com/taskmesh/taskmesh/pkg/eventbus"
	"github.com/taskmesh/taskmesh/pkg/manager"
	"github.com/taskmesh/taskmesh/pkg/orchestrator"
	"github.com/taskmesh/taskmesh/pkg/otelhelper"
	"github.com/taskmesh/taskmesh/pkg/persistence"
	"github.com/taskmesh/taskmesh/pkg/planner"
	"github.com/taskmesh/taskmesh/pkg/redelivery"
	"github.com/taskmesh/taskmesh/pkg/router"
	"github.com/taskmesh/taskmesh/pkg/stream"
	"github.com/taskmesh/taskmesh/pkg/web"
)

const shutdownTimeout = 30 * time.Second

type Service struct {
	logger    *slog.Logger
	store     persistence.Persistence
	registry  *agent.Registry
	observers *stream.Stream
	manager   *manager.Manager
	validate  *validator.Validate
}

func NewService(
	ctx context.Context,
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	queue redelivery.Queue,
	oracleURL string,
	tracing bool,
) (*Service, error) {
	registry := agent.NewRegistry()
	observers := stream.New(0, logger)
	audit := orchestrator.NewAuditLog(store.ContextEntryRepository(), logger)
	pauser := orchestrator.NewPauseController(store, eventBus, observers, audit, logger)
	executor := orchestrator.NewExecutor(
		planner.NewOracleClient(oracleURL, logger),
		registry,
		store,
		eventBus,
		observers,
		audit,
		pauser,
		logger,
	)
	messageRouter := router.NewRouter(registry, store.MessageRepository(), eventBus, logger)

	if tracing {
		tracer, err := otelhelper.NewTracer(ctx, "taskmesh-orchestrator")
		if err != nil {
			return nil, err
		}

		executor.SetTracer(tracer)
		messageRouter.SetTracer(tracer)
	}

	taskManager := manager.NewManager(store, registry, messageRouter, executor, pauser, audit, eventBus, observers, queue, logger)

	return &Service{
		logger:    logger,
		store:     store,
		registry:  registry,
		observers: observers,
		manager:   taskManager,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// RegisterAgent adds a specialist to the role registry. Agents are compiled
// into the deployment and registered before Start.
func (s *Service) RegisterAgent(specialist agent.Agent) error {
	return s.registry.Register(specialist)
}

func (s *Service) App() *fiber.App {
	handlers := web.NewAPIHandlers(s.manager, s.store, s.observers, s.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Taskmesh Orchestrator")
	})

	t := app.Group("/tasks")
	t.Get("/", handlers.GetTasks)
	t.Post("/", handlers.CreateTask)
	t.Get("/:id/status", handlers.GetTaskStatus)
	t.Post("/:id/pause", handlers.PauseTask)
	t.Get("/:id/events", handlers.TaskEvents)

	app.Post("/resume", handlers.ResumeTask)
	app.Get("/health", handlers.HealthCheck)

	return app
}

// Start runs the manager and the control API until a signal arrives, then
// shuts both down.
func (s *Service) Start(ctx context.Context, port int) error {
	err := s.manager.Start(ctx)
	if err != nil {
		return err
	}

	app := s.App()

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- app.Listen(":" + strconv.Itoa(port))
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-listenErr:
		s.logger.ErrorContext(ctx, "Control API stopped", "error", err)
	case <-sigChan:
		s.logger.InfoContext(ctx, "Shutting down orchestrator...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	shutdownErr := app.ShutdownWithContext(shutdownCtx)
	if shutdownErr != nil {
		s.logger.ErrorContext(ctx, "Failed to shut down control API", "error", shutdownErr)
	}

	stopErr := s.manager.Stop(shutdownCtx)
	if stopErr != nil {
		return stopErr
	}

	return err
}
