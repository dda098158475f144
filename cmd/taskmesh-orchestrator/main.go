package main

import (
	"context"
	"os"

	"github.com/taskmesh/taskmesh/pkg/cmd"
	"github.com/taskmesh/taskmesh/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("orchestrator")

	cmd := &cli.Command{
		Name:                  "taskmesh-orchestrator",
		Usage:                 "Run the task orchestration engine and its control API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the control API on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "plan-oracle-url",
				Usage:    "Base URL of the planning oracle service",
				Required: true,
				Sources:  cli.EnvVars("PLAN_ORACLE_URL"),
			},
			&cli.StringFlag{
				Name:    "redelivery-queue",
				Usage:   "Redelivery queue type (memory, redis)",
				Value:   "memory",
				Sources: cli.EnvVars("REDELIVERY_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the redis redelivery queue",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing taskmesh orchestrator")

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			queue := cmd.NewRedeliveryQueue(ctx, command.String("redelivery-queue"), command.String("redis-addr"), logger)

			service, err := NewService(
				ctx,
				logger,
				store,
				eventBus,
				queue,
				command.String("plan-oracle-url"),
				command.Bool("tracing"),
			)
			if err != nil {
				return err
			}

			err = service.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to run orchestrator", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
