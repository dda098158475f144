package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskmesh/taskmesh/pkg/redelivery"
)

// NewRedeliveryQueue picks the redelivery transport. Redis keeps undelivered
// messages across restarts; memory is the single-node default.
func NewRedeliveryQueue(ctx context.Context, provider, redisAddr string, logger *slog.Logger) redelivery.Queue {
	switch provider {
	case "redis":
		queue, err := redelivery.NewRedisQueue(ctx, redisAddr, "", "", 0, logger)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis redelivery queue: %w", err))
		}

		return queue
	case "memory", "":
		return redelivery.NewMemoryQueue(logger)
	default:
		panic("Unsupported redelivery queue provider: " + provider)
	}
}
