// Package cmd provides shared construction helpers for the binaries: picking
// the persistence provider, the event bus transport and the redelivery queue
// from configuration.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/taskmesh/taskmesh/pkg/persistence"
	"github.com/taskmesh/taskmesh/pkg/persistence/file"
	"github.com/taskmesh/taskmesh/pkg/persistence/postgresql"
)

// NewPersistence picks the store from the database URL scheme. "postgres://"
// URLs get PostgreSQL; anything else falls back to the file store rooted at
// the URL path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to initialize PostgreSQL persistence", "error", err)
			panic(err)
		}

		return store
	default:
		return file.NewPersistence(rest)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
