// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/persistence/file"
	"github.com/troneras/workflow-orchestrator/pkg/persistence/postgresql"
)

// NewPersistence opens the backend named by the URL scheme: postgres:// or
// postgresql:// for PostgreSQL, file:// or a bare path for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider, path := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		postgres, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return postgres
	default:
		logger.InfoContext(ctx, "Using file persistence", "path", path)

		return file.NewPersistence(path)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
