// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/persistence/sqlbase"

	// postgres driver
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	executionRepo *ExecutionRepository
	eventRepo     *StreamEventRepository
	attemptRepo   *WebhookAttemptRepository
	providerRepo  *ProviderRepository
	taskRepo      *TaskRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:            database,
		logger:        logger,
		executionRepo: &ExecutionRepository{db: database, logger: logger},
		eventRepo:     &StreamEventRepository{db: database, logger: logger},
		attemptRepo:   &WebhookAttemptRepository{db: database, logger: logger},
		providerRepo:  &ProviderRepository{db: database, logger: logger},
		taskRepo:      &TaskRepository{db: database, logger: logger},
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) StreamEventRepository() persistence.StreamEventRepository {
	return p.eventRepo
}

func (p *Persistence) WebhookAttemptRepository() persistence.WebhookAttemptRepository {
	return p.attemptRepo
}

func (p *Persistence) ProviderRepository() persistence.ProviderRepository {
	return p.providerRepo
}

func (p *Persistence) TaskRepository() persistence.TaskRepository {
	return p.taskRepo
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// jsonColumn marshals v for a JSONB column, storing NULL for nil values.
func jsonColumn(v any) (any, error) {
	switch value := v.(type) {
	case map[string]any:
		if value == nil {
			return nil, nil
		}
	case []any:
		if value == nil {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}

	return stripEscapedNUL(data), nil
}

// stripEscapedNUL removes \u0000 escapes, which jsonb rejects, from marshaled
// JSON. Escape pairs are skipped whole so an escaped backslash followed by
// "u0000" text is kept.
func stripEscapedNUL(data []byte) []byte {
	nul := []byte(`\u0000`)
	if !bytes.Contains(data, nul) {
		return data
	}

	out := make([]byte, 0, len(data))

	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 == len(data) {
			out = append(out, data[i])

			continue
		}

		if bytes.HasPrefix(data[i:], nul) {
			i += len(nul) - 1

			continue
		}

		out = append(out, data[i], data[i+1])
		i++
	}

	return out
}

func decodeJSONColumn(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}

	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}

	i := int(v.Int64)

	return &i
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
