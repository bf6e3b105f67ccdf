package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
)

// MigrateUp applies all pending migrations. An up-to-date schema is not an error.
func MigrateUp(ctx context.Context, connString string) error {
	return run(ctx, connString, "up", func(m Migrator) error { return m.Up() })
}

// MigrateDown rolls back the given number of migrations
func MigrateDown(ctx context.Context, connString string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	return run(ctx, connString, "down", func(m Migrator) error { return m.Steps(-steps) })
}

// MigrateDownAll rolls back every migration, dropping the whole schema
func MigrateDownAll(ctx context.Context, connString string) error {
	return run(ctx, connString, "down", func(m Migrator) error { return m.Down() })
}

func run(ctx context.Context, connString, direction string, fn func(Migrator) error) error {
	m, err := NewFromConnectionString(connString)
	if err != nil {
		return err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.WarnContext(ctx, "Failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.InfoContext(ctx, "Database migrations applied", "direction", direction, "version", 0)
	case err != nil:
		return fmt.Errorf("failed to read migration version: %w", err)
	default:
		slog.InfoContext(ctx, "Database migrations applied", "direction", direction, "version", version, "dirty", dirty)
	}
	return nil
}
