package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/store"
	dbstore "github.com/stacklok/integration-sync/internal/store/db"
)

// DatabaseFactory creates database-backed stores sharing one connection pool
type DatabaseFactory struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ Factory = (*DatabaseFactory)(nil)

// NewDatabaseFactory creates a database-backed storage factory.
// The pool connects lazily, so an unreachable database surfaces on first use or Ping.
func NewDatabaseFactory(ctx context.Context, cfg *config.DatabaseConfig, opts ...Option) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required for database storage type")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	slog.Info("Creating database-backed storage factory", "host", cfg.Host, "database", cfg.Database)

	pool, err := buildConnectionPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	return &DatabaseFactory{pool: pool, tracer: o.tracer}, nil
}

// Type returns StorageTypeDatabase
func (*DatabaseFactory) Type() StorageType {
	return StorageTypeDatabase
}

// CreateStore creates a PostgreSQL store on the factory's pool
func (d *DatabaseFactory) CreateStore(_ context.Context) (store.Store, error) {
	slog.Debug("Creating database-backed store")

	opts := []dbstore.Option{
		dbstore.WithConnectionPool(d.pool),
	}
	if d.tracer != nil {
		opts = append(opts, dbstore.WithTracer(d.tracer))
		slog.Debug("Database store tracing enabled")
	}
	return dbstore.New(opts...)
}

// Cleanup closes the connection pool
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}

// buildConnectionPool creates a connection pool configured from cfg
func buildConnectionPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	lifetime, err := cfg.GetConnMaxLifetime()
	if err != nil {
		return nil, fmt.Errorf("failed to parse connMaxLifetime: %w", err)
	}
	if lifetime > 0 {
		poolConfig.MaxConnLifetime = lifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	slog.Info("Database connection pool created successfully")
	return pool, nil
}
