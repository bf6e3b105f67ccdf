// Package storage selects the persistence backend of the integration engine.
// A factory creates the store and owns the resources behind it, such as the
// database connection pool.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/store/inmemory"
)

// StorageType names a persistence backend
type StorageType string

const (
	// StorageTypeMemory keeps all state in process memory
	StorageTypeMemory StorageType = "memory"

	// StorageTypeDatabase persists state in PostgreSQL
	StorageTypeDatabase StorageType = "database"
)

// Factory creates the store and manages the lifecycle of its resources.
type Factory interface {
	// Type reports the backend this factory creates
	Type() StorageType

	// CreateStore returns the store. Repeated calls return stores sharing the same backing resources.
	CreateStore(ctx context.Context) (store.Store, error)

	// Cleanup releases any resources held by this factory.
	// For database factories, this closes the connection pool.
	Cleanup()
}

// Option configures storage factories
type Option func(*options)

type options struct {
	tracer trace.Tracer
}

// WithTracer sets the OpenTelemetry tracer used by database queries.
// If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// TypeFor returns the backend selected by the configuration
func TypeFor(cfg *config.Config) StorageType {
	if cfg != nil && cfg.Database != nil {
		return StorageTypeDatabase
	}
	return StorageTypeMemory
}

// NewStorageFactory creates a DatabaseFactory when a database is configured and a MemoryFactory otherwise.
func NewStorageFactory(ctx context.Context, cfg *config.Config, opts ...Option) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch TypeFor(cfg) {
	case StorageTypeDatabase:
		return NewDatabaseFactory(ctx, cfg.Database, opts...)
	default:
		return NewMemoryFactory(), nil
	}
}

// MemoryFactory hands out a single in-memory store
type MemoryFactory struct {
	store store.Store
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a factory around a fresh in-memory store
func NewMemoryFactory() *MemoryFactory {
	slog.Info("Creating in-memory storage factory")
	return &MemoryFactory{store: inmemory.New()}
}

// Type returns StorageTypeMemory
func (*MemoryFactory) Type() StorageType {
	return StorageTypeMemory
}

// CreateStore returns the shared in-memory store
func (m *MemoryFactory) CreateStore(_ context.Context) (store.Store, error) {
	return m.store, nil
}

// Cleanup is a no-op; memory is released with the process
func (*MemoryFactory) Cleanup() {}
