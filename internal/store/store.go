// Package store defines the persistence interfaces of the integration engine.
// Implementations live in the inmemory and db subpackages.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/stacklok/integration-sync/internal/models"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed from the current state,
	// e.g. finishing an execution that already finished or resolving a resolved conflict
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyExists is returned when creating a record whose identifier is taken
	ErrAlreadyExists = errors.New("already exists")
)

const (
	// DefaultListLimit is applied to list operations without an explicit limit
	DefaultListLimit = 100
	// MaxListLimit caps the limit of list operations
	MaxListLimit = 1000
)

// ApplyFunc receives the entity matching a reference, or nil when none exists, and returns the
// entity to persist together with the conflicts to record. Returning a nil entity leaves
// storage unchanged. The function runs while the entity is locked and may run more than once.
type ApplyFunc func(current *models.Entity) (*models.Entity, []*models.Conflict, error)

// ApplyResult reports the outcome of ApplyEntity
type ApplyResult struct {
	Entity  *models.Entity
	Created bool
	// Conflicts holds the stored conflicts. A pending conflict that already existed for the
	// same entity, field and incoming source is updated in place and returned with its original id
	// and Created unset.
	Conflicts []*models.Conflict
}

// ResolveFunc mutates a pending conflict and its entity while both are locked
type ResolveFunc func(conflict *models.Conflict, entity *models.Entity) error

// KindCoverage counts the entities of one kind and how many carry each field
type KindCoverage struct {
	Entities    int
	FieldCounts map[string]int
}

// EntityStore persists canonical entities and their source links
type EntityStore interface {
	// ApplyEntity atomically looks up the entity for ref, first by the (source, kind, external id)
	// link and then by (kind, correlation key), and persists what fn returns
	ApplyEntity(ctx context.Context, ref models.EntityRef, fn ApplyFunc) (*ApplyResult, error)
	// GetEntity returns an entity by id
	GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// FindEntity returns the entity linked to ref, or a NotFoundError
	FindEntity(ctx context.Context, ref models.EntityRef) (*models.Entity, error)
	// ListEntities lists entities ordered by creation time
	ListEntities(ctx context.Context, opts ...Option) ([]*models.Entity, error)
	// FieldCoverage returns per-kind field population counts
	FieldCoverage(ctx context.Context) (map[models.EntityKind]KindCoverage, error)
}

// ConflictStore persists conflicts. Conflicts are written through EntityStore.ApplyEntity.
type ConflictStore interface {
	GetConflict(ctx context.Context, id uuid.UUID) (*models.Conflict, error)
	// ListConflicts lists conflicts, newest first
	ListConflicts(ctx context.Context, opts ...Option) ([]*models.Conflict, error)
	// ResolveConflict locks a pending conflict and its entity, applies fn and persists both.
	// It returns ErrInvalidTransition when the conflict is not pending.
	ResolveConflict(ctx context.Context, id uuid.UUID, fn ResolveFunc) (*models.Conflict, *models.Entity, error)
	ConflictStats(ctx context.Context) (models.ConflictStats, error)
}

// JobStore persists sync job definitions
type JobStore interface {
	// CreateJob stores a new job, or returns ErrAlreadyExists
	CreateJob(ctx context.Context, job *models.SyncJob) error
	// UpdateJob applies fn to the stored job and persists the result
	UpdateJob(ctx context.Context, id string, fn func(job *models.SyncJob) error) (*models.SyncJob, error)
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	ListJobs(ctx context.Context) ([]*models.SyncJob, error)
	DeleteJob(ctx context.Context, id string) error
}

// ExecutionStore persists sync executions
type ExecutionStore interface {
	// CreateExecution stores a running execution
	CreateExecution(ctx context.Context, exec *models.SyncExecution) error
	// FinishExecution stores the terminal state of a running execution.
	// It returns ErrInvalidTransition when the stored execution is not running.
	FinishExecution(ctx context.Context, exec *models.SyncExecution) error
	GetExecution(ctx context.Context, id string) (*models.SyncExecution, error)
	// ListExecutions lists executions, most recently started first
	ListExecutions(ctx context.Context, opts ...Option) ([]*models.SyncExecution, error)
}

// SubscriptionStore persists webhook subscriptions
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error)
	// FindSubscriptions returns the enabled subscriptions of source covering eventType, oldest first.
	// It returns a NotFoundError when there are none.
	FindSubscriptions(ctx context.Context, source, eventType string) ([]*models.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error)
	// SetSubscriptionExternalID records the registration id assigned by the source
	SetSubscriptionExternalID(ctx context.Context, id, externalID string) error
	DeleteSubscription(ctx context.Context, id string) error
}

// DeliveryStore persists the webhook delivery log
type DeliveryStore interface {
	// CreateDelivery stores a processing delivery
	CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error
	// FinishDelivery stores the terminal state of a processing delivery.
	// It returns ErrInvalidTransition when the stored delivery is not processing.
	FinishDelivery(ctx context.Context, d *models.WebhookDelivery) error
	// ListDeliveries lists deliveries, most recently received first
	ListDeliveries(ctx context.Context, opts ...Option) ([]*models.WebhookDelivery, error)
}

// EnrichmentStore persists risk enrichments
type EnrichmentStore interface {
	// UpsertEnrichment stores the enrichment, replacing any previous one for the same entity and model
	UpsertEnrichment(ctx context.Context, e *models.RiskEnrichment) error
	ListEnrichments(ctx context.Context, entityID uuid.UUID) ([]*models.RiskEnrichment, error)
	// EnrichmentCoverage returns the number of entities and how many carry at least one enrichment
	EnrichmentCoverage(ctx context.Context) (entities, enriched int, err error)
}

// Store is the complete persistence layer
type Store interface {
	EntityStore
	ConflictStore
	JobStore
	ExecutionStore
	SubscriptionStore
	DeliveryStore
	EnrichmentStore

	// Ping reports whether the store can serve requests
	Ping(ctx context.Context) error
}
