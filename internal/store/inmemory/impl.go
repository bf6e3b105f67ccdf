// Package inmemory provides a mutex-guarded in-memory implementation of the store interfaces.
// Records are deep-copied on the way in and out, so callers never share state with the store.
package inmemory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
)

type linkKey struct {
	source     string
	kind       models.EntityKind
	externalID string
}

type correlationKey struct {
	kind models.EntityKind
	key  string
}

type pendingKey struct {
	entityID       uuid.UUID
	field          string
	incomingSource string
}

type enrichmentKey struct {
	entityID uuid.UUID
	model    string
}

// memStore implements store.Store in memory
type memStore struct {
	mu sync.RWMutex

	entities     map[uuid.UUID]*models.Entity
	links        map[linkKey]uuid.UUID
	correlations map[correlationKey]uuid.UUID

	conflicts map[uuid.UUID]*models.Conflict
	pending   map[pendingKey]uuid.UUID

	jobs          map[string]*models.SyncJob
	executions    map[string]*models.SyncExecution
	subscriptions map[string]*models.WebhookSubscription
	deliveries    map[string]*models.WebhookDelivery
	enrichments   map[enrichmentKey]*models.RiskEnrichment

	now func() time.Time
}

var _ store.Store = (*memStore)(nil)

// Option configures the in-memory store
type Option func(*memStore)

// WithClock overrides the clock used for created and updated timestamps
func WithClock(now func() time.Time) Option {
	return func(s *memStore) {
		s.now = now
	}
}

// New creates an empty in-memory store
func New(opts ...Option) store.Store {
	s := &memStore{
		entities:      map[uuid.UUID]*models.Entity{},
		links:         map[linkKey]uuid.UUID{},
		correlations:  map[correlationKey]uuid.UUID{},
		conflicts:     map[uuid.UUID]*models.Conflict{},
		pending:       map[pendingKey]uuid.UUID{},
		jobs:          map[string]*models.SyncJob{},
		executions:    map[string]*models.SyncExecution{},
		subscriptions: map[string]*models.WebhookSubscription{},
		deliveries:    map[string]*models.WebhookDelivery{},
		enrichments:   map[enrichmentKey]*models.RiskEnrichment{},
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds
func (*memStore) Ping(context.Context) error {
	return nil
}

// lookupLocked resolves ref by link, then by correlation key. Caller must hold s.mu.
func (s *memStore) lookupLocked(ref models.EntityRef) *models.Entity {
	if id, ok := s.links[linkKey{ref.Source, ref.Kind, ref.ExternalID}]; ok {
		return s.entities[id]
	}
	if ref.CorrelationKey != "" {
		if id, ok := s.correlations[correlationKey{ref.Kind, ref.CorrelationKey}]; ok {
			return s.entities[id]
		}
	}
	return nil
}

// ApplyEntity runs fn under the write lock
func (s *memStore) ApplyEntity(ctx context.Context, ref models.EntityRef, fn store.ApplyFunc) (*store.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.lookupLocked(ref)
	next, conflicts, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return &store.ApplyResult{Entity: current.Clone()}, nil
	}
	if current != nil && next.ID != current.ID {
		return nil, fmt.Errorf("entity %s: apply changed the entity id", current.ID)
	}
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	for _, l := range next.Links {
		if owner, ok := s.links[linkKey{l.Source, next.Kind, l.ExternalID}]; ok && owner != next.ID {
			return nil, fmt.Errorf("link %s/%s/%s already belongs to entity %s: %w",
				l.Source, next.Kind, l.ExternalID, owner, store.ErrAlreadyExists)
		}
	}

	saved := next.Clone()
	now := s.now()
	if current == nil {
		saved.CreatedAt = now
	}
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = now
	}
	s.entities[saved.ID] = saved
	for _, l := range saved.Links {
		s.links[linkKey{l.Source, saved.Kind, l.ExternalID}] = saved.ID
	}
	if saved.CorrelationKey != "" {
		key := correlationKey{saved.Kind, saved.CorrelationKey}
		if _, taken := s.correlations[key]; !taken {
			s.correlations[key] = saved.ID
		}
	}

	result := &store.ApplyResult{Entity: saved.Clone(), Created: current == nil}
	for _, c := range conflicts {
		result.Conflicts = append(result.Conflicts, s.recordConflictLocked(saved.ID, c, now))
	}
	return result, nil
}

// recordConflictLocked inserts c, or refreshes the pending conflict it duplicates
func (s *memStore) recordConflictLocked(entityID uuid.UUID, c *models.Conflict, now time.Time) *models.Conflict {
	c = cloneConflict(c)
	c.EntityID = entityID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	if c.Status == models.ConflictPending {
		key := pendingKey{entityID, c.Field, c.IncomingSource}
		if id, ok := s.pending[key]; ok {
			existing := s.conflicts[id]
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
			c.Created = false
			s.conflicts[id] = c
			return cloneConflict(c)
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		s.pending[key] = c.ID
	} else if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Created = false
	s.conflicts[c.ID] = c
	out := cloneConflict(c)
	out.Created = true
	return out
}

// GetEntity returns an entity by id
func (s *memStore) GetEntity(_ context.Context, id uuid.UUID) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, models.NewNotFoundError("entity", id.String())
	}
	return e.Clone(), nil
}

// FindEntity returns the entity linked to ref
func (s *memStore) FindEntity(_ context.Context, ref models.EntityRef) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.links[linkKey{ref.Source, ref.Kind, ref.ExternalID}]
	if !ok {
		return nil, models.NewNotFoundError("entity", fmt.Sprintf("%s/%s/%s", ref.Source, ref.Kind, ref.ExternalID))
	}
	return s.entities[id].Clone(), nil
}

// ListEntities lists entities ordered by creation time
func (s *memStore) ListEntities(_ context.Context, opts ...store.Option) ([]*models.Entity, error) {
	o, err := store.NewListEntitiesOptions(opts...)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entity
	for _, e := range s.entities {
		if o.Kind != "" && e.Kind != o.Kind {
			continue
		}
		if o.Source != "" && !slices.ContainsFunc(e.Links, func(l models.ExternalRef) bool { return l.Source == o.Source }) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	out = page(out, o.Offset, o.Limit)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

// FieldCoverage counts populated fields per kind
func (s *memStore) FieldCoverage(context.Context) (map[models.EntityKind]store.KindCoverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[models.EntityKind]store.KindCoverage{}
	for _, e := range s.entities {
		cov, ok := out[e.Kind]
		if !ok {
			cov.FieldCounts = map[string]int{}
		}
		cov.Entities++
		for name, fv := range e.Fields {
			if !models.IsNull(fv.Value) {
				cov.FieldCounts[name]++
			}
		}
		out[e.Kind] = cov
	}
	return out, nil
}

// GetConflict returns a conflict by id
func (s *memStore) GetConflict(_ context.Context, id uuid.UUID) (*models.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, models.NewNotFoundError("conflict", id.String())
	}
	return cloneConflict(c), nil
}

// ListConflicts lists conflicts, newest first
func (s *memStore) ListConflicts(_ context.Context, opts ...store.Option) ([]*models.Conflict, error) {
	o, err := store.NewListConflictsOptions(opts...)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Conflict
	for _, c := range s.conflicts {
		if o.Status != "" && c.Status != o.Status {
			continue
		}
		if o.EntityID != uuid.Nil && c.EntityID != o.EntityID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	out = page(out, 0, o.Limit)
	for i := range out {
		out[i] = cloneConflict(out[i])
	}
	return out, nil
}

// ResolveConflict applies fn to a pending conflict and its entity
func (s *memStore) ResolveConflict(
	_ context.Context, id uuid.UUID, fn store.ResolveFunc,
) (*models.Conflict, *models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.conflicts[id]
	if !ok {
		return nil, nil, models.NewNotFoundError("conflict", id.String())
	}
	if stored.Status != models.ConflictPending {
		return nil, nil, fmt.Errorf("conflict %s is %s: %w", id, stored.Status, store.ErrInvalidTransition)
	}
	entity, ok := s.entities[stored.EntityID]
	if !ok {
		return nil, nil, models.NewNotFoundError("entity", stored.EntityID.String())
	}

	c, e := cloneConflict(stored), entity.Clone()
	if err := fn(c, e); err != nil {
		return nil, nil, err
	}
	if c.ID != stored.ID || e.ID != entity.ID {
		return nil, nil, fmt.Errorf("conflict %s: resolve changed an id", id)
	}
	if c.Status == models.ConflictPending {
		return nil, nil, fmt.Errorf("conflict %s: resolve left the conflict pending", id)
	}

	s.conflicts[id] = cloneConflict(c)
	delete(s.pending, pendingKey{stored.EntityID, stored.Field, stored.IncomingSource})
	s.entities[e.ID] = e.Clone()
	return c, e, nil
}

// ConflictStats counts conflicts by status
func (s *memStore) ConflictStats(context.Context) (models.ConflictStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats models.ConflictStats
	for _, c := range s.conflicts {
		switch c.Status {
		case models.ConflictPending:
			stats.Pending++
		case models.ConflictResolved:
			stats.Resolved++
			if c.ResolvedBy == models.ResolvedBySystem {
				stats.AutoResolved++
			}
		}
	}
	return stats, nil
}

// CreateJob stores a new job
func (s *memStore) CreateJob(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, store.ErrAlreadyExists)
	}
	saved := cloneJob(job)
	now := s.now()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now
	s.jobs[job.ID] = saved
	job.CreatedAt, job.UpdatedAt = saved.CreatedAt, saved.UpdatedAt
	return nil
}

// UpdateJob applies fn to the stored job
func (s *memStore) UpdateJob(_ context.Context, id string, fn func(job *models.SyncJob) error) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[id]
	if !ok {
		return nil, models.NewNotFoundError("job", id)
	}
	job := cloneJob(stored)
	if err := fn(job); err != nil {
		return nil, err
	}
	job.ID = id
	job.CreatedAt = stored.CreatedAt
	job.UpdatedAt = s.now()
	s.jobs[id] = cloneJob(job)
	return job, nil
}

// GetJob returns a job by id
func (s *memStore) GetJob(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, models.NewNotFoundError("job", id)
	}
	return cloneJob(job), nil
}

// ListJobs lists jobs ordered by id
func (s *memStore) ListJobs(context.Context) ([]*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SyncJob, 0, len(s.jobs))
	for _, id := range slices.Sorted(maps.Keys(s.jobs)) {
		out = append(out, cloneJob(s.jobs[id]))
	}
	return out, nil
}

// DeleteJob removes a job. Its executions are kept.
func (s *memStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return models.NewNotFoundError("job", id)
	}
	delete(s.jobs, id)
	return nil
}

// CreateExecution stores a running execution
func (s *memStore) CreateExecution(_ context.Context, exec *models.SyncExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; ok {
		return fmt.Errorf("execution %s: %w", exec.ID, store.ErrAlreadyExists)
	}
	if exec.Status != models.ExecutionRunning {
		return fmt.Errorf("execution %s must start running, got %s: %w", exec.ID, exec.Status, store.ErrInvalidTransition)
	}
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

// FinishExecution stores the terminal state of a running execution
func (s *memStore) FinishExecution(_ context.Context, exec *models.SyncExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.executions[exec.ID]
	if !ok {
		return models.NewNotFoundError("execution", exec.ID)
	}
	if stored.Status != models.ExecutionRunning || !exec.Status.Terminal() {
		return fmt.Errorf("execution %s: %s -> %s: %w", exec.ID, stored.Status, exec.Status, store.ErrInvalidTransition)
	}
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

// GetExecution returns an execution by id
func (s *memStore) GetExecution(_ context.Context, id string) (*models.SyncExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, models.NewNotFoundError("execution", id)
	}
	return cloneExecution(exec), nil
}

// ListExecutions lists executions, most recently started first
func (s *memStore) ListExecutions(_ context.Context, opts ...store.Option) ([]*models.SyncExecution, error) {
	o, err := store.NewListExecutionsOptions(opts...)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SyncExecution
	for _, e := range s.executions {
		switch {
		case o.JobID != "" && e.JobID != o.JobID,
			o.Source != "" && e.Source != o.Source,
			o.Status != "" && e.Status != o.Status,
			!o.Since.IsZero() && e.StartedAt.Before(o.Since):
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	out = page(out, 0, o.Limit)
	for i := range out {
		out[i] = cloneExecution(out[i])
	}
	return out, nil
}

// CreateSubscription stores a subscription. Names are unique per source.
func (s *memStore) CreateSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; ok {
		return fmt.Errorf("subscription %s: %w", sub.ID, store.ErrAlreadyExists)
	}
	for _, existing := range s.subscriptions {
		if existing.Source == sub.Source && existing.Name == sub.Name {
			return fmt.Errorf("subscription %s/%s: %w", sub.Source, sub.Name, store.ErrAlreadyExists)
		}
	}
	saved := cloneSubscription(sub)
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = s.now()
		sub.CreatedAt = saved.CreatedAt
	}
	s.subscriptions[sub.ID] = saved
	return nil
}

// GetSubscription returns a subscription by id
func (s *memStore) GetSubscription(_ context.Context, id string) (*models.WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, models.NewNotFoundError("subscription", id)
	}
	return cloneSubscription(sub), nil
}

// FindSubscriptions returns the enabled subscriptions covering the event, oldest first
func (s *memStore) FindSubscriptions(
	_ context.Context, source, eventType string,
) ([]*models.WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []*models.WebhookSubscription
	for _, sub := range s.subscriptions {
		if sub.Enabled && sub.Source == source && sub.Handles(eventType) {
			found = append(found, cloneSubscription(sub))
		}
	}
	if len(found) == 0 {
		return nil, models.NewNotFoundError("subscription", source+"."+eventType)
	}
	sortSubscriptions(found)
	return found, nil
}

// ListSubscriptions lists subscriptions ordered by creation time
func (s *memStore) ListSubscriptions(context.Context) ([]*models.WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WebhookSubscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, cloneSubscription(sub))
	}
	sortSubscriptions(out)
	return out, nil
}

func sortSubscriptions(subs []*models.WebhookSubscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}

// SetSubscriptionExternalID records the source registration id
func (s *memStore) SetSubscriptionExternalID(_ context.Context, id, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return models.NewNotFoundError("subscription", id)
	}
	sub.ExternalID = externalID
	return nil
}

// DeleteSubscription removes a subscription. Its deliveries are kept.
func (s *memStore) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[id]; !ok {
		return models.NewNotFoundError("subscription", id)
	}
	delete(s.subscriptions, id)
	return nil
}

// CreateDelivery stores a processing delivery
func (s *memStore) CreateDelivery(_ context.Context, d *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; ok {
		return fmt.Errorf("delivery %s: %w", d.ID, store.ErrAlreadyExists)
	}
	if d.Status != models.DeliveryProcessing {
		return fmt.Errorf("delivery %s must start processing, got %s: %w", d.ID, d.Status, store.ErrInvalidTransition)
	}
	s.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

// FinishDelivery stores the terminal state of a processing delivery
func (s *memStore) FinishDelivery(_ context.Context, d *models.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.deliveries[d.ID]
	if !ok {
		return models.NewNotFoundError("delivery", d.ID)
	}
	if stored.Status != models.DeliveryProcessing || d.Status == models.DeliveryProcessing {
		return fmt.Errorf("delivery %s: %s -> %s: %w", d.ID, stored.Status, d.Status, store.ErrInvalidTransition)
	}
	s.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

// ListDeliveries lists deliveries, most recently received first
func (s *memStore) ListDeliveries(_ context.Context, opts ...store.Option) ([]*models.WebhookDelivery, error) {
	o, err := store.NewListDeliveriesOptions(opts...)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.WebhookDelivery
	for _, d := range s.deliveries {
		switch {
		case o.Source != "" && d.Source != o.Source,
			o.EventType != "" && d.EventType != o.EventType,
			o.Status != "" && d.Status != o.Status,
			!o.Since.IsZero() && d.ReceivedAt.Before(o.Since):
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	out = page(out, 0, o.Limit)
	for i := range out {
		out[i] = cloneDelivery(out[i])
	}
	return out, nil
}

// UpsertEnrichment stores the enrichment for (entity, model)
func (s *memStore) UpsertEnrichment(_ context.Context, e *models.RiskEnrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.EntityID]; !ok {
		return models.NewNotFoundError("entity", e.EntityID.String())
	}
	saved := *e
	saved.Factors = maps.Clone(e.Factors)
	s.enrichments[enrichmentKey{e.EntityID, e.Model}] = &saved
	return nil
}

// ListEnrichments returns the enrichments of an entity ordered by model
func (s *memStore) ListEnrichments(_ context.Context, entityID uuid.UUID) ([]*models.RiskEnrichment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RiskEnrichment
	for key, e := range s.enrichments {
		if key.entityID == entityID {
			c := *e
			c.Factors = maps.Clone(e.Factors)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

// EnrichmentCoverage counts entities and enriched entities
func (s *memStore) EnrichmentCoverage(context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enriched := map[uuid.UUID]struct{}{}
	for key := range s.enrichments {
		if _, ok := s.entities[key.entityID]; ok {
			enriched[key.entityID] = struct{}{}
		}
	}
	return len(s.entities), len(enriched), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
