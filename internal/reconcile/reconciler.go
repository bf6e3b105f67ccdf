// Package reconcile merges normalized source records into canonical entities,
// detects cross-source conflicts and applies conflict resolutions.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/logging"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/telemetry"
)

// ErrMissingExternalID is reported for records that cannot be linked to a source identifier
var ErrMissingExternalID = errors.New("record has no external id")

// Totals counts the outcome of a batch
type Totals struct {
	Processed    int `json:"processed"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	// Conflicts and AutoResolved count newly recorded conflicts. Refreshing a pending duplicate counts neither.
	Conflicts    int `json:"conflicts"`
	AutoResolved int `json:"autoResolved"`

	// Changed holds the entities created or updated by the batch, in record order
	Changed []*models.Entity `json:"-"`
}

// RecordError is a per-record failure. It never aborts the batch.
type RecordError struct {
	Index      int
	ExternalID string
	Err        error
}

func (e *RecordError) Error() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("record %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("record %d (%s): %v", e.Index, e.ExternalID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Outcome is the result of upserting one record
type Outcome struct {
	Entity    *models.Entity
	Created   bool
	Conflicts []*models.Conflict
}

// Reconciler merges normalized records into canonical entities
type Reconciler interface {
	// UpsertBatch upserts a page of records from one source. Records without an external id
	// become per-record errors, and duplicates within the page collapse last-write-wins.
	UpsertBatch(ctx context.Context, records []*models.NormalizedRecord, source, batchID string) (Totals, []*RecordError)

	// Upsert merges one record into the entity linked to it, creating the entity when needed
	Upsert(ctx context.Context, record *models.NormalizedRecord, source, batchID string) (*Outcome, error)
}

// Option configures the reconciler
type Option func(*defaultReconciler)

// WithDetector replaces the conflict detector
func WithDetector(d *Detector) Option {
	return func(r *defaultReconciler) {
		r.detector = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *defaultReconciler) {
		r.now = now
	}
}

// WithMetrics records conflict counts
func WithMetrics(m *telemetry.ReconcileMetrics) Option {
	return func(r *defaultReconciler) {
		r.metrics = m
	}
}

// WithTracer sets the tracer for reconcile spans
func WithTracer(tracer trace.Tracer) Option {
	return func(r *defaultReconciler) {
		r.tracer = tracer
	}
}

type defaultReconciler struct {
	entities store.EntityStore
	detector *Detector
	now      func() time.Time
	metrics  *telemetry.ReconcileMetrics
	tracer   trace.Tracer
}

var _ Reconciler = (*defaultReconciler)(nil)

// New creates a Reconciler writing to entities
func New(entities store.EntityStore, opts ...Option) Reconciler {
	r := &defaultReconciler{entities: entities, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.detector == nil {
		r.detector = NewDetector("", r.now)
	}
	return r
}

// UpsertBatch upserts records in page order after dropping invalid and superseded ones
func (r *defaultReconciler) UpsertBatch(
	ctx context.Context, records []*models.NormalizedRecord, source, batchID string,
) (Totals, []*RecordError) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "reconcile.UpsertBatch")
	defer span.End()
	span.SetAttributes(otel.AttrSource.String(source), otel.AttrRecordCount.Int(len(records)))

	var (
		totals  Totals
		errs    []*RecordError
		logger  = logging.FromContext(ctx)
		last    = make(map[identity]int, len(records))
		ordered = make([]int, 0, len(records))
	)
	for i, rec := range records {
		if rec == nil || rec.ExternalID == "" {
			errs = append(errs, &RecordError{Index: i, Err: ErrMissingExternalID})
			continue
		}
		last[identity{rec.Kind, rec.ExternalID}] = i
	}
	for i, rec := range records {
		if rec == nil || rec.ExternalID == "" {
			continue
		}
		if last[identity{rec.Kind, rec.ExternalID}] == i {
			ordered = append(ordered, i)
		}
	}
	if dropped := len(records) - len(errs) - len(ordered); dropped > 0 {
		logger.V(1).Info("Collapsed duplicate records", "source", source, "duplicates", dropped)
	}

	for _, i := range ordered {
		rec := records[i]
		outcome, err := r.Upsert(ctx, rec, source, batchID)
		if err != nil {
			logger.Error(err, "Failed to reconcile record", "source", source, "kind", rec.Kind, "externalId", rec.ExternalID)
			errs = append(errs, &RecordError{Index: i, ExternalID: rec.ExternalID, Err: err})
			continue
		}
		totals.Processed++
		if outcome.Created {
			totals.Created++
		} else {
			totals.Updated++
		}
		totals.Changed = append(totals.Changed, outcome.Entity)
		for _, c := range outcome.Conflicts {
			if !c.Created {
				continue
			}
			if c.Status == models.ConflictPending {
				totals.Conflicts++
			} else {
				totals.AutoResolved++
			}
		}
	}
	return totals, errs
}

type identity struct {
	kind       models.EntityKind
	externalID string
}

// Upsert merges record into its canonical entity
func (r *defaultReconciler) Upsert(
	ctx context.Context, record *models.NormalizedRecord, source, batchID string,
) (*Outcome, error) {
	if record == nil || record.ExternalID == "" {
		return nil, ErrMissingExternalID
	}
	ctx, span := otel.StartSpan(ctx, r.tracer, "reconcile.Upsert")
	defer span.End()
	span.SetAttributes(otel.AttrSource.String(source), otel.AttrEntityKind.String(string(record.Kind)),
		otel.AttrExternalID.String(record.ExternalID))

	ref := models.EntityRef{
		Source:         source,
		Kind:           record.Kind,
		ExternalID:     record.ExternalID,
		CorrelationKey: record.CorrelationKey,
	}
	res, err := r.entities.ApplyEntity(ctx, ref, func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
		return r.merge(current, record, source, batchID)
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to apply %s %s: %w", record.Kind, record.ExternalID, err)
	}

	for _, c := range res.Conflicts {
		if c.Created {
			r.metrics.RecordConflict(ctx, string(c.EntityKind), string(c.Severity), c.Status == models.ConflictResolved)
		}
		logging.FromContext(ctx).Info("Conflict detected", "created", c.Created,
			"entityId", c.EntityID, "field", c.Field, "storedSource", c.StoredSource,
			"incomingSource", c.IncomingSource, "severity", c.Severity, "status", c.Status)
	}
	span.SetAttributes(otel.AttrEntityID.String(res.Entity.ID.String()))
	return &Outcome{Entity: res.Entity, Created: res.Created, Conflicts: res.Conflicts}, nil
}

// merge applies the supplied fields of record to current. It may run more than once per call.
func (r *defaultReconciler) merge(
	current *models.Entity, record *models.NormalizedRecord, source, batchID string,
) (*models.Entity, []*models.Conflict, error) {
	now := r.now().UTC()
	observed := record.ObservedAt
	if observed.IsZero() {
		observed = now
	}

	entity := current
	if entity == nil {
		entity = &models.Entity{
			Kind:           record.Kind,
			CorrelationKey: record.CorrelationKey,
			Fields:         make(map[string]models.FieldValue, len(record.Fields)),
			CreatedAt:      now,
		}
	}
	if entity.CorrelationKey == "" {
		entity.CorrelationKey = record.CorrelationKey
	}
	if !entity.HasLink(source, record.ExternalID) {
		entity.Links = append(entity.Links, models.ExternalRef{Source: source, ExternalID: record.ExternalID})
	}

	var conflicts []*models.Conflict
	for field, value := range record.Fields {
		if models.IsNull(value) {
			continue
		}
		incoming := models.Canonicalize(value)
		stored, ok := entity.Fields[field]
		if !ok || models.IsNull(stored.Value) || stored.Source == source {
			entity.Fields[field] = models.FieldValue{Value: incoming, Source: source, UpdatedAt: observed}
			continue
		}
		if models.ValuesEqual(stored.Value, incoming) {
			continue
		}

		c := r.detector.Detect(entity, field, stored.Value, stored.Source, incoming, source, observed)
		if c == nil {
			continue
		}
		conflicts = append(conflicts, c)
		if c.Status == models.ConflictResolved && models.ValuesEqual(c.ResolvedValue, incoming) {
			entity.Fields[field] = models.FieldValue{Value: incoming, Source: source, UpdatedAt: observed}
		}
	}

	if len(record.Raw) > 0 {
		if entity.Raw == nil {
			entity.Raw = map[string]json.RawMessage{}
		}
		entity.Raw[source] = record.Raw
	}
	entity.BatchID = batchID
	entity.UpdatedAt = now
	return entity, conflicts, nil
}
