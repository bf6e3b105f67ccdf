package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/enrichment"
	"github.com/stacklok/integration-sync/internal/logging"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/reconcile"
	"github.com/stacklok/integration-sync/internal/sources"
	"github.com/stacklok/integration-sync/internal/telemetry"
)

// Failure reasons reported in Error.Reason
const (
	ReasonSourceNotFound = "SourceNotFound"
	ReasonInvalidFilters = "InvalidFilters"
	ReasonFetchFailed    = "FetchFailed"
	ReasonCanceled       = "Canceled"
)

// Record outcomes reported to SyncMetrics
const (
	outcomeCreated  = "created"
	outcomeUpdated  = "updated"
	outcomeConflict = "conflict"
	outcomeFailed   = "failed"
	outcomeEnriched = "enriched"
)

const (
	// maxPagesPerKind stops a run against a source that never reports the last page
	maxPagesPerKind = 10000

	// maxRecordedErrors bounds the per-record errors kept on a Result
	maxRecordedErrors = 100
)

// Result contains the outcome of a sync run
type Result struct {
	BatchID          string
	Fetched          int
	RecordsProcessed int
	RecordsCreated   int
	RecordsUpdated   int
	ConflictsCreated int
	AutoResolved     int
	Enriched         int
	// Errors holds per-record and enrichment failures; they never fail the run
	Errors []string
}

func (r *Result) addError(format string, args ...any) {
	if len(r.Errors) < maxRecordedErrors {
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}
}

// Error represents a failed sync run
type Error struct {
	Err     error
	Message string
	Reason  string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Manager runs synchronization for one source at a time
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks github.com/stacklok/integration-sync/internal/sync Manager
type Manager interface {
	// PerformSync pages through every kind the job selects and reconciles the records.
	// On a fetch failure it returns the partial Result together with the Error.
	PerformSync(ctx context.Context, job *models.SyncJob) (*Result, *Error)

	// SyncEntity fetches and reconciles a single record
	SyncEntity(ctx context.Context, source string, kind models.EntityKind, externalID string) (*reconcile.Outcome, error)
}

// Option configures the manager
type Option func(*defaultSyncManager)

// WithEnricher scores entities created or updated by a run
func WithEnricher(e *enrichment.Enricher) Option {
	return func(m *defaultSyncManager) {
		m.enricher = e
	}
}

// WithMetrics records per-record outcomes
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(m *defaultSyncManager) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer for pipeline spans
func WithTracer(tracer trace.Tracer) Option {
	return func(m *defaultSyncManager) {
		m.tracer = tracer
	}
}

// defaultSyncManager is the default implementation of Manager
type defaultSyncManager struct {
	registry   *sources.Registry
	reconciler reconcile.Reconciler
	enricher   *enrichment.Enricher
	metrics    *telemetry.SyncMetrics
	tracer     trace.Tracer
}

var _ Manager = (*defaultSyncManager)(nil)

// NewDefaultSyncManager creates a Manager over the given adapters
func NewDefaultSyncManager(registry *sources.Registry, reconciler reconcile.Reconciler, opts ...Option) Manager {
	m := &defaultSyncManager{registry: registry, reconciler: reconciler}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PerformSync executes the complete sync pipeline for a job
func (m *defaultSyncManager) PerformSync(ctx context.Context, job *models.SyncJob) (*Result, *Error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.PerformSync")
	defer span.End()
	span.SetAttributes(otel.AttrSource.String(job.Source), otel.AttrJobID.String(job.ID))

	ctx = logging.WithValues(ctx, "source", job.Source, "job", job.ID)
	logger := logging.FromContext(ctx)

	adapter, err := m.registry.Get(job.Source)
	if err != nil {
		otel.RecordError(span, err)
		return nil, &Error{Err: err, Message: fmt.Sprintf("source %s is not configured", job.Source), Reason: ReasonSourceNotFound}
	}
	if err := sources.ValidateFilters(adapter, job.Filters); err != nil {
		otel.RecordError(span, err)
		return nil, &Error{Err: err, Message: err.Error(), Reason: ReasonInvalidFilters}
	}

	result := &Result{BatchID: uuid.NewString()}
	kinds := sources.KindsFor(adapter, job.Filters)
	logger.Info("Starting sync", "batchId", result.BatchID, "kinds", kinds)

	for _, kind := range kinds {
		if syncErr := m.syncKind(ctx, adapter, job, kind, result); syncErr != nil {
			otel.RecordError(span, syncErr)
			logger.Error(syncErr.Err, "Sync failed", "kind", kind, "reason", syncErr.Reason,
				"processed", result.RecordsProcessed)
			return result, syncErr
		}
	}

	span.SetAttributes(otel.AttrRecordCount.Int(result.RecordsProcessed))
	logger.Info("Sync completed",
		"fetched", result.Fetched,
		"created", result.RecordsCreated,
		"updated", result.RecordsUpdated,
		"conflicts", result.ConflictsCreated,
		"enriched", result.Enriched,
		"errors", len(result.Errors))
	return result, nil
}

// syncKind pages through one kind until the adapter reports no more records
func (m *defaultSyncManager) syncKind(
	ctx context.Context, adapter sources.Adapter, job *models.SyncJob, kind models.EntityKind, result *Result,
) *Error {
	logger := logging.FromContext(ctx)

	for page := 1; page <= maxPagesPerKind; page++ {
		if err := ctx.Err(); err != nil {
			return &Error{Err: err, Message: "sync canceled", Reason: ReasonCanceled}
		}

		p, err := m.fetchPage(ctx, adapter, sources.FetchRequest{Kind: kind, Page: page, Filters: job.Filters})
		if err != nil {
			return &Error{
				Err:     err,
				Message: fmt.Sprintf("failed to fetch %s page %d from %s: %v", kind, page, adapter.Name(), err),
				Reason:  ReasonFetchFailed,
			}
		}
		result.Fetched += len(p.Records)

		records := make([]*models.NormalizedRecord, 0, len(p.Records))
		for i, raw := range p.Records {
			rec, err := adapter.Normalize(raw)
			if err != nil {
				result.addError("%s page %d record %d: %v", kind, page, i, err)
				m.metrics.RecordRecords(ctx, job.Source, outcomeFailed, 1)
				continue
			}
			records = append(records, rec)
		}

		totals, recordErrs := m.reconciler.UpsertBatch(ctx, records, job.Source, result.BatchID)
		for _, re := range recordErrs {
			result.addError("%s page %d: %v", kind, page, re)
		}
		m.accumulate(ctx, job.Source, totals, len(recordErrs), result)
		m.enrich(ctx, job.Source, totals.Changed, result)

		logger.V(1).Info("Reconciled page", "kind", kind, "page", page,
			"records", len(p.Records), "created", totals.Created, "updated", totals.Updated)

		if !p.HasMore {
			return nil
		}
	}
	return nil
}

func (m *defaultSyncManager) fetchPage(
	ctx context.Context, adapter sources.Adapter, req sources.FetchRequest,
) (*sources.Page, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.FetchPage")
	defer span.End()
	span.SetAttributes(otel.AttrEntityKind.String(string(req.Kind)), otel.AttrPage.Int(req.Page))

	p, err := adapter.Fetch(ctx, req)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrRecordCount.Int(len(p.Records)))
	return p, nil
}

func (m *defaultSyncManager) accumulate(
	ctx context.Context, source string, totals reconcile.Totals, failed int, result *Result,
) {
	result.RecordsProcessed += totals.Processed
	result.RecordsCreated += totals.Created
	result.RecordsUpdated += totals.Updated
	result.ConflictsCreated += totals.Conflicts
	result.AutoResolved += totals.AutoResolved

	m.metrics.RecordRecords(ctx, source, outcomeCreated, totals.Created)
	m.metrics.RecordRecords(ctx, source, outcomeUpdated, totals.Updated)
	m.metrics.RecordRecords(ctx, source, outcomeConflict, totals.Conflicts)
	m.metrics.RecordRecords(ctx, source, outcomeFailed, failed)
}

// enrich scores changed entities. Failures are recorded on the result and never fail the run.
func (m *defaultSyncManager) enrich(ctx context.Context, source string, entities []*models.Entity, result *Result) {
	if m.enricher == nil {
		return
	}
	for _, e := range entities {
		if _, err := m.enricher.Enrich(ctx, e); err != nil {
			if errors.Is(err, enrichment.ErrNotScorable) {
				continue
			}
			result.addError("enrich %s %s: %v", e.Kind, e.ID, err)
			continue
		}
		result.Enriched++
		m.metrics.RecordRecords(ctx, source, outcomeEnriched, 1)
	}
}

// SyncEntity fetches one record from the source, reconciles it and scores the result
func (m *defaultSyncManager) SyncEntity(
	ctx context.Context, source string, kind models.EntityKind, externalID string,
) (*reconcile.Outcome, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.SyncEntity")
	defer span.End()
	span.SetAttributes(otel.AttrSource.String(source), otel.AttrEntityKind.String(string(kind)),
		otel.AttrExternalID.String(externalID))

	adapter, err := m.registry.Get(source)
	if err != nil {
		return nil, err
	}
	raw, err := adapter.FetchOne(ctx, kind, externalID)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	rec, err := adapter.Normalize(*raw)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	outcome, err := m.reconciler.Upsert(ctx, rec, source, uuid.NewString())
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	outcomeName := outcomeUpdated
	if outcome.Created {
		outcomeName = outcomeCreated
	}
	m.metrics.RecordRecords(ctx, source, outcomeName, 1)

	if m.enricher != nil {
		switch _, err := m.enricher.Enrich(ctx, outcome.Entity); {
		case err == nil:
			m.metrics.RecordRecords(ctx, source, outcomeEnriched, 1)
		case !errors.Is(err, enrichment.ErrNotScorable):
			logging.FromContext(ctx).Error(err, "Failed to enrich entity", "entityId", outcome.Entity.ID)
		}
	}
	return outcome, nil
}
