package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/logging"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/store"
)

// ResolutionSourcePrefix marks field provenance written by a manual resolution
const ResolutionSourcePrefix = "resolution:"

// Resolver settles pending conflicts
type Resolver struct {
	conflicts store.ConflictStore
	now       func() time.Time
	tracer    trace.Tracer
}

// NewResolver creates a Resolver. A nil clock uses time.Now.
func NewResolver(conflicts store.ConflictStore, now func() time.Time, tracer trace.Tracer) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{conflicts: conflicts, now: now, tracer: tracer}
}

// Resolve writes value into the conflicted field and marks the conflict resolved.
// When value equals one of the competing values the field keeps that side's source as provenance,
// otherwise the provenance is "resolution:<resolvedBy>".
func (r *Resolver) Resolve(
	ctx context.Context, conflictID uuid.UUID, value any, resolvedBy string,
) (*models.Conflict, *models.Entity, error) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "reconcile.Resolve")
	defer span.End()

	resolvedBy = strings.TrimSpace(resolvedBy)
	if resolvedBy == "" {
		return nil, nil, models.NewValidationError("resolvedBy", "is required")
	}
	if models.IsNull(value) {
		return nil, nil, models.NewValidationError("value", "a resolved value is required")
	}
	chosen := models.Canonicalize(value)

	c, e, err := r.conflicts.ResolveConflict(ctx, conflictID, func(c *models.Conflict, e *models.Entity) error {
		now := r.now().UTC()
		source := ResolutionSourcePrefix + resolvedBy
		switch {
		case models.ValuesEqual(chosen, c.IncomingValue):
			source = c.IncomingSource
		case models.ValuesEqual(chosen, c.StoredValue):
			source = c.StoredSource
		}
		if e.Fields == nil {
			e.Fields = map[string]models.FieldValue{}
		}
		e.Fields[c.Field] = models.FieldValue{Value: chosen, Source: source, UpdatedAt: now}
		e.UpdatedAt = now

		c.Status = models.ConflictResolved
		c.ResolvedValue = chosen
		c.ResolvedBy = resolvedBy
		c.ResolvedAt = &now
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, nil, fmt.Errorf("failed to resolve conflict %s: %w", conflictID, err)
	}
	span.SetAttributes(otel.AttrEntityID.String(e.ID.String()))
	logging.FromContext(ctx).Info("Conflict resolved", "conflictId", c.ID, "entityId", e.ID,
		"field", c.Field, "resolvedBy", resolvedBy)
	return c, e, nil
}
