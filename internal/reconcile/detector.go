package reconcile

import (
	"time"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
)

// Detector decides whether two sources disagree on a field and, under the
// most-recent-wins policy, settles low-severity disagreements on the spot.
type Detector struct {
	autoResolve string
	now         func() time.Time
}

// NewDetector creates a Detector for the given auto-resolve policy
// (config.AutoResolveNone or config.AutoResolveMostRecentWins)
func NewDetector(autoResolve string, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	if autoResolve == "" {
		autoResolve = config.AutoResolveNone
	}
	return &Detector{autoResolve: autoResolve, now: now}
}

// Detect returns the conflict between a stored and an incoming value, or nil when there is none:
// the values are equal, nothing is stored, or both values come from the same source.
// The stored timestamp is taken from the entity's field provenance.
func (d *Detector) Detect(
	entity *models.Entity,
	field string,
	stored any, storedSource string,
	incoming any, incomingSource string,
	incomingAt time.Time,
) *models.Conflict {
	if models.IsNull(stored) || storedSource == incomingSource || models.ValuesEqual(stored, incoming) {
		return nil
	}

	now := d.now().UTC()
	if incomingAt.IsZero() {
		incomingAt = now
	}
	c := &models.Conflict{
		EntityID:       entity.ID,
		EntityKind:     entity.Kind,
		Field:          field,
		StoredValue:    models.Canonicalize(stored),
		StoredSource:   storedSource,
		StoredAt:       entity.Fields[field].UpdatedAt,
		IncomingValue:  models.Canonicalize(incoming),
		IncomingSource: incomingSource,
		IncomingAt:     incomingAt,
		Severity:       FieldSeverity(field),
		Status:         models.ConflictPending,
		CreatedAt:      now,
	}

	if d.autoResolve == config.AutoResolveMostRecentWins && c.Severity == models.SeverityLow {
		c.Status = models.ConflictResolved
		c.ResolvedBy = models.ResolvedBySystem
		c.ResolvedAt = &now
		c.ResolvedValue = c.IncomingValue
		if incomingAt.Before(c.StoredAt) {
			c.ResolvedValue = c.StoredValue
		}
	}
	return c
}
