package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/store"
)

// GetConflict returns a conflict by id
func (s *dbStore) GetConflict(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	ctx, span := s.startSpan(ctx, "dbStore.GetConflict", "conflicts")
	defer span.End()

	c, err := scanConflict(s.pool.QueryRow(ctx, `SELECT `+conflictColumns+` FROM conflicts c WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("conflict", id.String())
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return c, nil
}

// ListConflicts lists conflicts, newest first
func (s *dbStore) ListConflicts(ctx context.Context, opts ...store.Option) ([]*models.Conflict, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListConflicts", "conflicts")
	defer span.End()

	o, err := store.NewListConflictsOptions(opts...)
	if err != nil {
		return nil, err
	}
	var entityID *uuid.UUID
	if o.EntityID != uuid.Nil {
		entityID = &o.EntityID
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+conflictColumns+`
		FROM conflicts c
		WHERE ($1 = '' OR c.status = $1)
		  AND ($2::uuid IS NULL OR c.entity_id = $2::uuid)
		ORDER BY c.created_at DESC, c.id
		LIMIT $3`, string(o.Status), entityID, o.Limit)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	conflicts, err := collect(rows, scanConflict)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return conflicts, nil
}

// ResolveConflict locks the entity and then the conflict, the same order ApplyEntity uses,
// applies fn and persists both
func (s *dbStore) ResolveConflict(
	ctx context.Context, id uuid.UUID, fn store.ResolveFunc,
) (*models.Conflict, *models.Entity, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ResolveConflict", "conflicts")
	defer span.End()

	var (
		conflict *models.Conflict
		entity   *models.Entity
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var entityID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT entity_id FROM conflicts WHERE id = $1`, id).Scan(&entityID)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NewNotFoundError("conflict", id.String())
		}
		if err != nil {
			return fmt.Errorf("failed to get conflict: %w", err)
		}

		e, err := scanEntity(tx.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities e WHERE e.id = $1 FOR UPDATE`, entityID))
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NewNotFoundError("entity", entityID.String())
		}
		if err != nil {
			return fmt.Errorf("failed to lock entity: %w", err)
		}
		if err := loadLinks(ctx, tx, []*models.Entity{e}); err != nil {
			return err
		}
		c, err := scanConflict(tx.QueryRow(ctx, `SELECT `+conflictColumns+` FROM conflicts c WHERE c.id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("failed to lock conflict: %w", err)
		}
		if c.Status != models.ConflictPending {
			return fmt.Errorf("conflict %s is %s: %w", id, c.Status, store.ErrInvalidTransition)
		}

		if err := fn(c, e); err != nil {
			return err
		}
		if c.ID != id || e.ID != entityID {
			return fmt.Errorf("conflict %s: resolve changed an id", id)
		}
		if c.Status == models.ConflictPending {
			return fmt.Errorf("conflict %s: resolve left the conflict pending", id)
		}

		resolved, err := marshalJSON(c.ResolvedValue)
		if err != nil {
			return err
		}
		conflict, err = scanConflict(tx.QueryRow(ctx, `
			UPDATE conflicts AS c SET status = $2, resolved_value = $3, resolved_by = $4, resolved_at = $5
			WHERE c.id = $1
			RETURNING `+conflictColumns, id, c.Status, resolved, nullString(c.ResolvedBy), c.ResolvedAt))
		if err != nil {
			return fmt.Errorf("failed to update conflict: %w", err)
		}
		entity, err = saveEntity(ctx, tx, e, false)
		return err
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, nil, err
	}
	return conflict, entity, nil
}

// ConflictStats counts conflicts by status
func (s *dbStore) ConflictStats(ctx context.Context) (models.ConflictStats, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ConflictStats", "conflicts")
	defer span.End()

	var stats models.ConflictStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'resolved'),
			count(*) FILTER (WHERE status = 'resolved' AND resolved_by = $1)
		FROM conflicts`, models.ResolvedBySystem).Scan(&stats.Pending, &stats.Resolved, &stats.AutoResolved)
	if err != nil {
		otel.RecordError(span, err)
		return stats, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return stats, nil
}
