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

// GetEntity returns an entity by id
func (s *dbStore) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	ctx, span := s.startSpan(ctx, "dbStore.GetEntity", "entities")
	defer span.End()

	e, err := scanEntity(s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities e WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("entity", id.String())
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	if err := loadLinks(ctx, s.pool, []*models.Entity{e}); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	return e, nil
}

// FindEntity returns the entity linked to ref
func (s *dbStore) FindEntity(ctx context.Context, ref models.EntityRef) (*models.Entity, error) {
	ctx, span := s.startSpan(ctx, "dbStore.FindEntity", "entity_links")
	defer span.End()

	e, err := scanEntity(s.pool.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM entity_links l JOIN entities e ON e.id = l.entity_id
		WHERE l.source = $1 AND l.kind = $2 AND l.external_id = $3`, ref.Source, ref.Kind, ref.ExternalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("entity", fmt.Sprintf("%s/%s/%s", ref.Source, ref.Kind, ref.ExternalID))
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to find entity: %w", err)
	}
	if err := loadLinks(ctx, s.pool, []*models.Entity{e}); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	return e, nil
}

// ListEntities lists entities ordered by creation time
func (s *dbStore) ListEntities(ctx context.Context, opts ...store.Option) ([]*models.Entity, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListEntities", "entities")
	defer span.End()

	o, err := store.NewListEntitiesOptions(opts...)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities e
		WHERE ($1 = '' OR e.kind = $1)
		  AND ($2 = '' OR EXISTS (SELECT 1 FROM entity_links l WHERE l.entity_id = e.id AND l.source = $2))
		ORDER BY e.created_at, e.id
		LIMIT $3 OFFSET $4`, string(o.Kind), o.Source, o.Limit, o.Offset)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	entities, err := collect(rows, scanEntity)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	if err := loadLinks(ctx, s.pool, entities); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrRecordCount.Int(len(entities)))
	return entities, nil
}

// FieldCoverage counts, per kind, the entities and the entities carrying each field
func (s *dbStore) FieldCoverage(ctx context.Context) (map[models.EntityKind]store.KindCoverage, error) {
	ctx, span := s.startSpan(ctx, "dbStore.FieldCoverage", "entities")
	defer span.End()

	out := map[models.EntityKind]store.KindCoverage{}
	rows, err := s.pool.Query(ctx, `SELECT kind, count(*) FROM entities GROUP BY kind`)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	for rows.Next() {
		var (
			kind models.EntityKind
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan entity count: %w", err)
		}
		out[kind] = store.KindCoverage{Entities: n, FieldCounts: map[string]int{}}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}

	// a field counts when its value is neither null, "", [] nor {}
	rows, err = s.pool.Query(ctx, `
		SELECT e.kind, f.key, count(*)
		FROM entities e, jsonb_each(e.fields) f
		WHERE f.value -> 'value' IS NOT NULL
		  AND f.value -> 'value' NOT IN ('null'::jsonb, '""'::jsonb, '[]'::jsonb, '{}'::jsonb)
		GROUP BY e.kind, f.key`)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to count entity fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind  models.EntityKind
			field string
			n     int
		)
		if err := rows.Scan(&kind, &field, &n); err != nil {
			return nil, fmt.Errorf("failed to scan field count: %w", err)
		}
		if cov, ok := out[kind]; ok {
			cov.FieldCounts[field] = n
		}
	}
	return out, rows.Err()
}

// collect scans every row with scan
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
