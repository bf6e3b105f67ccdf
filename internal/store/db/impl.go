// Package db provides a PostgreSQL implementation of the store interfaces on pgx
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// options holds configuration options for the database store
type options struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// Option is a functional option for configuring the database store
type Option func(*options) error

// WithConnectionPool sets the pgx pool. The caller is responsible for closing it.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(o *options) error {
		if pool == nil {
			return fmt.Errorf("pgx pool is required")
		}
		o.pool = pool
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer. Without one, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// dbStore implements store.Store on PostgreSQL
type dbStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ store.Store = (*dbStore)(nil)

// New creates a database-backed store
func New(opts ...Option) (store.Store, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &dbStore{pool: o.pool, tracer: o.tracer}, nil
}

// Ping checks the database connection
func (s *dbStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil
func (s *dbStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// advisoryKey hashes an identity into the key space of pg_advisory_xact_lock
func advisoryKey(parts ...string) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return int64(h.Sum64()) //nolint:gosec // wrap-around is fine for a lock key
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return data, nil
}

func unmarshalValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return v, nil
}

// ApplyEntity locks the identities of ref, loads the matching entity and persists what fn returns
func (s *dbStore) ApplyEntity(ctx context.Context, ref models.EntityRef, fn store.ApplyFunc) (*store.ApplyResult, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ApplyEntity", "entities")
	defer span.End()
	span.SetAttributes(otel.AttrSource.String(ref.Source), otel.AttrEntityKind.String(string(ref.Kind)),
		otel.AttrExternalID.String(ref.ExternalID))

	var result *store.ApplyResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		// correlation key first, then link, so every writer takes the locks in the same order
		if ref.CorrelationKey != "" {
			if err := lock(ctx, tx, "correlation", string(ref.Kind), ref.CorrelationKey); err != nil {
				return err
			}
		}
		if err := lock(ctx, tx, "link", ref.Source, string(ref.Kind), ref.ExternalID); err != nil {
			return err
		}

		current, err := lookupForUpdate(ctx, tx, ref)
		if err != nil {
			return err
		}
		next, conflicts, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			result = &store.ApplyResult{Entity: current}
			return nil
		}
		if current != nil && next.ID != current.ID {
			return fmt.Errorf("entity %s: apply changed the entity id", current.ID)
		}
		if next.ID == uuid.Nil {
			next.ID = uuid.New()
		}

		saved, err := saveEntity(ctx, tx, next, current == nil)
		if err != nil {
			return err
		}
		result = &store.ApplyResult{Entity: saved, Created: current == nil}
		for _, c := range conflicts {
			stored, err := recordConflict(ctx, tx, saved.ID, c)
			if err != nil {
				return err
			}
			result.Conflicts = append(result.Conflicts, stored)
		}
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	if result.Entity != nil {
		span.SetAttributes(otel.AttrEntityID.String(result.Entity.ID.String()))
	}
	return result, nil
}

func lock(ctx context.Context, tx pgx.Tx, parts ...string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(parts...)); err != nil {
		return fmt.Errorf("failed to lock entity identity: %w", err)
	}
	return nil
}

const entityColumns = `e.id, e.kind, e.correlation_key, e.fields, e.raw, e.batch_id, e.created_at, e.updated_at`

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var (
		e              models.Entity
		correlationKey *string
		fields, raw    []byte
	)
	if err := row.Scan(&e.ID, &e.Kind, &correlationKey, &fields, &raw, &e.BatchID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if correlationKey != nil {
		e.CorrelationKey = *correlationKey
	}
	if err := json.Unmarshal(fields, &e.Fields); err != nil {
		return nil, fmt.Errorf("entity %s: failed to decode fields: %w", e.ID, err)
	}
	if e.Fields == nil {
		e.Fields = map[string]models.FieldValue{}
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Raw); err != nil {
			return nil, fmt.Errorf("entity %s: failed to decode raw records: %w", e.ID, err)
		}
	}
	return &e, nil
}

// lookupForUpdate finds the entity for ref by link, then by correlation key, and locks its row
func lookupForUpdate(ctx context.Context, tx pgx.Tx, ref models.EntityRef) (*models.Entity, error) {
	e, err := scanEntity(tx.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM entity_links l JOIN entities e ON e.id = l.entity_id
		WHERE l.source = $1 AND l.kind = $2 AND l.external_id = $3
		FOR UPDATE OF e`, ref.Source, ref.Kind, ref.ExternalID))
	if errors.Is(err, pgx.ErrNoRows) && ref.CorrelationKey != "" {
		e, err = scanEntity(tx.QueryRow(ctx, `
			SELECT `+entityColumns+`
			FROM entities e
			WHERE e.kind = $1 AND e.correlation_key = $2
			FOR UPDATE`, ref.Kind, ref.CorrelationKey))
	}
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up entity: %w", err)
	}
	if err := loadLinks(ctx, tx, []*models.Entity{e}); err != nil {
		return nil, err
	}
	return e, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadLinks fills in the links of the given entities
func loadLinks(ctx context.Context, q querier, entities []*models.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Entity, len(entities))
	ids := make([]uuid.UUID, 0, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}
	rows, err := q.Query(ctx, `
		SELECT entity_id, source, external_id FROM entity_links
		WHERE entity_id = ANY($1)
		ORDER BY source, external_id`, ids)
	if err != nil {
		return fmt.Errorf("failed to load entity links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  uuid.UUID
			ref models.ExternalRef
		)
		if err := rows.Scan(&id, &ref.Source, &ref.ExternalID); err != nil {
			return fmt.Errorf("failed to scan entity link: %w", err)
		}
		byID[id].Links = append(byID[id].Links, ref)
	}
	return rows.Err()
}

func saveEntity(ctx context.Context, tx pgx.Tx, e *models.Entity, create bool) (*models.Entity, error) {
	fields, err := marshalJSON(e.Fields)
	if err != nil {
		return nil, err
	}
	raw, err := marshalJSON(e.Raw)
	if err != nil {
		return nil, err
	}

	var row pgx.Row
	if create {
		row = tx.QueryRow(ctx, `
			INSERT INTO entities AS e (id, kind, correlation_key, fields, raw, batch_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), COALESCE($7, now()))
			RETURNING `+entityColumns,
			e.ID, e.Kind, nullString(e.CorrelationKey), fields, raw, e.BatchID, nullTime(e.UpdatedAt))
	} else {
		// the correlation key is only ever filled in, never moved to another entity
		row = tx.QueryRow(ctx, `
			UPDATE entities AS e SET
				fields = $2,
				raw = $3,
				batch_id = $4,
				updated_at = COALESCE($5, now()),
				correlation_key = CASE
					WHEN e.correlation_key IS NULL AND $6::text IS NOT NULL AND NOT EXISTS (
						SELECT 1 FROM entities o WHERE o.kind = e.kind AND o.correlation_key = $6::text
					) THEN $6::text
					ELSE e.correlation_key
				END
			WHERE e.id = $1
			RETURNING `+entityColumns,
			e.ID, fields, raw, e.BatchID, nullTime(e.UpdatedAt), nullString(e.CorrelationKey))
	}
	saved, err := scanEntity(row)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, fmt.Errorf("entity %s: %w", e.ID, store.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to save entity: %w", err)
	}

	for _, l := range e.Links {
		var owner uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO entity_links (source, kind, external_id, entity_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (source, kind, external_id) DO UPDATE SET entity_id = entity_links.entity_id
			RETURNING entity_id`, l.Source, e.Kind, l.ExternalID, e.ID).Scan(&owner)
		if err != nil {
			return nil, fmt.Errorf("failed to save entity link: %w", err)
		}
		if owner != e.ID {
			return nil, fmt.Errorf("link %s/%s/%s already belongs to entity %s: %w",
				l.Source, e.Kind, l.ExternalID, owner, store.ErrAlreadyExists)
		}
	}
	if err := loadLinks(ctx, tx, []*models.Entity{saved}); err != nil {
		return nil, err
	}
	return saved, nil
}

// recordConflict inserts c or refreshes the pending conflict with the same entity, field and incoming source
func recordConflict(ctx context.Context, tx pgx.Tx, entityID uuid.UUID, c *models.Conflict) (*models.Conflict, error) {
	stored, err := marshalJSON(c.StoredValue)
	if err != nil {
		return nil, err
	}
	incoming, err := marshalJSON(c.IncomingValue)
	if err != nil {
		return nil, err
	}
	var resolved []byte
	if c.Status == models.ConflictResolved {
		if resolved, err = marshalJSON(c.ResolvedValue); err != nil {
			return nil, err
		}
	}
	id := c.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var inserted bool
	saved, err := scanConflictWith(tx.QueryRow(ctx, `
		INSERT INTO conflicts AS c (id, entity_id, entity_kind, field_name, stored_value, stored_source, stored_at,
			incoming_value, incoming_source, incoming_at, severity, status, resolved_value, resolved_by, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (entity_id, field_name, incoming_source) WHERE status = 'pending' DO UPDATE SET
			stored_value = EXCLUDED.stored_value,
			stored_source = EXCLUDED.stored_source,
			stored_at = EXCLUDED.stored_at,
			incoming_value = EXCLUDED.incoming_value,
			incoming_at = EXCLUDED.incoming_at,
			severity = EXCLUDED.severity
		RETURNING `+conflictColumns+`, (c.xmax = 0)`,
		id, entityID, c.EntityKind, c.Field, stored, c.StoredSource, c.StoredAt,
		incoming, c.IncomingSource, c.IncomingAt, c.Severity, c.Status, resolved, nullString(c.ResolvedBy), c.ResolvedAt),
		&inserted)
	if err != nil {
		return nil, err
	}
	saved.Created = inserted
	return saved, nil
}

const conflictColumns = `c.id, c.entity_id, c.entity_kind, c.field_name, c.stored_value, c.stored_source, c.stored_at,
	c.incoming_value, c.incoming_source, c.incoming_at, c.severity, c.status, c.resolved_value, c.resolved_by,
	c.resolved_at, c.created_at`

func scanConflict(row pgx.Row) (*models.Conflict, error) {
	return scanConflictWith(row)
}

// scanConflictWith reads conflictColumns followed by any extra columns into extra
func scanConflictWith(row pgx.Row, extra ...any) (*models.Conflict, error) {
	var (
		c                          models.Conflict
		stored, incoming, resolved []byte
		resolvedBy                 *string
	)
	dest := []any{&c.ID, &c.EntityID, &c.EntityKind, &c.Field, &stored, &c.StoredSource, &c.StoredAt,
		&incoming, &c.IncomingSource, &c.IncomingAt, &c.Severity, &c.Status, &resolved, &resolvedBy,
		&c.ResolvedAt, &c.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}
	if c.StoredValue, err = unmarshalValue(stored); err != nil {
		return nil, err
	}
	if c.IncomingValue, err = unmarshalValue(incoming); err != nil {
		return nil, err
	}
	if c.ResolvedValue, err = unmarshalValue(resolved); err != nil {
		return nil, err
	}
	if resolvedBy != nil {
		c.ResolvedBy = *resolvedBy
	}
	return &c, nil
}
