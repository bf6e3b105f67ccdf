package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/store"
)

const executionColumns = `id, job_id, source, trigger, attempt, status, started_at, completed_at,
	records_processed, records_created, records_updated, conflicts_created, errors`

func scanExecution(row pgx.Row) (*models.SyncExecution, error) {
	var (
		e    models.SyncExecution
		errs []byte
	)
	if err := row.Scan(&e.ID, &e.JobID, &e.Source, &e.Trigger, &e.Attempt, &e.Status, &e.StartedAt, &e.CompletedAt,
		&e.RecordsProcessed, &e.RecordsCreated, &e.RecordsUpdated, &e.ConflictsCreated, &errs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(errs, &e.Errors); err != nil {
		return nil, fmt.Errorf("execution %s: failed to decode errors: %w", e.ID, err)
	}
	if len(e.Errors) == 0 {
		e.Errors = nil
	}
	return &e, nil
}

func executionErrors(e *models.SyncExecution) ([]byte, error) {
	if e.Errors == nil {
		return []byte("[]"), nil
	}
	return marshalJSON(e.Errors)
}

// CreateExecution stores a running execution
func (s *dbStore) CreateExecution(ctx context.Context, exec *models.SyncExecution) error {
	ctx, span := s.startSpan(ctx, "dbStore.CreateExecution", "sync_executions")
	defer span.End()
	span.SetAttributes(otel.AttrExecutionID.String(exec.ID))

	if exec.Status != models.ExecutionRunning {
		return fmt.Errorf("execution %s must start running, got %s: %w", exec.ID, exec.Status, store.ErrInvalidTransition)
	}
	errs, err := executionErrors(exec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_executions (id, job_id, source, trigger, attempt, status, started_at,
			records_processed, records_created, records_updated, conflicts_created, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		exec.ID, exec.JobID, exec.Source, exec.Trigger, exec.Attempt, exec.Status, exec.StartedAt,
		exec.RecordsProcessed, exec.RecordsCreated, exec.RecordsUpdated, exec.ConflictsCreated, errs)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("execution %s: %w", exec.ID, store.ErrAlreadyExists)
	}
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// FinishExecution stores the terminal state of a running execution
func (s *dbStore) FinishExecution(ctx context.Context, exec *models.SyncExecution) error {
	ctx, span := s.startSpan(ctx, "dbStore.FinishExecution", "sync_executions")
	defer span.End()
	span.SetAttributes(otel.AttrExecutionID.String(exec.ID))

	if !exec.Status.Terminal() {
		return fmt.Errorf("execution %s: cannot finish as %s: %w", exec.ID, exec.Status, store.ErrInvalidTransition)
	}
	errs, err := executionErrors(exec)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_executions SET status = $2, completed_at = $3, records_processed = $4, records_created = $5,
			records_updated = $6, conflicts_created = $7, errors = $8
		WHERE id = $1 AND status = 'running'`,
		exec.ID, exec.Status, exec.CompletedAt, exec.RecordsProcessed, exec.RecordsCreated,
		exec.RecordsUpdated, exec.ConflictsCreated, errs)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status models.ExecutionStatus
	err = s.pool.QueryRow(ctx, `SELECT status FROM sync_executions WHERE id = $1`, exec.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewNotFoundError("execution", exec.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read execution status: %w", err)
	}
	return fmt.Errorf("execution %s: %s -> %s: %w", exec.ID, status, exec.Status, store.ErrInvalidTransition)
}

// GetExecution returns an execution by id
func (s *dbStore) GetExecution(ctx context.Context, id string) (*models.SyncExecution, error) {
	ctx, span := s.startSpan(ctx, "dbStore.GetExecution", "sync_executions")
	defer span.End()

	exec, err := scanExecution(s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM sync_executions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("execution", id)
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// ListExecutions lists executions, most recently started first
func (s *dbStore) ListExecutions(ctx context.Context, opts ...store.Option) ([]*models.SyncExecution, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListExecutions", "sync_executions")
	defer span.End()

	o, err := store.NewListExecutionsOptions(opts...)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM sync_executions
		WHERE ($1 = '' OR job_id = $1)
		  AND ($2 = '' OR source = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4::timestamptz IS NULL OR started_at >= $4::timestamptz)
		ORDER BY started_at DESC, id DESC
		LIMIT $5`, o.JobID, o.Source, string(o.Status), nullTime(o.Since), o.Limit)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	execs, err := collect(rows, scanExecution)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return execs, nil
}
