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

const jobColumns = `id, name, source, schedule, filters, retry_count, max_retries, enabled, timezone, created_at, updated_at`

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var (
		j       models.SyncJob
		filters []byte
	)
	if err := row.Scan(&j.ID, &j.Name, &j.Source, &j.Schedule, &filters, &j.RetryCount, &j.MaxRetries,
		&j.Enabled, &j.Timezone, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &j.Filters); err != nil {
			return nil, fmt.Errorf("job %s: failed to decode filters: %w", j.ID, err)
		}
	}
	return &j, nil
}

func jobFilters(j *models.SyncJob) ([]byte, error) {
	if j.Filters == nil {
		return nil, nil
	}
	return marshalJSON(j.Filters)
}

// CreateJob stores a new job
func (s *dbStore) CreateJob(ctx context.Context, job *models.SyncJob) error {
	ctx, span := s.startSpan(ctx, "dbStore.CreateJob", "sync_jobs")
	defer span.End()
	span.SetAttributes(otel.AttrJobID.String(job.ID))

	filters, err := jobFilters(job)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO sync_jobs (id, name, source, schedule, filters, retry_count, max_retries, enabled, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		job.ID, job.Name, job.Source, job.Schedule, filters, job.RetryCount, job.MaxRetries, job.Enabled, job.Timezone,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("job %s: %w", job.ID, store.ErrAlreadyExists)
	}
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob locks the job row, applies fn and stores the result
func (s *dbStore) UpdateJob(ctx context.Context, id string, fn func(job *models.SyncJob) error) (*models.SyncJob, error) {
	ctx, span := s.startSpan(ctx, "dbStore.UpdateJob", "sync_jobs")
	defer span.End()
	span.SetAttributes(otel.AttrJobID.String(id))

	var updated *models.SyncJob
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NewNotFoundError("job", id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock job: %w", err)
		}
		if err := fn(job); err != nil {
			return err
		}
		filters, err := jobFilters(job)
		if err != nil {
			return err
		}
		updated, err = scanJob(tx.QueryRow(ctx, `
			UPDATE sync_jobs SET name = $2, source = $3, schedule = $4, filters = $5, retry_count = $6,
				max_retries = $7, enabled = $8, timezone = $9, updated_at = now()
			WHERE id = $1
			RETURNING `+jobColumns,
			id, job.Name, job.Source, job.Schedule, filters, job.RetryCount, job.MaxRetries, job.Enabled, job.Timezone))
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

// GetJob returns a job by id
func (s *dbStore) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	ctx, span := s.startSpan(ctx, "dbStore.GetJob", "sync_jobs")
	defer span.End()

	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("job", id)
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs lists jobs ordered by id
func (s *dbStore) ListJobs(ctx context.Context) ([]*models.SyncJob, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListJobs", "sync_jobs")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM sync_jobs ORDER BY id`)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs, err := collect(rows, scanJob)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job. Its executions are kept.
func (s *dbStore) DeleteJob(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "dbStore.DeleteJob", "sync_jobs")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_jobs WHERE id = $1`, id)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewNotFoundError("job", id)
	}
	return nil
}
