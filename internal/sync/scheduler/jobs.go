package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/sources"
)

// validateJob rejects a job definition before any state changes
func (s *defaultScheduler) validateJob(job *models.SyncJob) error {
	if strings.TrimSpace(job.ID) == "" {
		return models.NewValidationError("id", "is required")
	}
	if strings.ContainsAny(job.ID, ": /") {
		return models.NewValidationError("id", "must not contain ':', '/' or spaces")
	}
	if job.MaxRetries < 0 {
		return models.NewValidationError("maxRetries", "must not be negative")
	}
	if err := ValidateCron(job.Schedule, job.Timezone); err != nil {
		return err
	}
	adapter, err := s.registry.Get(job.Source)
	if err != nil {
		return models.NewValidationError("source", "unknown source %q", job.Source)
	}
	return sources.ValidateFilters(adapter, job.Filters)
}

// apply reconciles the job's timer with its enabled flag
func (s *defaultScheduler) apply(job *models.SyncJob) error {
	if !job.Enabled {
		s.UnscheduleJob(job.ID)
		return nil
	}
	return s.ScheduleJob(job)
}

// DefaultMaxRetries returns the configured retry limit for jobs that omit one
func (s *defaultScheduler) DefaultMaxRetries() int {
	return s.defaultMaxRetries
}

// CreateJob validates and stores a job, scheduling it when enabled. MaxRetries is stored as given.
func (s *defaultScheduler) CreateJob(ctx context.Context, job *models.SyncJob) (*models.SyncJob, error) {
	if err := s.validateJob(job); err != nil {
		return nil, err
	}

	created := *job
	created.RetryCount = 0
	if created.Name == "" {
		created.Name = created.ID
	}
	if err := s.store.CreateJob(ctx, &created); err != nil {
		return nil, fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	if err := s.apply(&created); err != nil {
		return nil, err
	}
	slog.Info("Job created", "job", created.ID, "source", created.Source,
		"schedule", created.Schedule, "enabled", created.Enabled)
	return s.store.GetJob(ctx, created.ID)
}

// UpdateJob replaces the definition of an existing job and re-schedules it
func (s *defaultScheduler) UpdateJob(ctx context.Context, id string, job *models.SyncJob) (*models.SyncJob, error) {
	if job.ID != "" && job.ID != id {
		return nil, models.NewValidationError("id", "cannot be changed from %q to %q", id, job.ID)
	}
	candidate := *job
	candidate.ID = id
	if err := s.validateJob(&candidate); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateJob(ctx, id, func(stored *models.SyncJob) error {
		stored.Name = candidate.Name
		if stored.Name == "" {
			stored.Name = id
		}
		stored.Source = candidate.Source
		stored.Schedule = candidate.Schedule
		stored.Timezone = candidate.Timezone
		stored.Filters = candidate.Filters
		stored.MaxRetries = candidate.MaxRetries
		stored.Enabled = candidate.Enabled
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.apply(updated); err != nil {
		return nil, err
	}
	slog.Info("Job updated", "job", id, "enabled", updated.Enabled)
	return updated, nil
}

// DeleteJob removes the job, its timer and any pending retry. A running execution finishes.
func (s *defaultScheduler) DeleteJob(ctx context.Context, id string) error {
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.UnscheduleJob(id)
	slog.Info("Job deleted", "job", id)
	return nil
}

// EnableJob turns scheduling on
func (s *defaultScheduler) EnableJob(ctx context.Context, id string) (*models.SyncJob, error) {
	return s.setEnabled(ctx, id, true)
}

// DisableJob turns scheduling off. A running execution finishes.
func (s *defaultScheduler) DisableJob(ctx context.Context, id string) (*models.SyncJob, error) {
	return s.setEnabled(ctx, id, false)
}

func (s *defaultScheduler) setEnabled(ctx context.Context, id string, enabled bool) (*models.SyncJob, error) {
	updated, err := s.store.UpdateJob(ctx, id, func(job *models.SyncJob) error {
		job.Enabled = enabled
		if enabled {
			job.RetryCount = 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.apply(updated); err != nil {
		return nil, err
	}
	slog.Info("Job scheduling changed", "job", id, "enabled", enabled)
	return updated, nil
}

// GetJob returns a stored job
func (s *defaultScheduler) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns every stored job
func (s *defaultScheduler) ListJobs(ctx context.Context) ([]*models.SyncJob, error) {
	return s.store.ListJobs(ctx)
}
