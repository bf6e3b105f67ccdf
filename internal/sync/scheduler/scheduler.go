package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/logging"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/sources"
	"github.com/stacklok/integration-sync/internal/store"
	pkgsync "github.com/stacklok/integration-sync/internal/sync"
	"github.com/stacklok/integration-sync/internal/telemetry"
)

const (
	// DefaultBaseRetryDelay is the first retry delay when none is configured
	DefaultBaseRetryDelay = 30 * time.Second

	// ManualJobID is the job id of manual syncs that do not name a job
	ManualJobID = "manual"

	// maxRetryDelay caps the exponential backoff
	maxRetryDelay = 24 * time.Hour
)

// ErrJobInFlight is returned when an execution for the same job key is already running
var ErrJobInFlight = errors.New("job is already running")

// Store is the persistence the scheduler needs
type Store interface {
	store.JobStore
	store.ExecutionStore
}

// ManualSyncRequest describes an ad-hoc sync of one source
type ManualSyncRequest struct {
	// JobID names the run. When set, the run shares the concurrency guard of that job.
	JobID   string         `json:"jobId,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
}

// Scheduler manages sync jobs and their executions
//
//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/stacklok/integration-sync/internal/sync/scheduler Scheduler
type Scheduler interface {
	// Start seeds configured jobs, schedules every enabled job and blocks until ctx is done
	Start(ctx context.Context) error
	// Stop cancels timers and pending retries and waits for Start to return
	Stop() error

	// ScheduleJob attaches a timer to the job, replacing any existing one
	ScheduleJob(job *models.SyncJob) error
	// UnscheduleJob removes the job's timer and pending retry. It is a no-op when absent.
	UnscheduleJob(jobID string)
	// ExecuteSyncJob runs the job now. It returns ErrJobInFlight when the job key is busy.
	ExecuteSyncJob(ctx context.Context, job *models.SyncJob, trigger models.TriggerType) (*models.SyncExecution, error)
	// TriggerJob runs a stored job now
	TriggerJob(ctx context.Context, jobID string) (*models.SyncExecution, error)
	// TriggerManualSync runs an ad-hoc job against source
	TriggerManualSync(ctx context.Context, source string, req ManualSyncRequest) (*models.SyncExecution, error)

	// DefaultMaxRetries is the retry limit for jobs that do not set one
	DefaultMaxRetries() int
	CreateJob(ctx context.Context, job *models.SyncJob) (*models.SyncJob, error)
	UpdateJob(ctx context.Context, id string, job *models.SyncJob) (*models.SyncJob, error)
	DeleteJob(ctx context.Context, id string) error
	EnableJob(ctx context.Context, id string) (*models.SyncJob, error)
	DisableJob(ctx context.Context, id string) (*models.SyncJob, error)
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	ListJobs(ctx context.Context) ([]*models.SyncJob, error)
}

// Option configures the scheduler
type Option func(*defaultScheduler)

// WithTimers replaces the cron-backed timers
func WithTimers(timers Timers) Option {
	return func(s *defaultScheduler) {
		s.timers = timers
	}
}

// WithBaseRetryDelay sets the first retry delay
func WithBaseRetryDelay(d time.Duration) Option {
	return func(s *defaultScheduler) {
		if d > 0 {
			s.baseRetryDelay = d
		}
	}
}

// WithDefaultMaxRetries sets the retry limit of configured jobs that omit maxRetries
func WithDefaultMaxRetries(n int) Option {
	return func(s *defaultScheduler) {
		s.defaultMaxRetries = max(n, 0)
	}
}

// WithSeedJobs sets jobs created at start when absent from the store
func WithSeedJobs(jobs []models.SyncJob) Option {
	return func(s *defaultScheduler) {
		s.seedJobs = jobs
	}
}

// WithMetrics records execution durations and outcomes
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(s *defaultScheduler) {
		s.metrics = metrics
	}
}

// WithTracer sets the tracer for execution spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *defaultScheduler) {
		s.tracer = tracer
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *defaultScheduler) {
		s.now = now
	}
}

// defaultScheduler is the default implementation of Scheduler
type defaultScheduler struct {
	manager  pkgsync.Manager
	registry *sources.Registry
	store    Store
	timers   Timers

	baseRetryDelay    time.Duration
	defaultMaxRetries int
	seedJobs          []models.SyncJob
	metrics           *telemetry.SyncMetrics
	tracer            trace.Tracer
	now               func() time.Time

	// inFlight holds the keys of running executions
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	retryMu sync.Mutex
	retries map[string]*time.Timer

	// Lifecycle management
	lifecycleMu sync.Mutex
	runCtx      context.Context
	cancelFunc  context.CancelFunc
	done        chan struct{}
}

var _ Scheduler = (*defaultScheduler)(nil)

// New creates a scheduler running jobs through manager
func New(manager pkgsync.Manager, registry *sources.Registry, st Store, opts ...Option) Scheduler {
	s := &defaultScheduler{
		manager:        manager,
		registry:       registry,
		store:          st,
		baseRetryDelay: DefaultBaseRetryDelay,
		now:            time.Now,
		inFlight:       map[string]struct{}{},
		retries:        map[string]*time.Timer{},
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timers == nil {
		s.timers = NewCronTimers(logging.FromContext(context.Background()).WithName("cron"))
	}
	return s
}

// Start begins scheduling. It blocks until ctx is cancelled or Stop is called.
func (s *defaultScheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.lifecycleMu.Lock()
	s.runCtx = runCtx
	s.cancelFunc = cancel
	s.lifecycleMu.Unlock()
	defer func() {
		close(s.done)
		slog.Info("Job scheduler shut down")
	}()

	if err := s.seed(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to seed configured jobs: %w", err)
	}

	jobs, err := s.store.ListJobs(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to load jobs: %w", err)
	}
	scheduled := 0
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.ScheduleJob(job); err != nil {
			slog.Error("Failed to schedule job", "job", job.ID, "error", err)
			continue
		}
		scheduled++
	}

	s.timers.Start()
	slog.Info("Job scheduler started", "jobs", len(jobs), "scheduled", scheduled)

	<-runCtx.Done()
	slog.Info("Job scheduler stopping")
	s.timers.Stop()
	s.cancelAllRetries()
	return nil
}

// Stop gracefully stops the scheduler
func (s *defaultScheduler) Stop() error {
	s.lifecycleMu.Lock()
	cancel := s.cancelFunc
	s.lifecycleMu.Unlock()
	if cancel != nil {
		slog.Info("Stopping job scheduler")
		cancel()
		<-s.done
	}
	return nil
}

// seed creates configured jobs that are not yet stored. Stored jobs win so API edits survive restarts.
func (s *defaultScheduler) seed(ctx context.Context) error {
	for i := range s.seedJobs {
		job := s.seedJobs[i]
		if job.MaxRetries == 0 {
			job.MaxRetries = s.defaultMaxRetries
		}
		_, err := s.store.GetJob(ctx, job.ID)
		if err == nil {
			continue
		}
		if !models.IsNotFound(err) {
			return err
		}
		if _, err := s.CreateJob(ctx, &job); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
		slog.Info("Seeded job from configuration", "job", job.ID, "source", job.Source)
	}
	return nil
}

// baseContext returns the context scheduled runs execute under
func (s *defaultScheduler) baseContext() context.Context {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// ScheduleJob validates the cron expression and (re)attaches the job's timer
func (s *defaultScheduler) ScheduleJob(job *models.SyncJob) error {
	jobID := job.ID
	return s.timers.Schedule(jobID, job.Schedule, job.Timezone, func() {
		s.fire(jobID)
	})
}

// UnscheduleJob removes the job's timer and any pending retry
func (s *defaultScheduler) UnscheduleJob(jobID string) {
	s.timers.Cancel(jobID)
	s.cancelRetry(jobID)
}

// fire is the timer callback. It reloads the job so edits made since scheduling apply.
func (s *defaultScheduler) fire(jobID string) {
	ctx := s.baseContext()
	if ctx.Err() != nil {
		return
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("Scheduled job could not be loaded", "job", jobID, "error", err)
		return
	}
	if !job.Enabled {
		return
	}

	// A scheduled run starts a fresh retry chain
	s.cancelRetry(jobID)
	if job.RetryCount > 0 {
		s.setRetryCount(ctx, jobID, 0)
		job.RetryCount = 0
	}
	if _, err := s.ExecuteSyncJob(ctx, job, models.TriggerScheduled); err != nil {
		if errors.Is(err, ErrJobInFlight) {
			slog.Info("Skipping scheduled run, previous run still in flight", "job", jobID)
			return
		}
		slog.Error("Scheduled run failed to start", "job", jobID, "error", err)
	}
}

// acquire marks key as running. It returns false when key is already running.
func (s *defaultScheduler) acquire(key string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, ok := s.inFlight[key]; ok {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *defaultScheduler) release(key string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, key)
}

// ExecuteSyncJob runs the fetch, normalize and reconcile pipeline for job and records the execution
func (s *defaultScheduler) ExecuteSyncJob(
	ctx context.Context, job *models.SyncJob, trigger models.TriggerType,
) (*models.SyncExecution, error) {
	key := job.Key()
	if !s.acquire(key) {
		return nil, fmt.Errorf("%s: %w", key, ErrJobInFlight)
	}
	defer s.release(key)

	ctx, span := otel.StartSpan(ctx, s.tracer, "scheduler.ExecuteSyncJob")
	defer span.End()
	span.SetAttributes(otel.AttrJobID.String(job.ID), otel.AttrSource.String(job.Source))

	exec := &models.SyncExecution{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Source:    job.Source,
		Trigger:   trigger,
		Attempt:   job.RetryCount + 1,
		Status:    models.ExecutionRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to record execution start: %w", err)
	}
	slog.Info("Sync execution started",
		"execution", exec.ID, "job", job.ID, "source", job.Source,
		"trigger", trigger, "attempt", exec.Attempt)

	result, syncErr := s.manager.PerformSync(ctx, job)
	if result != nil {
		exec.RecordsProcessed = result.RecordsProcessed
		exec.RecordsCreated = result.RecordsCreated
		exec.RecordsUpdated = result.RecordsUpdated
		exec.ConflictsCreated = result.ConflictsCreated
		exec.Errors = result.Errors
	}
	completedAt := s.now().UTC()
	exec.CompletedAt = &completedAt
	exec.Status = models.ExecutionCompleted
	if syncErr != nil {
		otel.RecordError(span, syncErr)
		exec.Status = models.ExecutionFailed
		exec.Errors = append([]string{syncErr.Message}, exec.Errors...)
	}

	// The terminal row is written even when the caller has gone away
	if err := s.store.FinishExecution(context.WithoutCancel(ctx), exec); err != nil {
		otel.RecordError(span, err)
		slog.Error("Failed to record execution result", "execution", exec.ID, "error", err)
	}
	s.metrics.RecordExecution(ctx, job.Source, string(trigger), exec.Duration(), syncErr == nil)

	if syncErr != nil {
		slog.Warn("Sync execution failed",
			"execution", exec.ID, "job", job.ID, "reason", syncErr.Reason, "error", syncErr.Message)
	} else {
		slog.Info("Sync execution completed",
			"execution", exec.ID, "job", job.ID,
			"processed", exec.RecordsProcessed,
			"created", exec.RecordsCreated,
			"updated", exec.RecordsUpdated,
			"conflicts", exec.ConflictsCreated,
			"duration", exec.Duration())
	}

	if trigger != models.TriggerManual {
		s.afterScheduledRun(ctx, job, syncErr == nil)
	}
	return exec, nil
}

// afterScheduledRun records the retry chain position and schedules the next retry of a failed run
func (s *defaultScheduler) afterScheduledRun(ctx context.Context, job *models.SyncJob, success bool) {
	ctx = context.WithoutCancel(ctx)
	if success {
		if job.RetryCount > 0 {
			s.setRetryCount(ctx, job.ID, 0)
		}
		return
	}
	if job.RetryCount >= job.MaxRetries {
		slog.Warn("Retries exhausted", "job", job.ID, "retries", job.RetryCount)
		return
	}

	next := job.RetryCount + 1
	delay := RetryDelay(s.baseRetryDelay, job.RetryCount)
	s.setRetryCount(ctx, job.ID, next)
	s.scheduleRetry(job.ID, next, delay)
	slog.Info("Scheduled retry", "job", job.ID, "retry", next, "delay", delay)
}

func (s *defaultScheduler) setRetryCount(ctx context.Context, jobID string, n int) {
	_, err := s.store.UpdateJob(ctx, jobID, func(job *models.SyncJob) error {
		job.RetryCount = n
		return nil
	})
	if err != nil && !models.IsNotFound(err) {
		slog.Error("Failed to record retry count", "job", jobID, "error", err)
	}
}

// RetryDelay returns base * 2^retryCount, capped at one day
func RetryDelay(base time.Duration, retryCount int) time.Duration {
	delay := base
	for range retryCount {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (s *defaultScheduler) scheduleRetry(jobID string, retryCount int, delay time.Duration) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	if existing, ok := s.retries[jobID]; ok {
		existing.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.retryMu.Lock()
		if s.retries[jobID] != timer {
			s.retryMu.Unlock()
			return
		}
		delete(s.retries, jobID)
		s.retryMu.Unlock()
		s.retry(jobID, retryCount)
	})
	s.retries[jobID] = timer
}

func (s *defaultScheduler) retry(jobID string, retryCount int) {
	ctx := s.baseContext()
	if ctx.Err() != nil {
		return
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("Retry could not load job", "job", jobID, "error", err)
		return
	}
	if !job.Enabled {
		return
	}
	job.RetryCount = retryCount
	if _, err := s.ExecuteSyncJob(ctx, job, models.TriggerRetry); err != nil {
		slog.Warn("Retry did not run", "job", jobID, "error", err)
	}
}

func (s *defaultScheduler) cancelRetry(jobID string) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	if timer, ok := s.retries[jobID]; ok {
		timer.Stop()
		delete(s.retries, jobID)
	}
}

func (s *defaultScheduler) cancelAllRetries() {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	for jobID, timer := range s.retries {
		timer.Stop()
		delete(s.retries, jobID)
	}
}

// hasRetry reports whether a retry is pending for jobID
func (s *defaultScheduler) hasRetry(jobID string) bool {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	_, ok := s.retries[jobID]
	return ok
}

// TriggerJob runs a stored job now under its own key
func (s *defaultScheduler) TriggerJob(ctx context.Context, jobID string) (*models.SyncExecution, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.RetryCount = 0
	return s.ExecuteSyncJob(ctx, job, models.TriggerManual)
}

// TriggerManualSync builds an ad-hoc job without a schedule and runs it now
func (s *defaultScheduler) TriggerManualSync(
	ctx context.Context, source string, req ManualSyncRequest,
) (*models.SyncExecution, error) {
	adapter, err := s.registry.Get(source)
	if err != nil {
		return nil, err
	}
	if err := sources.ValidateFilters(adapter, req.Filters); err != nil {
		return nil, err
	}
	jobID := req.JobID
	if jobID == "" {
		jobID = ManualJobID
	}
	job := &models.SyncJob{
		ID:      jobID,
		Name:    "manual sync of " + source,
		Source:  source,
		Filters: req.Filters,
		Enabled: true,
	}
	return s.ExecuteSyncJob(ctx, job, models.TriggerManual)
}
