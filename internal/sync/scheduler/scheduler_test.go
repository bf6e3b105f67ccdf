package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/reconcile"
	"github.com/stacklok/integration-sync/internal/sources"
	sourcesmocks "github.com/stacklok/integration-sync/internal/sources/mocks"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/store/inmemory"
	pkgsync "github.com/stacklok/integration-sync/internal/sync"
	syncmocks "github.com/stacklok/integration-sync/internal/sync/mocks"
)

// fakeTimers records scheduled callbacks so tests can fire them directly
type fakeTimers struct {
	mu      sync.Mutex
	fns     map[string]func()
	exprs   map[string]string
	started bool
	stopped bool
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{fns: map[string]func(){}, exprs: map[string]string{}}
}

func (f *fakeTimers) Schedule(id, expr, timezone string, fn func()) error {
	if err := ValidateCron(expr, timezone); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns[id] = fn
	f.exprs[id] = expr
	return nil
}

func (f *fakeTimers) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fns, id)
	delete(f.exprs, id)
}

func (f *fakeTimers) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.fns[id]
	return ok
}

func (f *fakeTimers) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeTimers) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTimers) isStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeTimers) expr(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exprs[id]
}

func (f *fakeTimers) fire(t *testing.T, id string) {
	t.Helper()
	f.mu.Lock()
	fn, ok := f.fns[id]
	f.mu.Unlock()
	require.True(t, ok, "no timer for %s", id)
	fn()
}

var fastLimit = &config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 100}

func simulated(t *testing.T, name string) *sources.SimulatedAdapter {
	t.Helper()
	a, err := sources.NewSimulatedAdapter(&config.SourceConfig{
		Name: name, Type: config.SourceTypeSimulated, RateLimit: fastLimit,
		Simulated: &config.SimulatedConfig{Flavor: config.SourceTypeTenable, Assets: 4, Seed: 3},
	})
	require.NoError(t, err)
	return a
}

type fixture struct {
	scheduler *defaultScheduler
	timers    *fakeTimers
	store     store.Store
	adapter   *sources.SimulatedAdapter
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := inmemory.New()
	adapter := simulated(t, "tenable")
	registry := sources.NewRegistry(adapter)
	timers := newFakeTimers()
	manager := pkgsync.NewDefaultSyncManager(registry, reconcile.New(st))
	s := New(manager, registry, st, append([]Option{WithTimers(timers)}, opts...)...)
	return &fixture{scheduler: s.(*defaultScheduler), timers: timers, store: st, adapter: adapter}
}

func hourlyJob(id string) *models.SyncJob {
	return &models.SyncJob{ID: id, Source: "tenable", Schedule: "0 * * * *", Enabled: true}
}

func TestValidateCron(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expr     string
		timezone string
		wantErr  bool
	}{
		{name: "hourly", expr: "0 * * * *"},
		{name: "descriptor", expr: "@hourly"},
		{name: "every", expr: "@every 5m"},
		{name: "with timezone", expr: "30 2 * * 1-5", timezone: "America/New_York"},
		{name: "empty", expr: "", wantErr: true},
		{name: "garbage", expr: "every tuesday", wantErr: true},
		{name: "seconds field", expr: "0 0 * * * *", wantErr: true},
		{name: "out of range", expr: "61 * * * *", wantErr: true},
		{name: "unknown timezone", expr: "0 * * * *", timezone: "Mars/Olympus", wantErr: true},
		{name: "inline timezone prefix", expr: "CRON_TZ=UTC 0 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateCron(tt.expr, tt.timezone)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, models.IsValidation(err))
		})
	}
}

func TestCronTimers(t *testing.T) {
	t.Parallel()

	timers := NewCronTimers(logr.Discard()).(*cronTimers)
	require.Error(t, timers.Schedule("bad", "nope", "", func() {}))
	assert.False(t, timers.Has("bad"))

	require.NoError(t, timers.Schedule("j1", "@hourly", "", func() {}))
	require.NoError(t, timers.Schedule("j1", "*/5 * * * *", "UTC", func() {}))
	assert.True(t, timers.Has("j1"))
	assert.Len(t, timers.cron.Entries(), 1, "re-scheduling replaces the timer")

	timers.Cancel("j1")
	timers.Cancel("missing")
	assert.False(t, timers.Has("j1"))
	assert.Empty(t, timers.cron.Entries())

	fired := make(chan struct{}, 1)
	require.NoError(t, timers.Schedule("fast", "@every 1s", "", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}))
	timers.Start()
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
	timers.Stop()
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{retryCount: 0, expected: 30 * time.Second},
		{retryCount: 1, expected: time.Minute},
		{retryCount: 2, expected: 2 * time.Minute},
		{retryCount: 5, expected: 16 * time.Minute},
		{retryCount: 40, expected: 24 * time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, RetryDelay(30*time.Second, tt.retryCount), "retry %d", tt.retryCount)
	}
}

func TestJobCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, WithDefaultMaxRetries(3))
	s := f.scheduler

	invalid := []*models.SyncJob{
		{ID: "", Source: "tenable", Schedule: "@hourly"},
		{ID: "a:b", Source: "tenable", Schedule: "@hourly"},
		{ID: "j1", Source: "tenable", Schedule: "not cron"},
		{ID: "j1", Source: "qualys", Schedule: "@hourly"},
		{ID: "j1", Source: "tenable", Schedule: "@hourly", Filters: map[string]any{"kinds": []any{"control"}}},
		{ID: "j1", Source: "tenable", Schedule: "@hourly", MaxRetries: -1},
	}
	for _, job := range invalid {
		_, err := s.CreateJob(ctx, job)
		require.Error(t, err, "job %+v", job)
		assert.True(t, models.IsValidation(err), "job %+v: %v", job, err)
	}
	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected jobs leave no state")

	assert.Equal(t, 3, s.DefaultMaxRetries())
	created, err := s.CreateJob(ctx, hourlyJob("j1"))
	require.NoError(t, err)
	assert.Equal(t, "j1", created.Name)
	assert.Equal(t, 0, created.MaxRetries, "an explicit zero is not replaced by the default")
	assert.True(t, f.timers.Has("j1"))

	_, err = s.CreateJob(ctx, hourlyJob("j1"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	update := hourlyJob("")
	update.Schedule = "*/15 * * * *"
	update.MaxRetries = 1
	updated, err := s.UpdateJob(ctx, "j1", update)
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", updated.Schedule)
	assert.Equal(t, 1, updated.MaxRetries)
	assert.Equal(t, "*/15 * * * *", f.timers.expr("j1"))

	_, err = s.UpdateJob(ctx, "j1", hourlyJob("other"))
	assert.True(t, models.IsValidation(err))
	_, err = s.UpdateJob(ctx, "missing", hourlyJob(""))
	assert.True(t, models.IsNotFound(err))

	disabled, err := s.DisableJob(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.False(t, f.timers.Has("j1"))

	enabled, err := s.EnableJob(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.True(t, f.timers.Has("j1"))

	require.NoError(t, s.DeleteJob(ctx, "j1"))
	assert.False(t, f.timers.Has("j1"))
	_, err = s.GetJob(ctx, "j1")
	assert.True(t, models.IsNotFound(err))
	assert.True(t, models.IsNotFound(s.DeleteJob(ctx, "j1")))

	s.UnscheduleJob("never-scheduled")
}

func TestExecuteSyncJobRecordsExecution(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	st := inmemory.New()

	raw := func(id, criticality string) sources.RawRecord {
		data, err := json.Marshal(map[string]any{"id": id, "criticality": criticality})
		require.NoError(t, err)
		return sources.RawRecord{Kind: models.KindAsset, Data: data}
	}
	adapter := sourcesmocks.NewMockAdapter(ctrl)
	adapter.EXPECT().Name().Return("sourceA").AnyTimes()
	adapter.EXPECT().Kinds().Return([]models.EntityKind{models.KindAsset}).AnyTimes()
	adapter.EXPECT().FilterSchema().Return(`{"type": "object"}`).AnyTimes()
	adapter.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(&sources.Page{
		Records: []sources.RawRecord{raw("a-1", "high"), raw("a-2", "low"), raw("a-1", "medium")},
		Page:    1, PerPage: 100, Total: 3,
	}, nil)
	adapter.EXPECT().Normalize(gomock.Any()).DoAndReturn(func(r sources.RawRecord) (*models.NormalizedRecord, error) {
		var m map[string]any
		if err := json.Unmarshal(r.Data, &m); err != nil {
			return nil, err
		}
		return &models.NormalizedRecord{
			Kind: models.KindAsset, ExternalID: m["id"].(string),
			Fields: map[string]any{"criticality": m["criticality"]},
		}, nil
	}).Times(3)

	registry := sources.NewRegistry(adapter)
	manager := pkgsync.NewDefaultSyncManager(registry, reconcile.New(st))
	s := New(manager, registry, st, WithTimers(newFakeTimers()))

	job := &models.SyncJob{ID: "j1", Source: "sourceA", Schedule: "0 * * * *", Enabled: true}
	exec, err := s.ExecuteSyncJob(ctx, job, models.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, 2, exec.RecordsCreated, "duplicate external id within a page collapses")
	assert.Equal(t, 0, exec.RecordsUpdated)
	assert.Equal(t, 1, exec.Attempt)
	require.NotNil(t, exec.CompletedAt)

	stored, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.Equal(t, 2, stored.RecordsCreated)
	assert.Equal(t, "sourceA", stored.Source)

	entities, err := st.ListEntities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
}

func TestExecuteSyncJobFailureIsRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.SetUnavailable(true)

	exec, err := f.scheduler.ExecuteSyncJob(ctx, hourlyJob("j1"), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	require.NotEmpty(t, exec.Errors)
	assert.Contains(t, exec.Errors[0], "source unavailable")
	assert.False(t, f.scheduler.hasRetry("j1"), "manual runs are not retried")

	stored, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, stored.Status)
}

func TestExecuteSyncJobConcurrencyGuard(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	st := inmemory.New()
	registry := sources.NewRegistry(simulated(t, "tenable"))

	started := make(chan struct{})
	release := make(chan struct{})
	manager := syncmocks.NewMockManager(ctrl)
	manager.EXPECT().PerformSync(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, job *models.SyncJob) (*pkgsync.Result, *pkgsync.Error) {
			if job.ID == "j1" {
				close(started)
				<-release
			}
			return &pkgsync.Result{RecordsProcessed: 1, RecordsCreated: 1}, nil
		}).Times(2)

	s := New(manager, registry, st, WithTimers(newFakeTimers()))

	var wg sync.WaitGroup
	wg.Add(1)
	var first *models.SyncExecution
	go func() {
		defer wg.Done()
		exec, err := s.ExecuteSyncJob(ctx, hourlyJob("j1"), models.TriggerScheduled)
		assert.NoError(t, err)
		first = exec
	}()
	<-started

	_, err := s.ExecuteSyncJob(ctx, hourlyJob("j1"), models.TriggerScheduled)
	require.ErrorIs(t, err, ErrJobInFlight)
	_, err = s.TriggerManualSync(ctx, "tenable", ManualSyncRequest{JobID: "j1"})
	require.ErrorIs(t, err, ErrJobInFlight, "manual runs share the job key")

	running, err := st.ListExecutions(ctx, store.WithJobID("j1"))
	require.NoError(t, err)
	require.Len(t, running, 1, "a busy key creates no second execution")
	assert.Equal(t, models.ExecutionRunning, running[0].Status)

	other, err := s.ExecuteSyncJob(ctx, hourlyJob("j2"), models.TriggerScheduled)
	require.NoError(t, err, "other keys are not blocked")
	assert.Equal(t, models.ExecutionCompleted, other.Status)

	close(release)
	wg.Wait()
	require.NotNil(t, first)
	assert.Equal(t, models.ExecutionCompleted, first.Status)
}

func TestFailedScheduledRunRetriesWithBackoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, WithBaseRetryDelay(10*time.Millisecond))
	f.adapter.SetUnavailable(true)

	job := hourlyJob("j1")
	job.MaxRetries = 2
	_, err := f.scheduler.CreateJob(ctx, job)
	require.NoError(t, err)

	f.timers.fire(t, "j1")

	require.Eventually(t, func() bool {
		execs, err := f.store.ListExecutions(ctx, store.WithJobID("j1"))
		return err == nil && len(execs) == 3 && execs[0].Status.Terminal() && !f.scheduler.hasRetry("j1")
	}, 5*time.Second, 10*time.Millisecond)

	execs, err := f.store.ListExecutions(ctx, store.WithJobID("j1"))
	require.NoError(t, err)
	slices.SortFunc(execs, func(a, b *models.SyncExecution) int { return a.Attempt - b.Attempt })
	assert.Equal(t, models.TriggerScheduled, execs[0].Trigger)
	for i, exec := range execs {
		assert.Equal(t, i+1, exec.Attempt)
		assert.Equal(t, models.ExecutionFailed, exec.Status)
	}
	assert.Equal(t, models.TriggerRetry, execs[2].Trigger)
	assert.GreaterOrEqual(t, execs[2].StartedAt.Sub(*execs[1].CompletedAt), 20*time.Millisecond,
		"second retry waits 2x the base delay")

	stored, err := f.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RetryCount)

	// recovery resets the chain
	f.adapter.SetUnavailable(false)
	f.timers.fire(t, "j1")
	stored, err = f.store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.RetryCount)
}

func TestPendingRetryCancelledWhenDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, WithBaseRetryDelay(time.Hour))
	f.adapter.SetUnavailable(true)

	job := hourlyJob("j1")
	job.MaxRetries = 1
	_, err := f.scheduler.CreateJob(ctx, job)
	require.NoError(t, err)

	f.timers.fire(t, "j1")
	assert.True(t, f.scheduler.hasRetry("j1"))

	_, err = f.scheduler.DisableJob(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, f.scheduler.hasRetry("j1"))
	assert.False(t, f.timers.Has("j1"))
}

func TestTriggerManualSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.scheduler.TriggerManualSync(ctx, "qualys", ManualSyncRequest{})
	assert.True(t, models.IsNotFound(err))

	_, err = f.scheduler.TriggerManualSync(ctx, "tenable", ManualSyncRequest{Filters: map[string]any{"bogus": true}})
	assert.True(t, models.IsValidation(err))

	exec, err := f.scheduler.TriggerManualSync(ctx, "tenable", ManualSyncRequest{
		Filters: map[string]any{"kinds": []any{"asset"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ManualJobID, exec.JobID)
	assert.Equal(t, models.TriggerManual, exec.Trigger)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, 4, exec.RecordsCreated)

	_, err = f.scheduler.TriggerJob(ctx, "missing")
	assert.True(t, models.IsNotFound(err))

	_, err = f.scheduler.CreateJob(ctx, hourlyJob("j1"))
	require.NoError(t, err)
	exec, err = f.scheduler.TriggerJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", exec.JobID)
	assert.Equal(t, models.TriggerManual, exec.Trigger)
}

func TestStartSeedsAndSchedulesJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	existing := hourlyJob("j1")
	existing.Schedule = "@daily"
	disabled := hourlyJob("j2")
	disabled.Enabled = false
	disabled.MaxRetries = 5

	f := newFixture(t, WithDefaultMaxRetries(2),
		WithSeedJobs([]models.SyncJob{*hourlyJob("j1"), *disabled, *hourlyJob("j3")}))
	require.NoError(t, f.store.CreateJob(ctx, existing))

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.scheduler.Start(ctx)
	}()
	require.Eventually(t, f.timers.isStarted, 5*time.Second, 10*time.Millisecond)

	assert.True(t, f.timers.Has("j1"))
	assert.Equal(t, "@daily", f.timers.expr("j1"), "stored jobs win over configuration")
	assert.False(t, f.timers.Has("j2"))
	assert.True(t, f.timers.Has("j3"))

	jobs, err := f.scheduler.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
	retries := map[string]int{}
	for _, job := range jobs {
		retries[job.ID] = job.MaxRetries
	}
	assert.Equal(t, map[string]int{"j1": 0, "j2": 5, "j3": 2}, retries,
		"configured jobs without maxRetries take the default")

	require.NoError(t, f.scheduler.Stop())
	require.NoError(t, <-errCh)
	f.timers.mu.Lock()
	assert.True(t, f.timers.stopped)
	f.timers.mu.Unlock()
}

func TestStartFailsOnInvalidSeedJob(t *testing.T) {
	t.Parallel()
	bad := hourlyJob("j1")
	bad.Source = "qualys"
	f := newFixture(t, WithSeedJobs([]models.SyncJob{*bad}))

	err := f.scheduler.Start(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.False(t, errors.Is(err, context.Canceled))
}
