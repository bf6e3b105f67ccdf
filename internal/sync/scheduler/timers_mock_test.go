package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/reconcile"
	"github.com/stacklok/integration-sync/internal/sources"
	"github.com/stacklok/integration-sync/internal/store/inmemory"
	pkgsync "github.com/stacklok/integration-sync/internal/sync"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
	schedulermocks "github.com/stacklok/integration-sync/internal/sync/scheduler/mocks"
)

// These tests live in an external package because the generated mocks
// package imports scheduler, which would otherwise form an import cycle.

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

func hourlyJob(id string) *models.SyncJob {
	return &models.SyncJob{ID: id, Source: "tenable", Schedule: "0 * * * *", Enabled: true}
}

func TestJobLifecycleDrivesTimers(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	timers := schedulermocks.NewMockTimers(ctrl)
	st := inmemory.New()
	registry := sources.NewRegistry(simulated(t, "tenable"))
	s := scheduler.New(pkgsync.NewDefaultSyncManager(registry, reconcile.New(st)), registry, st, scheduler.WithTimers(timers))
	ctx := context.Background()

	gomock.InOrder(
		timers.EXPECT().Schedule("j1", "0 * * * *", "", gomock.Any()).Return(nil),
		timers.EXPECT().Cancel("j1"),
		timers.EXPECT().Cancel("j1"),
	)

	_, err := s.CreateJob(ctx, hourlyJob("j1"))
	require.NoError(t, err)
	_, err = s.DisableJob(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, s.DeleteJob(ctx, "j1"))
}

func TestCreateJobSurfacesTimerError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	timers := schedulermocks.NewMockTimers(ctrl)
	st := inmemory.New()
	registry := sources.NewRegistry(simulated(t, "tenable"))
	s := scheduler.New(pkgsync.NewDefaultSyncManager(registry, reconcile.New(st)), registry, st, scheduler.WithTimers(timers))

	timers.EXPECT().Schedule("j1", "0 * * * *", "", gomock.Any()).Return(errors.New("timer table full"))

	_, err := s.CreateJob(context.Background(), hourlyJob("j1"))
	require.ErrorContains(t, err, "timer table full")
}
