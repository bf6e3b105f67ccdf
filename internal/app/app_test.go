package app

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/integration-sync/internal/health"
)

func TestIntegrationAppStartStop(t *testing.T) {
	t.Parallel()

	factory := newTrackingFactory()
	cache := health.NewMemoryCache()
	app, err := NewIntegrationApp(context.Background(),
		WithConfig(createValidTestConfig(t)),
		WithAddress("127.0.0.1:0"),
		WithStorageFactory(factory),
		WithDashboardCache(cache),
	)
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	// the scheduler seeds configured jobs and the monitor fills the cache
	require.Eventually(t, func() bool {
		jobs, err := app.Components().Scheduler.ListJobs(context.Background())
		return err == nil && len(jobs) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		d, err := cache.Get(context.Background())
		return err == nil && d != nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, app.Stop(5*time.Second))
	assert.True(t, factory.cleaned.Load())

	select {
	case startErr := <-errChan:
		require.NoError(t, startErr)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestIntegrationAppStopWithoutStart(t *testing.T) {
	t.Parallel()

	factory := newTrackingFactory()
	app, err := NewIntegrationApp(context.Background(),
		WithConfig(createValidTestConfig(t)),
		WithStorageFactory(factory),
	)
	require.NoError(t, err)

	require.NoError(t, app.Stop(time.Second))
	assert.True(t, factory.cleaned.Load())
}

func TestIntegrationAppStartFailsOnBusyAddress(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	app, err := NewIntegrationApp(context.Background(),
		WithConfig(createValidTestConfig(t)),
		WithAddress(listener.Addr().String()),
		WithStorageFactory(newTrackingFactory()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	err = app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server failed")
}

func TestIntegrationAppGetters(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig(t)
	app, err := NewIntegrationApp(context.Background(),
		WithConfig(cfg),
		WithAddress(":9191"),
		WithStorageFactory(newTrackingFactory()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	assert.Same(t, cfg, app.GetConfig())
	assert.Equal(t, ":9191", app.GetHTTPServer().Addr)
	assert.NotNil(t, app.Components().Gateway)
	assert.NotNil(t, app.Components().Monitor)
}
