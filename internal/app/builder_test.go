package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stacklok/integration-sync/internal/app/storage"
	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/health"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/webhook"
)

const testWebhookSecret = "app-test-secret"

// trackingFactory records whether the storage backend was released
type trackingFactory struct {
	storage.Factory
	cleaned atomic.Bool
}

func (f *trackingFactory) Cleanup() {
	f.cleaned.Store(true)
	f.Factory.Cleanup()
}

func newTrackingFactory() *trackingFactory {
	return &trackingFactory{Factory: storage.NewMemoryFactory()}
}

// createValidTestConfig creates a config with two simulated sources, a job and a webhook
func createValidTestConfig(t *testing.T) *config.Config {
	t.Helper()

	secretFile := filepath.Join(t.TempDir(), "webhook-secret")
	require.NoError(t, os.WriteFile(secretFile, []byte(testWebhookSecret), 0600))

	fast := &config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 100}
	return &config.Config{
		Sources: []config.SourceConfig{
			{
				Name: "tenable", Type: config.SourceTypeSimulated, RateLimit: fast,
				Simulated: &config.SimulatedConfig{Flavor: config.SourceTypeTenable, Assets: 3, Seed: 7},
			},
			{
				Name: "xacta", Type: config.SourceTypeSimulated, RateLimit: fast,
				Simulated: &config.SimulatedConfig{Flavor: config.SourceTypeXacta, Assets: 3, Seed: 7},
			},
		},
		Jobs: []models.SyncJob{
			{ID: "tenable-nightly", Source: "tenable", Schedule: "0 2 * * *", Enabled: true},
		},
		Webhooks: []config.WebhookConfig{
			{
				Name: "tenable-events", Source: "tenable",
				EventTypes: []string{"assetUpdated", "scanCompleted"}, SecretFile: secretFile,
			},
		},
		Enrichment: &config.EnrichmentConfig{Type: config.ScorerTypeHeuristic},
	}
}

func TestBaseConfigDefaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", built.address)
	assert.Equal(t, time.Minute, built.requestTimeout)
	assert.Equal(t, defaultWriteTimeout, built.writeTimeout)
	assert.Equal(t, defaultReadTimeout, built.readTimeout)
	assert.Equal(t, defaultIdleTimeout, built.idleTimeout)
}

func TestBaseConfigServerSection(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Server: config.ServerConfig{Address: ":9000", RequestTimeout: "2m"}}

	built, err := baseConfig(WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, ":9000", built.address)
	assert.Equal(t, 2*time.Minute, built.requestTimeout)
	assert.Equal(t, 2*time.Minute+15*time.Second, built.writeTimeout)

	built, err = baseConfig(WithConfig(cfg), WithAddress(":7000"), WithRequestTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ":7000", built.address, "options win over the server section")
	assert.Equal(t, 5*time.Second, built.requestTimeout)
	assert.Equal(t, defaultWriteTimeout, built.writeTimeout)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr    string
		wantErr bool
	}{
		{addr: ":9090"},
		{addr: "localhost:8080"},
		{addr: "127.0.0.1:0"},
		{addr: "", wantErr: true},
		{addr: ":", wantErr: true},
		{addr: "8080", wantErr: true},
		{addr: "host:http", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			built, err := baseConfig(WithAddress(tt.addr))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, built)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, built.address)
		})
	}
}

func TestWithRequestTimeout(t *testing.T) {
	t.Parallel()

	_, err := baseConfig(WithRequestTimeout(0))
	assert.Error(t, err)
	_, err = baseConfig(WithRequestTimeout(-time.Second))
	assert.Error(t, err)
}

func TestNewIntegrationAppRequiresConfig(t *testing.T) {
	t.Parallel()

	app, err := NewIntegrationApp(context.Background())
	require.Error(t, err)
	assert.Nil(t, app)
}

func TestNewIntegrationAppCleansUpOnError(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig(t)
	cfg.Enrichment = &config.EnrichmentConfig{Type: "oracle"}
	factory := newTrackingFactory()

	app, err := NewIntegrationApp(context.Background(), WithConfig(cfg), WithStorageFactory(factory))
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "risk scorer")
	assert.True(t, factory.cleaned.Load())
}

func TestNewIntegrationAppRejectsUnknownSourceType(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig(t)
	cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: "qualys", Type: "qualys"})
	factory := newTrackingFactory()

	_, err := NewIntegrationApp(context.Background(), WithConfig(cfg), WithStorageFactory(factory))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source type")
	assert.True(t, factory.cleaned.Load())
}

func TestNewIntegrationAppWiring(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	app, err := NewIntegrationApp(ctx,
		WithConfig(createValidTestConfig(t)),
		WithStorageFactory(newTrackingFactory()),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	c := app.Components()
	assert.Equal(t, []string{"tenable", "xacta"}, c.Sources.Names())
	require.NotNil(t, c.Enricher)

	subs, err := c.Subscriptions.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "tenable-events", subs[0].Name)

	handler := app.GetHTTPServer().Handler
	call := func(method, path, body string, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		for k, v := range header {
			req.Header[k] = v
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/readiness", "", nil).Code)
	metrics := call(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Equal(t, "# metrics\n", metrics.Body.String())

	rr := call(http.MethodPost, "/api/v1/sources/xacta/sync", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var exec models.SyncExecution
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&exec))
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Positive(t, exec.RecordsCreated)

	// the tenable flavor handlers are registered for the simulated tenable source
	payload := `{"scanId":"scan-1"}`
	rr = call(http.MethodPost, "/webhooks/tenable/scanCompleted", payload, http.Header{
		webhook.SignatureHeader: []string{webhook.Sign(testWebhookSecret, []byte(payload))},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(http.MethodPost, "/webhooks/tenable/scanCompleted", payload, http.Header{
		webhook.SignatureHeader: []string{webhook.Sign("wrong", []byte(payload))},
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = call(http.MethodGet, "/api/v1/health/dashboard", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var dashboard health.Dashboard
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&dashboard))
	assert.Len(t, dashboard.SyncHealth, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.NotEmpty(t, rm.ScopeMetrics, "domain and HTTP metrics are recorded")
}
