package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	mp, reader := newTestProvider(t)
	mw, err := MetricsMiddleware(mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/api/v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	m := findMetric(t, reader, HTTPMeterName, "integration_sync_http_requests_total")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	route, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("route"))
	assert.Equal(t, "/api/v1/jobs/{id}", route.AsString())
	status, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("status_code"))
	assert.Equal(t, "404", status.AsString())
}

func TestMetricsMiddlewareNilProvider(t *testing.T) {
	t.Parallel()

	mw, err := MetricsMiddleware(nil)
	require.NoError(t, err)

	called := false
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	r := chi.NewRouter()
	r.Use(TracingMiddleware(tp))
	r.Post("/webhooks/{source}/{eventType}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, exporter.GetSpans())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/tenable/scanCompleted", nil))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /webhooks/{source}/{eventType}", spans[0].Name)
	assert.Equal(t, "Unauthorized", spans[0].Status.Description)
}

func TestTruncateUserAgent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "curl/8.0", truncateUserAgent("curl/8.0"))
	assert.Len(t, truncateUserAgent(strings.Repeat("a", 1000)), maxUserAgentLength)
}
