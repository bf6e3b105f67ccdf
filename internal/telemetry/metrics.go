package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMeterName is the meter used by the sync pipeline and scheduler
	SyncMeterName = "github.com/stacklok/integration-sync/sync"

	// WebhookMeterName is the meter used by the webhook gateway
	WebhookMeterName = "github.com/stacklok/integration-sync/webhook"

	// ReconcileMeterName is the meter used by the reconciler
	ReconcileMeterName = "github.com/stacklok/integration-sync/reconcile"

	// HealthMeterName is the meter used by the health monitor
	HealthMeterName = "github.com/stacklok/integration-sync/health"
)

// SyncMetrics holds the instruments for sync executions
type SyncMetrics struct {
	executionDuration metric.Float64Histogram
	records           metric.Int64Counter
}

// NewSyncMetrics creates SyncMetrics. A nil provider yields nil (no-op) metrics.
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(SyncMeterName)

	executionDuration, err := meter.Float64Histogram(
		"integration_sync_execution_duration_seconds",
		metric.WithDescription("Duration of sync executions in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"integration_sync_records_total",
		metric.WithDescription("Records handled by sync executions by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{executionDuration: executionDuration, records: records}, nil
}

// RecordExecution records the duration and outcome of one execution
func (m *SyncMetrics) RecordExecution(ctx context.Context, source, trigger string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.executionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	))
}

// RecordRecords adds n records with the given outcome (created, updated, failed)
func (m *SyncMetrics) RecordRecords(ctx context.Context, source, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// WebhookMetrics holds the instruments for webhook deliveries
type WebhookMetrics struct {
	deliveries       metric.Int64Counter
	deliveryDuration metric.Float64Histogram
}

// NewWebhookMetrics creates WebhookMetrics. A nil provider yields nil (no-op) metrics.
func NewWebhookMetrics(provider metric.MeterProvider) (*WebhookMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(WebhookMeterName)

	deliveries, err := meter.Int64Counter(
		"integration_sync_webhook_deliveries_total",
		metric.WithDescription("Webhook deliveries by final status"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}

	deliveryDuration, err := meter.Float64Histogram(
		"integration_sync_webhook_delivery_duration_seconds",
		metric.WithDescription("Handler duration of webhook deliveries in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	return &WebhookMetrics{deliveries: deliveries, deliveryDuration: deliveryDuration}, nil
}

// RecordDelivery records a finished delivery. Rejected signatures use status "rejected".
func (m *WebhookMetrics) RecordDelivery(ctx context.Context, source, eventType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("event_type", eventType),
		attribute.String("status", status),
	)
	m.deliveries.Add(ctx, 1, attrs)
	if duration > 0 {
		m.deliveryDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// ReconcileMetrics holds the instruments for conflict detection
type ReconcileMetrics struct {
	conflicts metric.Int64Counter
}

// NewReconcileMetrics creates ReconcileMetrics. A nil provider yields nil (no-op) metrics.
func NewReconcileMetrics(provider metric.MeterProvider) (*ReconcileMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	conflicts, err := provider.Meter(ReconcileMeterName).Int64Counter(
		"integration_sync_conflicts_total",
		metric.WithDescription("Conflicts detected, by severity and whether they were auto-resolved"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, err
	}
	return &ReconcileMetrics{conflicts: conflicts}, nil
}

// RecordConflict counts a detected conflict
func (m *ReconcileMetrics) RecordConflict(ctx context.Context, kind, severity string, autoResolved bool) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("severity", severity),
		attribute.Bool("auto_resolved", autoResolved),
	))
}

// HealthMetrics holds the instruments for the health dashboard
type HealthMetrics struct {
	score metric.Float64Gauge
}

// NewHealthMetrics creates HealthMetrics. A nil provider yields nil (no-op) metrics.
func NewHealthMetrics(provider metric.MeterProvider) (*HealthMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	score, err := provider.Meter(HealthMeterName).Float64Gauge(
		"integration_sync_health_score",
		metric.WithDescription("Overall integration health score (0-100)"),
	)
	if err != nil {
		return nil, err
	}
	return &HealthMetrics{score: score}, nil
}

// RecordScore records the latest overall health score
func (m *HealthMetrics) RecordScore(ctx context.Context, score float64, status string) {
	if m == nil {
		return
	}
	m.score.Record(ctx, score, metric.WithAttributes(attribute.String("status", status)))
}
