package health

import (
	"fmt"
	"log/slog"

	"github.com/stacklok/integration-sync/internal/config"
)

// Metrics that thresholds apply to
const (
	MetricOverallScore       = "overallScore"
	MetricSyncSuccessRate    = "syncSuccessRate"
	MetricSyncDurationMs     = "syncDurationMs"
	MetricWebhookSuccessRate = "webhookSuccessRate"
	MetricPendingConflicts   = "pendingConflicts"
	MetricDataCompleteness   = "dataCompleteness"
	MetricEnrichmentCoverage = "enrichmentCoverage"
)

// Alert levels
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Direction says which side of a threshold is unhealthy
type Direction string

const (
	// Below alerts when the value drops under the threshold
	Below Direction = "below"
	// Above alerts when the value rises over the threshold
	Above Direction = "above"
)

// Threshold is a warning/critical pair for one metric
type Threshold struct {
	Warning   float64
	Critical  float64
	Direction Direction
}

// Alert is a metric outside its threshold. Alerts are derived on every computation.
type Alert struct {
	Metric    string  `json:"metric"`
	Source    string  `json:"source,omitempty"`
	Level     string  `json:"level"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// DefaultThresholds returns the built-in thresholds
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		MetricOverallScore:       {Warning: 75, Critical: 60, Direction: Below},
		MetricSyncSuccessRate:    {Warning: 0.95, Critical: 0.8, Direction: Below},
		MetricSyncDurationMs:     {Warning: 300000, Critical: 900000, Direction: Above},
		MetricWebhookSuccessRate: {Warning: 0.95, Critical: 0.8, Direction: Below},
		MetricPendingConflicts:   {Warning: 50, Critical: 200, Direction: Above},
		MetricDataCompleteness:   {Warning: 0.8, Critical: 0.6, Direction: Below},
		MetricEnrichmentCoverage: {Warning: 0.8, Critical: 0.5, Direction: Below},
	}
}

// thresholdsFrom overlays configured values on the defaults. Direction is fixed per metric.
func thresholdsFrom(configured map[string]config.ThresholdConfig) map[string]Threshold {
	out := DefaultThresholds()
	for metric, tc := range configured {
		def, ok := out[metric]
		if !ok {
			slog.Warn("Ignoring threshold for unknown health metric", "metric", metric)
			continue
		}
		out[metric] = Threshold{Warning: tc.Warning, Critical: tc.Critical, Direction: def.Direction}
	}
	return out
}

// Evaluate returns the alert level for value, or "" when it is healthy
func (t Threshold) Evaluate(value float64) (string, float64) {
	breaches := func(limit float64) bool {
		if t.Direction == Above {
			return value > limit
		}
		return value < limit
	}
	switch {
	case breaches(t.Critical):
		return LevelCritical, t.Critical
	case breaches(t.Warning):
		return LevelWarning, t.Warning
	default:
		return "", 0
	}
}

// check appends an alert when value breaches the metric's threshold
func check(alerts []Alert, thresholds map[string]Threshold, metric, source string, value float64) []Alert {
	t, ok := thresholds[metric]
	if !ok {
		return alerts
	}
	level, limit := t.Evaluate(value)
	if level == "" {
		return alerts
	}
	subject := metric
	if source != "" {
		subject = fmt.Sprintf("%s for %s", metric, source)
	}
	return append(alerts, Alert{
		Metric:    metric,
		Source:    source,
		Level:     level,
		Value:     value,
		Threshold: limit,
		Message:   fmt.Sprintf("%s is %v, %s the %s threshold of %v", subject, value, t.Direction, level, limit),
	})
}
