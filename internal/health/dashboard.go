package health

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status bands of the overall score
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusFair      = "fair"
	StatusPoor      = "poor"
	StatusCritical  = "critical"
)

// Dashboard section names, used as keys of Dashboard.Errors
const (
	SectionSync       = "syncHealth"
	SectionWebhook    = "webhookHealth"
	SectionQuality    = "dataQuality"
	SectionConflicts  = "conflicts"
	SectionEnrichment = "enrichment"
)

// Dashboard is the aggregate health view. Sections that failed to compute are nil
// and their error is reported in Errors.
type Dashboard struct {
	Overview      Overview           `json:"overview"`
	SyncHealth    []SourceSyncHealth `json:"syncHealth"`
	WebhookHealth *WebhookHealth     `json:"webhookHealth,omitempty"`
	DataQuality   *DataQuality       `json:"dataQuality,omitempty"`
	Conflicts     *ConflictHealth    `json:"conflicts,omitempty"`
	Enrichment    *EnrichmentHealth  `json:"enrichment,omitempty"`
	Alerts        []Alert            `json:"alerts"`
	Errors        map[string]string  `json:"errors,omitempty"`
}

// Overview carries the weighted overall score
type Overview struct {
	Score      float64    `json:"score"`
	Status     string     `json:"status"`
	ComputedAt time.Time  `json:"computedAt"`
	Components Components `json:"components"`
}

// Components are the inputs of the overall score, each between 0 and 1
type Components struct {
	Sync     float64 `json:"sync"`
	Webhook  float64 `json:"webhook"`
	Conflict float64 `json:"conflict"`
}

// SourceSyncHealth summarizes the executions of one source
type SourceSyncHealth struct {
	Source         string     `json:"source"`
	Connected      bool       `json:"connected"`
	SuccessRate1h  float64    `json:"successRate1h"`
	SuccessRate24h float64    `json:"successRate24h"`
	AvgDurationMs  int64      `json:"avgDurationMs"`
	MaxDurationMs  int64      `json:"maxDurationMs"`
	Executions24h  int        `json:"executions24h"`
	Failures24h    int        `json:"failures24h"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// SourceWebhookHealth summarizes the deliveries of one source
type SourceWebhookHealth struct {
	Source         string  `json:"source"`
	SuccessRate1h  float64 `json:"successRate1h"`
	SuccessRate24h float64 `json:"successRate24h"`
	AvgDurationMs  int64   `json:"avgDurationMs"`
	Deliveries24h  int     `json:"deliveries24h"`
	Failures24h    int     `json:"failures24h"`
}

// WebhookHealth summarizes webhook deliveries across sources
type WebhookHealth struct {
	Sources        []SourceWebhookHealth `json:"sources"`
	SuccessRate24h float64               `json:"successRate24h"`
	AvgDurationMs  int64                 `json:"avgDurationMs"`
	Total24h       int                   `json:"total24h"`
	Failed24h      int                   `json:"failed24h"`
}

// DataQuality is the fraction of canonical fields populated, per kind and overall
type DataQuality struct {
	Completeness map[string]float64 `json:"completeness"`
	Overall      float64            `json:"overall"`
}

// ConflictHealth summarizes the conflict queue
type ConflictHealth struct {
	Pending        int     `json:"pending"`
	Resolved       int     `json:"resolved"`
	AutoResolved   int     `json:"autoResolved"`
	ResolutionRate float64 `json:"resolutionRate"`
}

// EnrichmentHealth is the fraction of entities with a risk enrichment
type EnrichmentHealth struct {
	Entities int     `json:"entities"`
	Enriched int     `json:"enriched"`
	Coverage float64 `json:"coverage"`
}

// Band returns the status label for an overall score
func Band(score float64) string {
	switch {
	case score >= 90:
		return StatusExcellent
	case score >= 75:
		return StatusGood
	case score >= 60:
		return StatusFair
	case score >= 40:
		return StatusPoor
	default:
		return StatusCritical
	}
}

// round rounds to the given number of decimal places
func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// ratio returns n/total, or 1 when there is nothing to measure
func ratio(n, total int) float64 {
	if total == 0 {
		return 1
	}
	return round(float64(n)/float64(total), 4)
}
