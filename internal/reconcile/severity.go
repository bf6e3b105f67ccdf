package reconcile

import (
	"strings"

	"github.com/stacklok/integration-sync/internal/models"
)

// highSeverityFields identify or classify an entity; disagreement on them needs a human
var highSeverityFields = map[string]struct{}{
	"hostname":              {},
	"ipv4":                  {},
	"fqdn":                  {},
	"mac_address":           {},
	"criticality":           {},
	"severity":              {},
	"state":                 {},
	"impact_level":          {},
	"implementation_status": {},
	"status":                {},
	"cve":                   {},
	"asset_id":              {},
	"system_id":             {},
	"control_id":            {},
}

// FieldSeverity returns the conflict severity for a field.
// Scores and dates are medium, descriptive fields low.
func FieldSeverity(field string) models.Severity {
	if _, ok := highSeverityFields[field]; ok {
		return models.SeverityHigh
	}
	switch {
	case strings.HasSuffix(field, "_score"), strings.HasSuffix(field, "_impact"),
		field == "risk_rating", field == "priority", field == "port", field == "protocol":
		return models.SeverityMedium
	case strings.HasSuffix(field, "_date"), strings.HasSuffix(field, "_seen"),
		strings.HasSuffix(field, "_found"), strings.HasSuffix(field, "_assessed"),
		strings.HasSuffix(field, "_completion"):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
