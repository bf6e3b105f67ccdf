package models

import (
	"encoding/json"
	"reflect"
)

var canonicalFields = map[EntityKind][]string{
	KindAsset: {
		"hostname", "ipv4", "fqdn", "operating_system", "mac_address", "criticality",
		"exposure_score", "acr_score", "environment", "system_id", "first_seen", "last_seen",
	},
	KindVulnerability: {
		"asset_id", "hostname", "plugin_id", "plugin_name", "plugin_family", "cve", "severity",
		"state", "cvss_base_score", "vpr_score", "port", "protocol", "solution", "first_found", "last_found",
	},
	KindControl: {
		"control_id", "family", "title", "baseline", "priority", "implementation_status",
		"assessment_status", "responsible_role", "last_assessed",
	},
	KindSystem: {
		"system_id", "name", "system_type", "status", "impact_level", "confidentiality_impact",
		"integrity_impact", "availability_impact", "system_owner", "authorization_date",
	},
	KindPOAM: {
		"poam_id", "system_id", "control_id", "weakness_description", "status", "priority",
		"risk_rating", "scheduled_completion", "point_of_contact",
	},
}

// CanonicalFields returns the canonical field set for a kind, used for completeness scoring
func CanonicalFields(kind EntityKind) []string {
	return canonicalFields[kind]
}

// Canonicalize converts a value to the form it takes after a JSON round-trip
// so values compare equal regardless of whether they came from an adapter or storage.
func Canonicalize(v any) any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case string, float64, bool:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// IsNull reports whether a value carries no information: nil, empty string, or empty list/map
func IsNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// ValuesEqual compares two canonical values
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(Canonicalize(a), Canonicalize(b))
}
