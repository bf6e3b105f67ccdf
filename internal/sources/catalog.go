package sources

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stacklok/integration-sync/internal/models"
)

// kindSpec describes how one entity kind is listed, looked up and normalized
type kindSpec struct {
	// listPath is the paged collection endpoint
	listPath string
	// listKey is the response field holding the records
	listKey string
	// itemPath is a single-record endpoint with one %s placeholder, empty when the source has none
	itemPath string
	// serverFilters are the filter keys forwarded as query parameters
	serverFilters []string
	externalID    func(m map[string]any) string
	normalize     func(m map[string]any) (fields map[string]any, correlationKey string)
}

type catalog map[models.EntityKind]kindSpec

func (c catalog) kinds(order []models.EntityKind) []models.EntityKind {
	out := make([]models.EntityKind, 0, len(c))
	for _, k := range order {
		if _, ok := c[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// normalizeWith decodes raw with the spec for its kind
func (c catalog) normalizeWith(source string, raw RawRecord) (*models.NormalizedRecord, error) {
	spec, ok := c[raw.Kind]
	if !ok {
		return nil, models.NewAdapterError(source, "normalize", fmt.Errorf("unsupported kind %q", raw.Kind))
	}
	var m map[string]any
	if err := json.Unmarshal(raw.Data, &m); err != nil {
		return nil, models.NewAdapterError(source, "normalize", fmt.Errorf("malformed %s record: %w", raw.Kind, err))
	}
	if m == nil {
		return nil, models.NewAdapterError(source, "normalize", fmt.Errorf("empty %s record", raw.Kind))
	}
	fields, correlationKey := spec.normalize(m)
	return &models.NormalizedRecord{
		Kind:           raw.Kind,
		ExternalID:     spec.externalID(m),
		CorrelationKey: correlationKey,
		Fields:         fields,
		Raw:            raw.Data,
		ObservedAt:     time.Now().UTC(),
	}, nil
}

// matchesFilters applies the scalar filters client side, so sources that ignore
// query parameters still honour them. Keys absent from the record are ignored.
func matchesFilters(m map[string]any, filters map[string]any) bool {
	for key, want := range filters {
		if key == "kinds" {
			continue
		}
		if _, present := m[key]; !present {
			continue
		}
		got := lower(str(m, key))
		if !anyEqualFold(want, got) {
			return false
		}
	}
	return true
}

func anyEqualFold(want any, got string) bool {
	switch w := want.(type) {
	case []any:
		for _, v := range w {
			if anyEqualFold(v, got) {
				return true
			}
		}
		return false
	case []string:
		for _, v := range w {
			if strings.EqualFold(v, got) {
				return true
			}
		}
		return false
	default:
		return strings.EqualFold(fmt.Sprint(w), got)
	}
}

// tenableSeverityIDs maps scanner severity names to their numeric ids
var tenableSeverityIDs = map[string]int{"critical": 4, "high": 3, "medium": 2, "low": 1, "info": 0}

func tenableVulnID(m map[string]any) string {
	asset, plugin := obj(m, "asset"), obj(m, "plugin")
	if str(asset, "id") == "" || str(plugin, "id") == "" {
		return ""
	}
	return strings.Join([]string{str(asset, "id"), str(plugin, "id"), str(m, "port"), lower(str(m, "protocol"))}, ":")
}

var tenableCatalog = catalog{
	models.KindAsset: {
		listPath: "/assets",
		listKey:  "assets",
		itemPath: "/assets/%s",
		externalID: func(m map[string]any) string {
			return str(m, "id")
		},
		normalize: func(m map[string]any) (map[string]any, string) {
			fields := map[string]any{}
			putIf(fields, "hostname", lower(first(m, "hostname")))
			putIf(fields, "ipv4", list(m, "ipv4"))
			putIf(fields, "fqdn", list(m, "fqdn"))
			putIf(fields, "operating_system", first(m, "operating_system"))
			putIf(fields, "mac_address", list(m, "mac_address"))
			putIf(fields, "criticality", lower(str(m, "criticality_rating")))
			putIf(fields, "exposure_score", m["exposure_score"])
			putIf(fields, "acr_score", m["acr_score"])
			putIf(fields, "first_seen", str(m, "first_seen"))
			putIf(fields, "last_seen", str(m, "last_seen"))
			for _, k := range []string{"aws_region", "aws_availability_zone", "aws_ec2_instance_id"} {
				putIf(fields, k, m[k])
			}
			return fields, str(m, "id")
		},
	},
	models.KindVulnerability: {
		listPath:      "/vulnerabilities",
		listKey:       "vulnerabilities",
		serverFilters: []string{"severity", "state"},
		externalID:    tenableVulnID,
		normalize: func(m map[string]any) (map[string]any, string) {
			asset, plugin := obj(m, "asset"), obj(m, "plugin")
			severity := lower(str(m, "severity"))
			fields := map[string]any{}
			putIf(fields, "asset_id", str(asset, "id"))
			putIf(fields, "hostname", lower(first(asset, "hostname")))
			putIf(fields, "plugin_id", str(plugin, "id"))
			putIf(fields, "plugin_name", str(plugin, "name"))
			putIf(fields, "plugin_family", str(plugin, "family"))
			putIf(fields, "cve", list(plugin, "cve"))
			putIf(fields, "solution", str(plugin, "solution"))
			putIf(fields, "severity", severity)
			if id, ok := tenableSeverityIDs[severity]; ok {
				fields["severity_id"] = id
			}
			putIf(fields, "state", lower(str(m, "state")))
			putIf(fields, "cvss_base_score", m["cvss_base_score"])
			putIf(fields, "vpr_score", m["vpr_score"])
			putIf(fields, "port", m["port"])
			putIf(fields, "protocol", lower(str(m, "protocol")))
			putIf(fields, "first_found", str(m, "first_found"))
			putIf(fields, "last_found", str(m, "last_found"))
			return fields, ""
		},
	},
}

var xactaCatalog = catalog{
	models.KindSystem: {
		listPath: "/xacta/systems",
		listKey:  "systems",
		itemPath: "/xacta/systems/%s",
		externalID: func(m map[string]any) string {
			return str(m, "system_id")
		},
		normalize: func(m map[string]any) (map[string]any, string) {
			fields := map[string]any{}
			putIf(fields, "system_id", str(m, "system_id"))
			putIf(fields, "name", str(m, "system_name"))
			putIf(fields, "system_type", str(m, "system_type"))
			putIf(fields, "status", str(m, "status"))
			putIf(fields, "impact_level", lower(str(m, "impact_level")))
			putIf(fields, "confidentiality_impact", lower(str(m, "confidentiality_impact")))
			putIf(fields, "integrity_impact", lower(str(m, "integrity_impact")))
			putIf(fields, "availability_impact", lower(str(m, "availability_impact")))
			putIf(fields, "system_owner", str(m, "system_owner"))
			putIf(fields, "authorization_date", str(m, "authorization_date"))
			return fields, str(m, "system_id")
		},
	},
	models.KindControl: {
		listPath:      "/xacta/controls",
		listKey:       "controls",
		serverFilters: []string{"family", "status"},
		externalID: func(m map[string]any) string {
			return str(m, "control_id")
		},
		normalize: func(m map[string]any) (map[string]any, string) {
			fields := map[string]any{}
			for _, k := range []string{"control_id", "family", "title", "baseline", "priority",
				"implementation_status", "assessment_status", "responsible_role", "last_assessed"} {
				putIf(fields, k, str(m, k))
			}
			return fields, str(m, "control_id")
		},
	},
	models.KindPOAM: {
		listPath:      "/xacta/poams",
		listKey:       "poams",
		serverFilters: []string{"system_id", "status"},
		externalID: func(m map[string]any) string {
			return str(m, "poam_id")
		},
		normalize: func(m map[string]any) (map[string]any, string) {
			fields := map[string]any{}
			for _, k := range []string{"poam_id", "system_id", "control_id", "weakness_description",
				"status", "priority", "risk_rating", "scheduled_completion", "point_of_contact"} {
				putIf(fields, k, str(m, k))
			}
			return fields, str(m, "poam_id")
		},
	},
	models.KindAsset: {
		listPath:      "/xacta/system-assets",
		listKey:       "system_assets",
		serverFilters: []string{"system_id"},
		externalID: func(m map[string]any) string {
			if str(m, "system_id") == "" || str(m, "asset_uuid") == "" {
				return ""
			}
			return str(m, "system_id") + ":" + str(m, "asset_uuid")
		},
		normalize: func(m map[string]any) (map[string]any, string) {
			fields := map[string]any{}
			if hostname := lower(str(m, "asset_hostname")); hostname != "unknown" {
				putIf(fields, "hostname", hostname)
			}
			if ip := str(m, "asset_ip"); ip != "unknown" {
				putIf(fields, "ipv4", list(m, "asset_ip"))
			}
			putIf(fields, "criticality", lower(str(m, "criticality")))
			putIf(fields, "environment", lower(str(m, "environment")))
			putIf(fields, "system_id", str(m, "system_id"))
			return fields, str(m, "asset_uuid")
		},
	},
}
