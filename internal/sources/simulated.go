package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
)

const defaultSimulatedAssets = 20

// ErrSourceUnavailable is returned by a simulated source switched offline
var ErrSourceUnavailable = errors.New("source unavailable")

// SimulatedAdapter serves deterministic in-process records shaped like the Tenable or
// Xacta APIs. Two simulated sources with the same seed and asset count describe the
// same assets, so their records correlate.
type SimulatedAdapter struct {
	name    string
	flavor  string
	limiter *rate.Limiter
	catalog catalog
	order   []models.EntityKind

	mu          sync.RWMutex
	records     map[models.EntityKind][]map[string]any
	unavailable bool
	webhooks    map[string][]string
}

var (
	_ Adapter          = (*SimulatedAdapter)(nil)
	_ WebhookRegistrar = (*SimulatedAdapter)(nil)
)

// NewSimulatedAdapter creates a simulated adapter from its source configuration
func NewSimulatedAdapter(src *config.SourceConfig) (*SimulatedAdapter, error) {
	if src.Simulated == nil {
		return nil, fmt.Errorf("source %s: simulated configuration is required", src.Name)
	}
	assets := src.Simulated.Assets
	if assets <= 0 {
		assets = defaultSimulatedAssets
	}

	a := &SimulatedAdapter{
		name:     src.Name,
		flavor:   src.Simulated.Flavor,
		limiter:  newLimiter(src),
		webhooks: map[string][]string{},
	}
	switch src.Simulated.Flavor {
	case config.SourceTypeTenable:
		a.catalog = tenableCatalog
		a.order = []models.EntityKind{models.KindAsset, models.KindVulnerability}
		a.records = generateTenable(src.Simulated.Seed, assets)
	case config.SourceTypeXacta:
		a.catalog = xactaCatalog
		a.order = []models.EntityKind{models.KindSystem, models.KindControl, models.KindPOAM, models.KindAsset}
		a.records = generateXacta(src.Simulated.Seed, assets)
	default:
		return nil, fmt.Errorf("source %s: unsupported simulated flavor %q", src.Name, src.Simulated.Flavor)
	}
	return a, nil
}

// Name returns the configured source name
func (a *SimulatedAdapter) Name() string { return a.name }

// Type returns "simulated"
func (*SimulatedAdapter) Type() string { return config.SourceTypeSimulated }

// Kinds returns the kinds of the emulated flavor
func (a *SimulatedAdapter) Kinds() []models.EntityKind { return a.catalog.kinds(a.order) }

// FilterSchema returns the filter schema of the emulated flavor
func (a *SimulatedAdapter) FilterSchema() string {
	if a.flavor == config.SourceTypeXacta {
		return xactaFilterSchema
	}
	return tenableFilterSchema
}

// SetUnavailable switches the simulated source offline or back online
func (a *SimulatedAdapter) SetUnavailable(unavailable bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unavailable = unavailable
}

// Put inserts or replaces a record, matched by its external id
func (a *SimulatedAdapter) Put(kind models.EntityKind, record map[string]any) {
	spec := a.catalog[kind]
	a.mu.Lock()
	defer a.mu.Unlock()
	id := spec.externalID(record)
	for i, existing := range a.records[kind] {
		if spec.externalID(existing) == id {
			a.records[kind][i] = record
			return
		}
	}
	a.records[kind] = append(a.records[kind], record)
}

func (a *SimulatedAdapter) call(ctx context.Context, op string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return models.NewAdapterError(a.name, op, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.unavailable {
		return models.NewAdapterError(a.name, op, ErrSourceUnavailable)
	}
	return nil
}

// TestConnection fails while the source is switched offline
func (a *SimulatedAdapter) TestConnection(ctx context.Context) error {
	return a.call(ctx, "test connection")
}

// Fetch returns one page of the generated records
func (a *SimulatedAdapter) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	if _, ok := a.catalog[req.Kind]; !ok {
		return nil, models.NewAdapterError(a.name, "fetch", fmt.Errorf("unsupported kind %q", req.Kind))
	}
	if err := a.call(ctx, "fetch "+string(req.Kind)); err != nil {
		return nil, err
	}
	page, perPage := max(req.Page, 1), req.PerPage
	if perPage < 1 {
		perPage = config.DefaultPageSize
	}

	a.mu.RLock()
	var matched []map[string]any
	for _, m := range a.records[req.Kind] {
		if matchesFilters(m, req.Filters) {
			matched = append(matched, m)
		}
	}
	a.mu.RUnlock()

	start := min((page-1)*perPage, len(matched))
	end := min(start+perPage, len(matched))
	records := make([]RawRecord, 0, end-start)
	for _, m := range matched[start:end] {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, models.NewAdapterError(a.name, "fetch", err)
		}
		records = append(records, RawRecord{Kind: req.Kind, Data: data})
	}
	return &Page{
		Records: records,
		Page:    page,
		PerPage: perPage,
		Total:   len(matched),
		HasMore: end < len(matched),
	}, nil
}

// FetchOne returns the generated record with the given external id
func (a *SimulatedAdapter) FetchOne(ctx context.Context, kind models.EntityKind, externalID string) (*RawRecord, error) {
	spec, ok := a.catalog[kind]
	if !ok {
		return nil, models.NewAdapterError(a.name, "fetch one", fmt.Errorf("unsupported kind %q", kind))
	}
	if err := a.call(ctx, "fetch one "+string(kind)); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, m := range a.records[kind] {
		if spec.externalID(m) == externalID {
			data, err := json.Marshal(m)
			if err != nil {
				return nil, models.NewAdapterError(a.name, "fetch one", err)
			}
			return &RawRecord{Kind: kind, Data: data}, nil
		}
	}
	return nil, models.NewNotFoundError(string(kind), externalID)
}

// Normalize converts a raw record using the emulated flavor's rules
func (a *SimulatedAdapter) Normalize(raw RawRecord) (*models.NormalizedRecord, error) {
	return a.catalog.normalizeWith(a.name, raw)
}

// RegisterWebhook records the subscription in memory
func (a *SimulatedAdapter) RegisterWebhook(ctx context.Context, _, _ string, eventTypes []string, _ string) (string, error) {
	if err := a.call(ctx, "register webhook"); err != nil {
		return "", err
	}
	id := "sim-" + uuid.NewString()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhooks[id] = eventTypes
	return id, nil
}

// UnregisterWebhook forgets a subscription created by RegisterWebhook
func (a *SimulatedAdapter) UnregisterWebhook(ctx context.Context, externalID string) error {
	if err := a.call(ctx, "unregister webhook"); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.webhooks[externalID]; !ok {
		return models.NewNotFoundError("webhook", externalID)
	}
	delete(a.webhooks, externalID)
	return nil
}

// SimulatedAssetID returns the asset UUID both simulated flavors use for asset i
func SimulatedAssetID(seed int64, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "integration-sync/asset/%d/%d", seed, i)).String()
}

func simulatedHostname(i int) string {
	return fmt.Sprintf("server-%d.example.com", i+1)
}

func simulatedIP(i int) string {
	return fmt.Sprintf("192.168.%d.%d", 1+i/200, 10+i%200)
}

var (
	simOperatingSystems = []string{"Windows Server 2019", "Ubuntu 20.04 LTS", "CentOS 8", "Red Hat Enterprise Linux 8"}
	simCriticality      = []string{"low", "medium", "high", "critical"}
	simSeverities       = []string{"critical", "high", "medium", "low", "info"}
	simStates           = []string{"open", "open", "open", "reopened", "fixed"}
	simFamilies         = map[string]string{
		"AC": "Access Control", "AU": "Audit and Accountability", "CM": "Configuration Management",
		"IA": "Identification and Authentication", "RA": "Risk Assessment", "SC": "System and Communications Protection",
	}
	simControlStatuses = []string{"Not Implemented", "Planned", "Partially Implemented", "Implemented"}
)

func generateTenable(seed int64, assets int) map[models.EntityKind][]map[string]any {
	rng := rand.New(rand.NewPCG(uint64(seed), 1))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := map[models.EntityKind][]map[string]any{}

	for i := range assets {
		id := SimulatedAssetID(seed, i)
		out[models.KindAsset] = append(out[models.KindAsset], map[string]any{
			"id":                 id,
			"hostname":           []any{simulatedHostname(i)},
			"ipv4":               []any{simulatedIP(i)},
			"fqdn":               []any{simulatedHostname(i)},
			"operating_system":   []any{simOperatingSystems[rng.IntN(len(simOperatingSystems))]},
			"mac_address":        []any{fmt.Sprintf("00:1B:44:11:%02X:%02X", i/256, i%256)},
			"exposure_score":     float64(rng.IntN(1000)),
			"acr_score":          float64(1 + rng.IntN(10)),
			"criticality_rating": simCriticality[rng.IntN(len(simCriticality))],
			"first_seen":         base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			"last_seen":          base.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		})

		for v := range 1 + rng.IntN(3) {
			severity := simSeverities[rng.IntN(len(simSeverities))]
			pluginID := 10000 + rng.IntN(90000)
			out[models.KindVulnerability] = append(out[models.KindVulnerability], map[string]any{
				"asset": map[string]any{"id": id, "hostname": simulatedHostname(i), "ipv4": simulatedIP(i)},
				"plugin": map[string]any{
					"id":       float64(pluginID),
					"name":     fmt.Sprintf("Simulated finding %d", pluginID),
					"family":   "General",
					"cve":      []any{fmt.Sprintf("CVE-2024-%04d", 1000+rng.IntN(9000))},
					"solution": "Apply the vendor patch.",
				},
				"severity":        severity,
				"severity_id":     float64(tenableSeverityIDs[severity]),
				"state":           simStates[rng.IntN(len(simStates))],
				"cvss_base_score": float64(rng.IntN(100)) / 10,
				"vpr_score":       float64(rng.IntN(100)) / 10,
				"port":            float64(443 + v),
				"protocol":        "tcp",
				"first_found":     base.Format(time.RFC3339),
				"last_found":      base.Add(30 * 24 * time.Hour).Format(time.RFC3339),
			})
		}
	}
	return out
}

func generateXacta(seed int64, assets int) map[models.EntityKind][]map[string]any {
	rng := rand.New(rand.NewPCG(uint64(seed), 2))
	out := map[models.EntityKind][]map[string]any{}
	impacts := []string{"Low", "Moderate", "High"}

	systems := max(1, min(5, assets/5))
	for s := range systems {
		impact := impacts[rng.IntN(len(impacts))]
		out[models.KindSystem] = append(out[models.KindSystem], map[string]any{
			"system_id":              fmt.Sprintf("SYS-%03d", s+1),
			"system_name":            fmt.Sprintf("Simulated System %d", s+1),
			"system_type":            "Major Application",
			"status":                 "Operational",
			"impact_level":           impact,
			"confidentiality_impact": impact,
			"integrity_impact":       impact,
			"availability_impact":    impacts[rng.IntN(len(impacts))],
			"system_owner":           fmt.Sprintf("owner%d@example.com", s+1),
			"authorization_date":     "2024-06-01",
		})
	}

	for _, code := range []string{"AC", "AU", "CM", "IA", "RA", "SC"} {
		for n := 1; n <= 2; n++ {
			out[models.KindControl] = append(out[models.KindControl], map[string]any{
				"control_id":            fmt.Sprintf("%s-%d", code, n),
				"family":                simFamilies[code],
				"title":                 fmt.Sprintf("%s control %d", simFamilies[code], n),
				"baseline":              "Moderate",
				"priority":              "P1",
				"status":                simControlStatuses[rng.IntN(len(simControlStatuses))],
				"implementation_status": simControlStatuses[rng.IntN(len(simControlStatuses))],
				"assessment_status":     "Assessed",
				"responsible_role":      "ISSO",
				"last_assessed":         "2024-09-01",
			})
		}
	}

	for p := range systems * 2 {
		out[models.KindPOAM] = append(out[models.KindPOAM], map[string]any{
			"poam_id":              fmt.Sprintf("POAM-%03d", p+1),
			"system_id":            fmt.Sprintf("SYS-%03d", p%systems+1),
			"control_id":           fmt.Sprintf("AC-%d", p%2+1),
			"weakness_description": fmt.Sprintf("Simulated weakness %d", p+1),
			"status":               []string{"Open", "In Progress", "Completed"}[rng.IntN(3)],
			"priority":             []string{"High", "Medium", "Low"}[rng.IntN(3)],
			"risk_rating":          []string{"High", "Moderate", "Low"}[rng.IntN(3)],
			"scheduled_completion": "2025-12-31",
			"point_of_contact":     "isso@example.com",
		})
	}

	for i := range assets {
		out[models.KindAsset] = append(out[models.KindAsset], map[string]any{
			"system_id":         fmt.Sprintf("SYS-%03d", i%systems+1),
			"asset_uuid":        SimulatedAssetID(seed, i),
			"asset_hostname":    simulatedHostname(i),
			"asset_ip":          simulatedIP(i),
			"relationship_type": "Primary",
			"criticality":       []string{"Critical", "High", "Medium", "Low"}[rng.IntN(4)],
			"environment":       []string{"Production", "Development", "Test", "Staging"}[rng.IntN(4)],
		})
	}
	return out
}
