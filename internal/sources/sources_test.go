package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/httpclient"
	"github.com/stacklok/integration-sync/internal/models"
)

var fastLimit = &config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 100}

func fastRetry() httpclient.Option {
	return httpclient.WithRetry(2, time.Millisecond)
}

func writeSecret(t *testing.T, dir, name, value string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(value), 0600))
	return path
}

func tenableAsset(id, hostname, criticality string) map[string]any {
	return map[string]any{
		"id":                 id,
		"hostname":           []any{hostname},
		"ipv4":               []any{"192.168.1.10"},
		"criticality_rating": criticality,
		"exposure_score":     512,
	}
}

// newTenableServer serves paged assets and vulnerabilities the way the scanner API does
func newTenableServer(t *testing.T, assets []map[string]any, vulns []map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	page := func(w http.ResponseWriter, r *http.Request, key string, items []map[string]any) {
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		per, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		start := min((p-1)*per, len(items))
		end := min(start+per, len(items))
		_ = json.NewEncoder(w).Encode(map[string]any{key: items[start:end], "total": len(items), "page": p, "per_page": per})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-ApiKeys") != "accessKey=ak;secretKey=sk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"username":"test@example.com"}`))
	})
	mux.HandleFunc("/assets", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		page(w, r, "assets", assets)
	})
	mux.HandleFunc("/assets/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		for _, a := range assets {
			if a["id"] == r.PathValue("id") {
				_ = json.NewEncoder(w).Encode(a)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		page(w, r, "vulnerabilities", vulns)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &calls
}

func newTestTenable(t *testing.T, baseURL string) *TenableAdapter {
	t.Helper()
	dir := t.TempDir()
	a, err := NewTenableAdapter(&config.SourceConfig{
		Name:      "tenable",
		Type:      config.SourceTypeTenable,
		BaseURL:   baseURL,
		PageSize:  2,
		RateLimit: fastLimit,
		Credentials: &config.CredentialsConfig{
			AccessKeyFile: writeSecret(t, dir, "access", "ak\n"),
			SecretKeyFile: writeSecret(t, dir, "secret", "sk"),
		},
	}, fastRetry())
	require.NoError(t, err)
	return a
}

func TestTenableAdapterFetchAndNormalize(t *testing.T) {
	t.Parallel()

	assets := []map[string]any{
		tenableAsset("a-1", "Server-1.example.com", "High"),
		tenableAsset("a-2", "server-2.example.com", "low"),
		tenableAsset("a-3", "server-3.example.com", "medium"),
	}
	server, _ := newTenableServer(t, assets, nil)
	a := newTestTenable(t, server.URL)
	ctx := context.Background()

	require.NoError(t, a.TestConnection(ctx))
	assert.Equal(t, []models.EntityKind{models.KindAsset, models.KindVulnerability}, a.Kinds())

	first, err := a.Fetch(ctx, FetchRequest{Kind: models.KindAsset, Page: 1})
	require.NoError(t, err)
	assert.Len(t, first.Records, 2)
	assert.Equal(t, 3, first.Total)
	assert.True(t, first.HasMore)

	second, err := a.Fetch(ctx, FetchRequest{Kind: models.KindAsset, Page: 2})
	require.NoError(t, err)
	assert.Len(t, second.Records, 1)
	assert.False(t, second.HasMore)

	rec, err := a.Normalize(first.Records[0])
	require.NoError(t, err)
	assert.Equal(t, "a-1", rec.ExternalID)
	assert.Equal(t, "a-1", rec.CorrelationKey)
	assert.Equal(t, "server-1.example.com", rec.Fields["hostname"])
	assert.Equal(t, "high", rec.Fields["criticality"])
	assert.Equal(t, []any{"192.168.1.10"}, rec.Fields["ipv4"])
	assert.NotContains(t, rec.Fields, "fqdn")

	one, err := a.FetchOne(ctx, models.KindAsset, "a-3")
	require.NoError(t, err)
	rec, err = a.Normalize(*one)
	require.NoError(t, err)
	assert.Equal(t, "medium", rec.Fields["criticality"])

	_, err = a.FetchOne(ctx, models.KindAsset, "missing")
	assert.True(t, models.IsNotFound(err))
}

func TestTenableAdapterVulnerabilities(t *testing.T) {
	t.Parallel()

	vuln := func(asset string, plugin int, severity, state string) map[string]any {
		return map[string]any{
			"asset":    map[string]any{"id": asset, "hostname": "server-1.example.com"},
			"plugin":   map[string]any{"id": plugin, "name": "OpenSSL", "cve": []any{"CVE-2024-0001"}},
			"severity": severity, "state": state, "port": 443, "protocol": "TCP", "cvss_base_score": 9.8,
		}
	}
	server, _ := newTenableServer(t, nil, []map[string]any{
		vuln("a-1", 19506, "critical", "open"),
		vuln("a-1", 20007, "low", "fixed"),
	})
	a := newTestTenable(t, server.URL)

	page, err := a.Fetch(context.Background(), FetchRequest{
		Kind: models.KindVulnerability, Page: 1, PerPage: 10,
		Filters: map[string]any{"severity": []any{"critical", "high"}},
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	rec, err := a.Normalize(page.Records[0])
	require.NoError(t, err)
	assert.Equal(t, "a-1:19506:443:tcp", rec.ExternalID)
	assert.Equal(t, "critical", rec.Fields["severity"])
	assert.Equal(t, 4, rec.Fields["severity_id"])
	assert.Equal(t, models.VulnStateOpen, rec.Fields["state"])
	assert.Equal(t, []any{"CVE-2024-0001"}, rec.Fields["cve"])

	one, err := a.FetchOne(context.Background(), models.KindVulnerability, "a-1:20007:443:tcp")
	require.NoError(t, err)
	rec, err = a.Normalize(*one)
	require.NoError(t, err)
	assert.Equal(t, models.VulnStateFixed, rec.Fields["state"])
}

func TestTenableAdapterErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	a := newTestTenable(t, server.URL)

	err := a.TestConnection(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsAdapter(err))

	_, err = a.Fetch(context.Background(), FetchRequest{Kind: models.KindAsset})
	assert.True(t, models.IsAdapter(err))

	_, err = a.Fetch(context.Background(), FetchRequest{Kind: models.KindControl})
	assert.ErrorContains(t, err, "unsupported kind")
}

func TestNormalizeMalformedRecord(t *testing.T) {
	t.Parallel()

	a := newTenableAdapter(&config.SourceConfig{Name: "tenable", Type: config.SourceTypeTenable}, nil)

	_, err := a.Normalize(RawRecord{Kind: models.KindAsset, Data: []byte(`{"id": `)})
	require.Error(t, err)
	assert.True(t, models.IsAdapter(err))

	rec, err := a.Normalize(RawRecord{Kind: models.KindAsset, Data: []byte(`{"hostname": ["x"]}`)})
	require.NoError(t, err)
	assert.Empty(t, rec.ExternalID)
}

func TestXactaAdapter(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	var registered atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /xacta/systems", authed(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"systems":[{"system_id":"SYS-001","system_name":"Payroll","impact_level":"Moderate"}],"total":1}`))
	}))
	mux.HandleFunc("GET /xacta/system-assets", authed(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"system_assets":[
			{"system_id":"SYS-001","asset_uuid":"a-1","asset_hostname":"Server-1.example.com","asset_ip":"192.168.1.10","criticality":"Medium","environment":"Production"},
			{"system_id":"SYS-001","asset_uuid":"a-2","asset_hostname":"unknown","asset_ip":"unknown","criticality":"Low"}
		],"total":2}`))
	}))
	mux.HandleFunc("POST /xacta/webhooks", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		registered.Store(body["url"])
		_, _ = w.Write([]byte(`{"id":"wh-42"}`))
	}))
	mux.HandleFunc("DELETE /xacta/webhooks/{id}", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "wh-42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	a, err := NewXactaAdapter(context.Background(), &config.SourceConfig{
		Name:      "xacta",
		Type:      config.SourceTypeXacta,
		BaseURL:   server.URL + "/",
		RateLimit: fastLimit,
		Credentials: &config.CredentialsConfig{
			TokenURL:         server.URL + "/oauth/token",
			ClientID:         "integration",
			ClientSecretFile: writeSecret(t, dir, "client-secret", "s3cret"),
		},
	}, fastRetry())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.TestConnection(ctx))

	page, err := a.Fetch(ctx, FetchRequest{Kind: models.KindAsset})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.False(t, page.HasMore)

	rec, err := a.Normalize(page.Records[0])
	require.NoError(t, err)
	assert.Equal(t, "SYS-001:a-1", rec.ExternalID)
	assert.Equal(t, "a-1", rec.CorrelationKey)
	assert.Equal(t, "medium", rec.Fields["criticality"])
	assert.Equal(t, "server-1.example.com", rec.Fields["hostname"])

	rec, err = a.Normalize(page.Records[1])
	require.NoError(t, err)
	assert.NotContains(t, rec.Fields, "hostname")
	assert.NotContains(t, rec.Fields, "ipv4")

	id, err := a.RegisterWebhook(ctx, "xacta-controls", "https://sync.example.com/webhooks/xacta/controlUpdated",
		[]string{"controlUpdated"}, "secret")
	require.NoError(t, err)
	assert.Equal(t, "wh-42", id)
	assert.Equal(t, "https://sync.example.com/webhooks/xacta/controlUpdated", registered.Load())

	require.NoError(t, a.UnregisterWebhook(ctx, "wh-42"))
	assert.True(t, models.IsAdapter(a.UnregisterWebhook(ctx, "nope")))
	assert.Equal(t, int32(1), tokenCalls.Load(), "token is cached between calls")
}

func TestSimulatedAdapter(t *testing.T) {
	t.Parallel()

	tenable, err := NewSimulatedAdapter(&config.SourceConfig{
		Name: "sim-tenable", Type: config.SourceTypeSimulated, RateLimit: fastLimit,
		Simulated: &config.SimulatedConfig{Flavor: config.SourceTypeTenable, Assets: 5, Seed: 7},
	})
	require.NoError(t, err)
	xacta, err := NewSimulatedAdapter(&config.SourceConfig{
		Name: "sim-xacta", Type: config.SourceTypeSimulated, RateLimit: fastLimit,
		Simulated: &config.SimulatedConfig{Flavor: config.SourceTypeXacta, Assets: 5, Seed: 7},
	})
	require.NoError(t, err)
	ctx := context.Background()

	page, err := tenable.Fetch(ctx, FetchRequest{Kind: models.KindAsset, PerPage: 3})
	require.NoError(t, err)
	assert.Len(t, page.Records, 3)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)

	rec, err := tenable.Normalize(page.Records[0])
	require.NoError(t, err)
	assert.Equal(t, SimulatedAssetID(7, 0), rec.ExternalID)

	links, err := xacta.Fetch(ctx, FetchRequest{Kind: models.KindAsset, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, links.Records, 5)
	link, err := xacta.Normalize(links.Records[0])
	require.NoError(t, err)
	assert.Equal(t, rec.CorrelationKey, link.CorrelationKey, "both flavors describe the same assets")

	again, err := NewSimulatedAdapter(&config.SourceConfig{
		Name: "sim-tenable", Type: config.SourceTypeSimulated,
		Simulated: &config.SimulatedConfig{Flavor: config.SourceTypeTenable, Assets: 5, Seed: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, tenable.records, again.records, "generation is deterministic")

	tenable.SetUnavailable(true)
	assert.ErrorIs(t, tenable.TestConnection(ctx), ErrSourceUnavailable)
	_, err = tenable.Fetch(ctx, FetchRequest{Kind: models.KindAsset})
	assert.True(t, models.IsAdapter(err))
	tenable.SetUnavailable(false)

	tenable.Put(models.KindAsset, tenableAsset(SimulatedAssetID(7, 0), "renamed.example.com", "critical"))
	one, err := tenable.FetchOne(ctx, models.KindAsset, SimulatedAssetID(7, 0))
	require.NoError(t, err)
	rec, err = tenable.Normalize(*one)
	require.NoError(t, err)
	assert.Equal(t, "renamed.example.com", rec.Fields["hostname"])

	id, err := xacta.RegisterWebhook(ctx, "w", "http://cb", []string{"controlUpdated"}, "")
	require.NoError(t, err)
	require.NoError(t, xacta.UnregisterWebhook(ctx, id))
	assert.True(t, models.IsNotFound(xacta.UnregisterWebhook(ctx, id)))
}

func TestValidateFilters(t *testing.T) {
	t.Parallel()

	a := newTenableAdapter(&config.SourceConfig{Name: "tenable", Type: config.SourceTypeTenable}, nil)
	x := newXactaAdapter(&config.SourceConfig{Name: "xacta", Type: config.SourceTypeXacta}, nil)

	tests := []struct {
		name    string
		adapter Adapter
		filters map[string]any
		wantErr bool
	}{
		{name: "empty filters", adapter: a},
		{name: "valid kinds and severity", adapter: a, filters: map[string]any{
			"kinds": []any{"vulnerability"}, "severity": []any{"critical"},
		}},
		{name: "unknown kind", adapter: a, filters: map[string]any{"kinds": []any{"control"}}, wantErr: true},
		{name: "unknown key", adapter: a, filters: map[string]any{"since": "yesterday"}, wantErr: true},
		{name: "bad state", adapter: a, filters: map[string]any{"state": []string{"resolved"}}, wantErr: true},
		{name: "xacta family", adapter: x, filters: map[string]any{"family": "Access Control"}},
		{name: "xacta family wrong type", adapter: x, filters: map[string]any{"family": 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateFilters(tt.adapter, tt.filters)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, models.IsValidation(err))
		})
	}
}

func TestKindsFor(t *testing.T) {
	t.Parallel()

	x := newXactaAdapter(&config.SourceConfig{Name: "xacta", Type: config.SourceTypeXacta}, nil)
	assert.Equal(t, x.Kinds(), KindsFor(x, nil))
	assert.Equal(t, []models.EntityKind{models.KindControl, models.KindAsset},
		KindsFor(x, map[string]any{"kinds": []any{"asset", "control"}}))
}

func TestFactoryAndRegistry(t *testing.T) {
	t.Parallel()

	reg, err := BuildRegistry(context.Background(), NewFactory(), []config.SourceConfig{
		{Name: "tenable", Type: config.SourceTypeTenable, BaseURL: "http://tenable.invalid"},
		{Name: "sim", Type: config.SourceTypeSimulated, Simulated: &config.SimulatedConfig{Flavor: config.SourceTypeXacta}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sim", "tenable"}, reg.Names())

	a, err := reg.Get("sim")
	require.NoError(t, err)
	assert.Equal(t, config.SourceTypeSimulated, a.Type())
	_, isRegistrar := a.(WebhookRegistrar)
	assert.True(t, isRegistrar)

	_, err = reg.Get("qualys")
	assert.True(t, models.IsNotFound(err))

	_, err = BuildRegistry(context.Background(), NewFactory(), []config.SourceConfig{{Name: "q", Type: "qualys"}})
	assert.ErrorContains(t, err, "sources[0] (q): unsupported source type")
}
