package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/integration-sync/internal/models"
)

const validSourcesYAML = `sources:
  - name: tenable
    type: tenable
    baseURL: https://cloud.tenable.example
    timeout: 15s
    rateLimit:
      requestsPerSecond: 2
      burst: 3
  - name: xacta
    type: simulated
    simulated:
      flavor: xacta
      assets: 10
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		yamlContent      string
		skipFileCreation bool
		check            func(t *testing.T, cfg *Config)
		wantErr          string
	}{
		{
			name: "valid_config_with_jobs_and_webhooks",
			yamlContent: validSourcesYAML + `jobs:
  - id: j1
    name: Hourly vulnerabilities
    source: tenable
    schedule: "0 * * * *"
    maxRetries: 3
    enabled: true
    filters:
      kinds: [vulnerability]
webhooks:
  - name: tenable-scans
    source: tenable
    eventTypes: [scanCompleted]
    secretEnv: TENABLE_WEBHOOK_SECRET
scheduler:
  baseRetryDelay: 10s
reconcile:
  autoResolve: most-recent-wins
health:
  interval: 1m
  weights: {sync: 0.5, webhook: 0.25, conflict: 0.25}
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				require.Len(t, cfg.Sources, 2)
				require.Len(t, cfg.Jobs, 1)
				assert.Equal(t, "j1", cfg.Jobs[0].ID)
				assert.True(t, cfg.Jobs[0].Enabled)
				assert.Equal(t, []any{"vulnerability"}, cfg.Jobs[0].Filters["kinds"])
				assert.Equal(t, 10*time.Second, cfg.Scheduler.GetBaseRetryDelay())
				assert.Equal(t, AutoResolveMostRecentWins, cfg.Reconcile.GetAutoResolve())
				assert.Equal(t, time.Minute, cfg.Health.GetInterval())
				assert.Equal(t, 30, cfg.Webhooks[0].GetTimeoutSeconds())

				src, ok := cfg.FindSource("tenable")
				require.True(t, ok)
				assert.Equal(t, 15*time.Second, src.GetTimeout())
				rps, burst := src.GetRateLimit()
				assert.InDelta(t, 2.0, rps, 0.0001)
				assert.Equal(t, 3, burst)
				assert.Equal(t, 100, src.GetPageSize())
			},
		},
		{
			name:        "defaults_applied",
			yamlContent: validSourcesYAML,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, 30*time.Second, cfg.Scheduler.GetBaseRetryDelay())
				assert.Equal(t, AutoResolveNone, cfg.Reconcile.GetAutoResolve())
				assert.Equal(t, 5*time.Minute, cfg.Health.GetInterval())
				_, ok := cfg.FindSource("missing")
				assert.False(t, ok)
			},
		},
		{
			name:        "invalid_yaml",
			yamlContent: `sources: [invalid yaml`,
			wantErr:     "failed to parse YAML config",
		},
		{
			name:             "file_not_found",
			skipFileCreation: true,
			wantErr:          "failed to evaluate symlinks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			if tt.skipFileCreation {
				configPath = filepath.Join(tmpDir, "non-existent.yaml")
			} else {
				err := os.WriteFile(configPath, []byte(tt.yamlContent), 0600)
				require.NoError(t, err)
			}

			cfg, err := LoadConfig(WithConfigPath(configPath))

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:    "no_sources",
			config:  &Config{},
			wantErr: "at least one source must be configured",
		},
		{
			name:    "missing_source_name",
			config:  &Config{Sources: []SourceConfig{{Type: SourceTypeTenable, BaseURL: "http://x"}}},
			wantErr: "sources[0]: name is required",
		},
		{
			name: "duplicate_source_name",
			config: &Config{Sources: []SourceConfig{
				{Name: "a", Type: SourceTypeTenable, BaseURL: "http://x"},
				{Name: "a", Type: SourceTypeTenable, BaseURL: "http://x"},
			}},
			wantErr: "sources[1]: duplicate source name 'a'",
		},
		{
			name:    "missing_base_url",
			config:  &Config{Sources: []SourceConfig{{Name: "t", Type: SourceTypeTenable}}},
			wantErr: "sources[0] (t): baseURL is required for type tenable",
		},
		{
			name:    "unsupported_type",
			config:  &Config{Sources: []SourceConfig{{Name: "t", Type: "qualys"}}},
			wantErr: "unsupported source type 'qualys'",
		},
		{
			name:    "simulated_without_flavor",
			config:  &Config{Sources: []SourceConfig{{Name: "s", Type: SourceTypeSimulated, Simulated: &SimulatedConfig{}}}},
			wantErr: "simulated.flavor must be tenable or xacta",
		},
		{
			name: "oauth_without_client",
			config: &Config{Sources: []SourceConfig{{
				Name: "x", Type: SourceTypeXacta, BaseURL: "http://x",
				Credentials: &CredentialsConfig{TokenURL: "http://x/token"},
			}}},
			wantErr: "credentials.clientID and credentials.clientSecretFile are required",
		},
		{
			name: "invalid_request_timeout",
			config: &Config{
				Sources: []SourceConfig{{Name: "t", Type: SourceTypeTenable, BaseURL: "http://x"}},
				Server:  ServerConfig{RequestTimeout: "soon"},
			},
			wantErr: "server: requestTimeout must be a valid duration",
		},
		{
			name: "job_unknown_source",
			config: &Config{
				Sources: []SourceConfig{{Name: "t", Type: SourceTypeTenable, BaseURL: "http://x"}},
				Jobs:    []models.SyncJob{{ID: "j1", Source: "nope", Schedule: "@hourly"}},
			},
			wantErr: "jobs[0] (j1): unknown source 'nope'",
		},
		{
			name: "job_without_schedule",
			config: &Config{
				Sources: []SourceConfig{{Name: "t", Type: SourceTypeTenable, BaseURL: "http://x"}},
				Jobs:    []models.SyncJob{{ID: "j1", Source: "t"}},
			},
			wantErr: "schedule is required",
		},
		{
			name: "webhook_without_secret",
			config: &Config{
				Sources:  []SourceConfig{{Name: "t", Type: SourceTypeTenable, BaseURL: "http://x"}},
				Webhooks: []WebhookConfig{{Name: "w", Source: "t", EventTypes: []string{"scanCompleted"}}},
			},
			wantErr: "one of secretFile or secretEnv is required",
		},
		{
			name: "bad_auto_resolve",
			config: &Config{
				Sources:   []SourceConfig{{Name: "t", Type: SourceTypeTenable, BaseURL: "http://x"}},
				Reconcile: ReconcileConfig{AutoResolve: "coin-flip"},
			},
			wantErr: "unsupported autoResolve policy",
		},
		{
			name: "http_scorer_without_endpoint",
			config: &Config{
				Sources:    []SourceConfig{{Name: "t", Type: SourceTypeTenable, BaseURL: "http://x"}},
				Enrichment: &EnrichmentConfig{Type: ScorerTypeHTTP},
			},
			wantErr: "enrichment: endpoint is required",
		},
		{
			name: "zero_weights",
			config: &Config{
				Sources: []SourceConfig{{Name: "t", Type: SourceTypeTenable, BaseURL: "http://x"}},
				Health:  HealthConfig{Weights: &HealthWeights{}},
			},
			wantErr: "at least one weight must be positive",
		},
		{
			name: "valid",
			config: &Config{
				Sources:    []SourceConfig{{Name: "t", Type: SourceTypeTenable, BaseURL: "http://x"}},
				Enrichment: &EnrichmentConfig{Type: ScorerTypeHeuristic},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWithConfigPath(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(target, []byte(validSourcesYAML), 0600))
	link := filepath.Join(tmpDir, "link.yaml")
	require.NoError(t, os.Symlink(target, link))

	cfg := &loaderConfig{}
	require.NoError(t, WithConfigPath(link)(cfg))
	resolved, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, resolved, cfg.path)

	assert.Error(t, WithConfigPath("")(&loaderConfig{}))
}

func TestDatabaseConfigGetPassword(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	passwordFile := filepath.Join(tmpDir, "password.txt")
	require.NoError(t, os.WriteFile(passwordFile, []byte("  s3cret\n\t"), 0600))

	tests := []struct {
		name         string
		dbConfig     *DatabaseConfig
		wantPassword string
		wantErr      string
	}{
		{
			name:         "password_from_file_with_whitespace",
			dbConfig:     &DatabaseConfig{PasswordFile: passwordFile},
			wantPassword: "s3cret",
		},
		{
			name:     "password_file_not_found",
			dbConfig: &DatabaseConfig{PasswordFile: "/nonexistent/password.txt"},
			wantErr:  "failed to read secret from file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			password, err := tt.dbConfig.GetPassword()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPassword, password)
		})
	}
}

//nolint:paralleltest // mutates process environment
func TestDatabaseConfigGetConnectionString(t *testing.T) {
	t.Setenv(DatabasePasswordEnv, "p@ss word")

	cfg := &DatabaseConfig{Host: "db", Port: 5432, User: "sync", Database: "integration"}
	conn, err := cfg.GetConnectionString()
	require.NoError(t, err)
	assert.Equal(t, "postgres://sync:p%40ss%20word@db:5432/integration?sslmode=require", conn)

	cfg.SSLMode = "disable"
	conn, err = cfg.GetConnectionString()
	require.NoError(t, err)
	assert.Contains(t, conn, "sslmode=disable")
}

//nolint:paralleltest // mutates process environment
func TestReadSecret(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET_TEST", "from-env")

	secret, err := ReadSecret("", "WEBHOOK_SECRET_TEST")
	require.NoError(t, err)
	assert.Equal(t, "from-env", secret)

	_, err = ReadSecret("", "WEBHOOK_SECRET_MISSING")
	assert.Error(t, err)

	secret, err = ReadSecret("", "")
	require.NoError(t, err)
	assert.Empty(t, secret)
}

func TestServerConfigDefaults(t *testing.T) {
	t.Parallel()

	var empty ServerConfig
	assert.Equal(t, ":8080", empty.GetAddress())
	assert.Equal(t, time.Minute, empty.GetRequestTimeout())

	set := ServerConfig{Address: "127.0.0.1:9000", RequestTimeout: "5s"}
	assert.Equal(t, "127.0.0.1:9000", set.GetAddress())
	assert.Equal(t, 5*time.Second, set.GetRequestTimeout())
}
