// Package config provides configuration loading and management for the integration engine.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables read through viper
const EnvPrefix = "INTEGRATION_SYNC"

const (
	// SourceTypeTenable is a Tenable.io compatible vulnerability scanner
	SourceTypeTenable = "tenable"

	// SourceTypeXacta is a Xacta compatible compliance system
	SourceTypeXacta = "xacta"

	// SourceTypeSimulated serves deterministic in-process data
	SourceTypeSimulated = "simulated"
)

const (
	// ScorerTypeHTTP calls an external scoring endpoint
	ScorerTypeHTTP = "http"

	// ScorerTypeHeuristic scores entities locally from their fields
	ScorerTypeHeuristic = "heuristic"
)

const (
	// AutoResolveNone leaves every conflict for a human
	AutoResolveNone = "none"

	// AutoResolveMostRecentWins settles low-severity conflicts in favour of the incoming value
	AutoResolveMostRecentWins = "most-recent-wins"
)

const (
	defaultSourceTimeout   = 30 * time.Second
	defaultBaseRetryDelay  = 30 * time.Second
	defaultHealthInterval  = 5 * time.Minute
	defaultWebhookTimeout  = 30
	defaultRequestsPerSec  = 5.0
	defaultDatabaseSSLMode = "require"
	defaultServerAddress   = ":8080"
	defaultRequestTimeout  = 60 * time.Second
)

// DefaultPageSize is the number of records requested per page when a source sets none
const DefaultPageSize = 100

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server     ServerConfig      `yaml:"server,omitempty"`
	Database   *DatabaseConfig   `yaml:"database,omitempty"`
	Sources    []SourceConfig    `yaml:"sources"`
	Jobs       []models.SyncJob  `yaml:"jobs,omitempty"`
	Webhooks   []WebhookConfig   `yaml:"webhooks,omitempty"`
	Scheduler  SchedulerConfig   `yaml:"scheduler,omitempty"`
	Reconcile  ReconcileConfig   `yaml:"reconcile,omitempty"`
	Enrichment *EnrichmentConfig `yaml:"enrichment,omitempty"`
	Health     HealthConfig      `yaml:"health,omitempty"`
	Cache      *CacheConfig      `yaml:"cache,omitempty"`
	Telemetry  *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`
	// RequestTimeout bounds each API request (e.g. "60s")
	RequestTimeout string `yaml:"requestTimeout,omitempty"`
}

// SourceConfig defines one external system the engine talks to
type SourceConfig struct {
	// Name is the identifier used in jobs, webhooks and provenance
	Name string `yaml:"name"`

	// Type selects the adapter implementation (tenable, xacta, simulated)
	Type string `yaml:"type"`

	// BaseURL is the API root of the external system
	BaseURL string `yaml:"baseURL,omitempty"`

	// Timeout bounds every outbound call (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// PageSize is the number of records requested per page
	PageSize int `yaml:"pageSize,omitempty"`

	RateLimit   *RateLimitConfig   `yaml:"rateLimit,omitempty"`
	Credentials *CredentialsConfig `yaml:"credentials,omitempty"`

	// Simulated configures the in-process data set for the simulated adapter
	Simulated *SimulatedConfig `yaml:"simulated,omitempty"`
}

// RateLimitConfig defines the delay a source imposes between calls
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst,omitempty"`
}

// CredentialsConfig holds references to source secrets. Secret values are read
// from files or environment variables, never from the YAML itself.
type CredentialsConfig struct {
	// AccessKeyFile and SecretKeyFile are Tenable API key pair files
	AccessKeyFile string `yaml:"accessKeyFile,omitempty"`
	SecretKeyFile string `yaml:"secretKeyFile,omitempty"`

	// TokenFile holds a static bearer token
	TokenFile string `yaml:"tokenFile,omitempty"`

	// TokenURL, ClientID and ClientSecretFile enable OAuth2 client credentials
	TokenURL         string   `yaml:"tokenURL,omitempty"`
	ClientID         string   `yaml:"clientID,omitempty"`
	ClientSecretFile string   `yaml:"clientSecretFile,omitempty"`
	Scopes           []string `yaml:"scopes,omitempty"`
}

// SimulatedConfig sizes the simulated data set
type SimulatedConfig struct {
	// Flavor picks the record shapes to emulate (tenable or xacta)
	Flavor string `yaml:"flavor"`
	Assets int    `yaml:"assets,omitempty"`
	Seed   int64  `yaml:"seed,omitempty"`
}

// WebhookConfig seeds a webhook subscription at startup
type WebhookConfig struct {
	Name           string   `yaml:"name"`
	Source         string   `yaml:"source"`
	TargetURL      string   `yaml:"targetURL,omitempty"`
	EventTypes     []string `yaml:"eventTypes"`
	SecretFile     string   `yaml:"secretFile,omitempty"`
	SecretEnv      string   `yaml:"secretEnv,omitempty"`
	TimeoutSeconds int      `yaml:"timeoutSeconds,omitempty"`
	MaxRetries     int      `yaml:"maxRetries,omitempty"`
}

// SchedulerConfig defines retry behaviour for failed executions
type SchedulerConfig struct {
	// BaseRetryDelay is the first retry delay; each later retry doubles it
	BaseRetryDelay string `yaml:"baseRetryDelay,omitempty"`
	// DefaultMaxRetries applies to jobs that do not set maxRetries
	DefaultMaxRetries int `yaml:"defaultMaxRetries,omitempty"`
}

// ReconcileConfig defines conflict handling
type ReconcileConfig struct {
	// AutoResolve is the automatic policy for low-severity conflicts
	AutoResolve string `yaml:"autoResolve,omitempty"`
}

// EnrichmentConfig defines the external risk scorer
type EnrichmentConfig struct {
	Type     string `yaml:"type"`
	Model    string `yaml:"model,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
	// TokenFile holds a bearer token for the scoring endpoint
	TokenFile string `yaml:"tokenFile,omitempty"`
}

// HealthConfig defines health score weights, refresh interval and alert thresholds
type HealthConfig struct {
	Interval   string                     `yaml:"interval,omitempty"`
	Weights    *HealthWeights             `yaml:"weights,omitempty"`
	Thresholds map[string]ThresholdConfig `yaml:"thresholds,omitempty"`
}

// HealthWeights are the contributions of each component to the overall score
type HealthWeights struct {
	Sync     float64 `yaml:"sync"`
	Webhook  float64 `yaml:"webhook"`
	Conflict float64 `yaml:"conflict"`
}

// ThresholdConfig is a warning/critical pair for one metric
type ThresholdConfig struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// CacheConfig selects where the health dashboard is cached
type CacheConfig struct {
	// RedisAddr enables the redis cache when set
	RedisAddr string `yaml:"redisAddr,omitempty"`
	// PasswordEnv names the environment variable holding the redis password
	PasswordEnv string `yaml:"passwordEnv,omitempty"`
	DB          int    `yaml:"db,omitempty"`
	KeyPrefix   string `yaml:"keyPrefix,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// DatabasePasswordEnv is the environment variable consulted when no password file is set
const DatabasePasswordEnv = EnvPrefix + "_DATABASE_PASSWORD"

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from the INTEGRATION_SYNC_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		return readSecretFile(d.PasswordFile)
	}

	if envPassword := os.Getenv(DatabasePasswordEnv); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", DatabasePasswordEnv,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The user and password are escaped as URL userinfo.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = defaultDatabaseSSLMode
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String(), nil
}

// GetConnMaxLifetime returns the parsed connection lifetime, or zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() (time.Duration, error) {
	if d.ConnMaxLifetime == "" {
		return 0, nil
	}
	return time.ParseDuration(d.ConnMaxLifetime)
}

// readSecretFile reads a secret from a file, trimming surrounding whitespace
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to read secret from file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadSecret resolves a secret from a file path, falling back to an environment variable name
func ReadSecret(file, env string) (string, error) {
	if file != "" {
		return readSecretFile(file)
	}
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("environment variable %s is not set", env)
	}
	return "", nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// FindSource returns the source configuration with the given name
func (c *Config) FindSource(name string) (*SourceConfig, bool) {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i], true
		}
	}
	return nil, false
}

// GetBaseRetryDelay returns the first retry delay for failed executions
func (s SchedulerConfig) GetBaseRetryDelay() time.Duration {
	if d, err := time.ParseDuration(s.BaseRetryDelay); err == nil && d > 0 {
		return d
	}
	return defaultBaseRetryDelay
}

// GetAutoResolve returns the automatic conflict policy, defaulting to none
func (r ReconcileConfig) GetAutoResolve() string {
	if r.AutoResolve == "" {
		return AutoResolveNone
	}
	return r.AutoResolve
}

// GetInterval returns the health recomputation interval
func (h HealthConfig) GetInterval() time.Duration {
	if d, err := time.ParseDuration(h.Interval); err == nil && d > 0 {
		return d
	}
	return defaultHealthInterval
}

// GetAddress returns the listen address of the HTTP server
func (s ServerConfig) GetAddress() string {
	if s.Address == "" {
		return defaultServerAddress
	}
	return s.Address
}

// GetRequestTimeout returns the per-request deadline of the HTTP API
func (s ServerConfig) GetRequestTimeout() time.Duration {
	if d, err := time.ParseDuration(s.RequestTimeout); err == nil && d > 0 {
		return d
	}
	return defaultRequestTimeout
}

// Flavor returns the API the source speaks: its type, or the emulated flavor of a simulated source
func (s *SourceConfig) Flavor() string {
	if s.Type == SourceTypeSimulated && s.Simulated != nil {
		return s.Simulated.Flavor
	}
	return s.Type
}

// GetTimeout returns the per-call timeout for the source
func (s *SourceConfig) GetTimeout() time.Duration {
	if d, err := time.ParseDuration(s.Timeout); err == nil && d > 0 {
		return d
	}
	return defaultSourceTimeout
}

// GetPageSize returns the page size requested from the source
func (s *SourceConfig) GetPageSize() int {
	if s.PageSize <= 0 {
		return DefaultPageSize
	}
	return s.PageSize
}

// GetRateLimit returns the configured rate, defaulting to 5 requests per second with burst 1
func (s *SourceConfig) GetRateLimit() (float64, int) {
	if s.RateLimit == nil || s.RateLimit.RequestsPerSecond <= 0 {
		return defaultRequestsPerSec, 1
	}
	burst := s.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}
	return s.RateLimit.RequestsPerSecond, burst
}

// GetTimeoutSeconds returns the handler timeout for the webhook
func (w *WebhookConfig) GetTimeoutSeconds() int {
	if w.TimeoutSeconds <= 0 {
		return defaultWebhookTimeout
	}
	return w.TimeoutSeconds
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	sourceNames := make(map[string]bool)
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if sourceNames[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name '%s'", i, src.Name)
		}
		sourceNames[src.Name] = true

		if err := validateSourceConfig(src, fmt.Sprintf("sources[%d] (%s)", i, src.Name)); err != nil {
			return err
		}
	}

	jobIDs := make(map[string]bool)
	for i := range c.Jobs {
		job := &c.Jobs[i]
		prefix := fmt.Sprintf("jobs[%d] (%s)", i, job.ID)
		if job.ID == "" {
			return fmt.Errorf("jobs[%d]: id is required", i)
		}
		if jobIDs[job.ID] {
			return fmt.Errorf("%s: duplicate job id", prefix)
		}
		jobIDs[job.ID] = true
		if !sourceNames[job.Source] {
			return fmt.Errorf("%s: unknown source '%s'", prefix, job.Source)
		}
		if job.Schedule == "" {
			return fmt.Errorf("%s: schedule is required", prefix)
		}
	}

	for i := range c.Webhooks {
		wh := &c.Webhooks[i]
		prefix := fmt.Sprintf("webhooks[%d] (%s)", i, wh.Name)
		if wh.Name == "" {
			return fmt.Errorf("webhooks[%d]: name is required", i)
		}
		if !sourceNames[wh.Source] {
			return fmt.Errorf("%s: unknown source '%s'", prefix, wh.Source)
		}
		if len(wh.EventTypes) == 0 {
			return fmt.Errorf("%s: at least one event type is required", prefix)
		}
		if wh.SecretFile == "" && wh.SecretEnv == "" {
			return fmt.Errorf("%s: one of secretFile or secretEnv is required", prefix)
		}
	}

	return errors.Join(
		c.validateServer(),
		c.validateScheduler(),
		c.validateReconcile(),
		c.validateEnrichment(),
		c.validateHealth(),
		c.Telemetry.Validate(),
	)
}

// validateSourceConfig validates a single source configuration
func validateSourceConfig(src *SourceConfig, prefix string) error {
	switch src.Type {
	case SourceTypeTenable, SourceTypeXacta:
		if src.BaseURL == "" {
			return fmt.Errorf("%s: baseURL is required for type %s", prefix, src.Type)
		}
		if _, err := url.ParseRequestURI(src.BaseURL); err != nil {
			return fmt.Errorf("%s: baseURL is not a valid URL: %w", prefix, err)
		}
	case SourceTypeSimulated:
		if src.Simulated == nil {
			return fmt.Errorf("%s: simulated configuration is required for type simulated", prefix)
		}
		if src.Simulated.Flavor != SourceTypeTenable && src.Simulated.Flavor != SourceTypeXacta {
			return fmt.Errorf("%s: simulated.flavor must be %s or %s", prefix, SourceTypeTenable, SourceTypeXacta)
		}
	case "":
		return fmt.Errorf("%s: type is required", prefix)
	default:
		return fmt.Errorf("%s: unsupported source type '%s'", prefix, src.Type)
	}

	if src.Timeout != "" {
		if _, err := time.ParseDuration(src.Timeout); err != nil {
			return fmt.Errorf("%s: timeout must be a valid duration (e.g., '30s'): %w", prefix, err)
		}
	}

	if src.RateLimit != nil && src.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("%s: rateLimit.requestsPerSecond must not be negative", prefix)
	}

	if creds := src.Credentials; creds != nil && creds.TokenURL != "" {
		if creds.ClientID == "" || creds.ClientSecretFile == "" {
			return fmt.Errorf("%s: credentials.clientID and credentials.clientSecretFile are required with tokenURL", prefix)
		}
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.RequestTimeout != "" {
		if _, err := time.ParseDuration(c.Server.RequestTimeout); err != nil {
			return fmt.Errorf("server: requestTimeout must be a valid duration: %w", err)
		}
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.BaseRetryDelay != "" {
		if _, err := time.ParseDuration(c.Scheduler.BaseRetryDelay); err != nil {
			return fmt.Errorf("scheduler: baseRetryDelay must be a valid duration: %w", err)
		}
	}
	if c.Scheduler.DefaultMaxRetries < 0 {
		return fmt.Errorf("scheduler: defaultMaxRetries must not be negative")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	switch c.Reconcile.GetAutoResolve() {
	case AutoResolveNone, AutoResolveMostRecentWins:
		return nil
	default:
		return fmt.Errorf("reconcile: unsupported autoResolve policy '%s'", c.Reconcile.AutoResolve)
	}
}

func (c *Config) validateEnrichment() error {
	e := c.Enrichment
	if e == nil {
		return nil
	}
	switch e.Type {
	case ScorerTypeHTTP:
		if e.Endpoint == "" {
			return fmt.Errorf("enrichment: endpoint is required for type http")
		}
	case ScorerTypeHeuristic:
	default:
		return fmt.Errorf("enrichment: unsupported type '%s'", e.Type)
	}
	if e.Timeout != "" {
		if _, err := time.ParseDuration(e.Timeout); err != nil {
			return fmt.Errorf("enrichment: timeout must be a valid duration: %w", err)
		}
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.Interval != "" {
		if _, err := time.ParseDuration(c.Health.Interval); err != nil {
			return fmt.Errorf("health: interval must be a valid duration: %w", err)
		}
	}
	if w := c.Health.Weights; w != nil {
		if w.Sync < 0 || w.Webhook < 0 || w.Conflict < 0 {
			return fmt.Errorf("health: weights must not be negative")
		}
		if w.Sync+w.Webhook+w.Conflict == 0 {
			return fmt.Errorf("health: at least one weight must be positive")
		}
	}
	return nil
}
