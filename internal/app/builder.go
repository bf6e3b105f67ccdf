package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/api"
	v1 "github.com/stacklok/integration-sync/internal/api/v1"
	"github.com/stacklok/integration-sync/internal/app/storage"
	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/enrichment"
	"github.com/stacklok/integration-sync/internal/health"
	"github.com/stacklok/integration-sync/internal/reconcile"
	"github.com/stacklok/integration-sync/internal/sources"
	"github.com/stacklok/integration-sync/internal/store"
	pkgsync "github.com/stacklok/integration-sync/internal/sync"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
	"github.com/stacklok/integration-sync/internal/telemetry"
	"github.com/stacklok/integration-sync/internal/webhook"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 75 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	// tracerName names the spans of the sync, webhook and health components
	tracerName = "github.com/stacklok/integration-sync"
)

// AppOption is a function that configures the integration app builder
type AppOption func(*appConfig) error

// appConfig holds the builder state.
// It supports dependency injection for testing while providing sensible defaults for production
type appConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	storageFactory storage.Factory
	sourceFactory  sources.Factory
	cache          health.Cache

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

// metricsSet holds the domain instruments; every field is nil without a meter provider
type metricsSet struct {
	sync      *telemetry.SyncMetrics
	webhook   *telemetry.WebhookMetrics
	reconcile *telemetry.ReconcileMetrics
	health    *telemetry.HealthMetrics
}

func baseConfig(opts ...AppOption) (*appConfig, error) {
	cfg := &appConfig{
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		idleTimeout:  defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// The server section fills in whatever the options left unset
	var server config.ServerConfig
	if cfg.config != nil {
		server = cfg.config.Server
	}
	if cfg.address == "" {
		cfg.address = server.GetAddress()
	}
	if cfg.requestTimeout == 0 {
		cfg.requestTimeout = server.GetRequestTimeout()
	}
	// the write deadline must outlive the request timeout so the timeout middleware can answer
	if cfg.writeTimeout <= cfg.requestTimeout {
		cfg.writeTimeout = cfg.requestTimeout + 15*time.Second
	}

	return cfg, nil
}

// NewIntegrationApp wires every component from the configuration
func NewIntegrationApp(
	ctx context.Context,
	opts ...AppOption,
) (*IntegrationApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	tracer := cfg.tracer()

	// Single decision point for database vs memory
	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config, storage.WithTracer(tracer))
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			cfg.cleanup()
		}
	}()

	st, err := cfg.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	metrics, err := cfg.buildMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	components, err := buildSyncComponents(ctx, cfg, st, metrics, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	if err := buildWebhookComponents(ctx, cfg, components, metrics, tracer); err != nil {
		return nil, fmt.Errorf("failed to build webhook components: %w", err)
	}

	if err := buildHealthComponents(cfg, components, metrics, tracer); err != nil {
		return nil, fmt.Errorf("failed to build health components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	return &IntegrationApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		cleanup:    cfg.cleanup,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) AppOption {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding server.address
func WithAddress(addr string) AppOption {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) AppOption {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithRequestTimeout overrides server.requestTimeout
func WithRequestTimeout(d time.Duration) AppOption {
	return func(cfg *appConfig) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) AppOption {
	return func(cfg *appConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithSourceFactory allows injecting a custom adapter factory (for testing)
func WithSourceFactory(f sources.Factory) AppOption {
	return func(cfg *appConfig) error {
		cfg.sourceFactory = f
		return nil
	}
}

// WithDashboardCache allows injecting the health dashboard cache instead of building it from cache config
func WithDashboardCache(c health.Cache) AppOption {
	return func(cfg *appConfig) error {
		cfg.cache = c
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP and domain metrics
func WithMeterProvider(mp metric.MeterProvider) AppOption {
	return func(cfg *appConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for HTTP and component spans
func WithTracerProvider(tp trace.TracerProvider) AppOption {
	return func(cfg *appConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves the given handler on /metrics
func WithMetricsHandler(h http.Handler) AppOption {
	return func(cfg *appConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// tracer returns the component tracer, or nil when tracing is not configured
func (b *appConfig) tracer() trace.Tracer {
	if b.tracerProvider == nil {
		return nil
	}
	return b.tracerProvider.Tracer(tracerName)
}

// cleanup releases the dashboard cache and the storage backend
func (b *appConfig) cleanup() {
	if b.cache != nil {
		if err := b.cache.Close(); err != nil {
			slog.Warn("Failed to close dashboard cache", "error", err)
		}
	}
	if b.storageFactory != nil {
		b.storageFactory.Cleanup()
	}
}

// buildMetrics creates the domain instruments when a meter provider is configured
func (b *appConfig) buildMetrics() (*metricsSet, error) {
	m := &metricsSet{}
	if b.meterProvider == nil {
		return m, nil
	}

	var err error
	if m.sync, err = telemetry.NewSyncMetrics(b.meterProvider); err != nil {
		return nil, err
	}
	if m.webhook, err = telemetry.NewWebhookMetrics(b.meterProvider); err != nil {
		return nil, err
	}
	if m.reconcile, err = telemetry.NewReconcileMetrics(b.meterProvider); err != nil {
		return nil, err
	}
	if m.health, err = telemetry.NewHealthMetrics(b.meterProvider); err != nil {
		return nil, err
	}
	slog.Info("Domain metrics enabled")
	return m, nil
}

// buildSyncComponents builds the adapters, the reconcile pipeline and the scheduler
func buildSyncComponents(
	ctx context.Context,
	b *appConfig,
	st store.Store,
	metrics *metricsSet,
	tracer trace.Tracer,
) (*AppComponents, error) {
	slog.Info("Initializing sync components")

	if b.sourceFactory == nil {
		b.sourceFactory = sources.NewFactory()
	}
	registry, err := sources.BuildRegistry(ctx, b.sourceFactory, b.config.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to create source adapters: %w", err)
	}

	reconciler := reconcile.New(st,
		reconcile.WithDetector(reconcile.NewDetector(b.config.Reconcile.GetAutoResolve(), nil)),
		reconcile.WithMetrics(metrics.reconcile),
		reconcile.WithTracer(tracer),
	)

	managerOpts := []pkgsync.Option{
		pkgsync.WithMetrics(metrics.sync),
		pkgsync.WithTracer(tracer),
	}
	enricher, err := buildEnricher(b.config.Enrichment, st)
	if err != nil {
		return nil, err
	}
	if enricher != nil {
		managerOpts = append(managerOpts, pkgsync.WithEnricher(enricher))
	}
	manager := pkgsync.NewDefaultSyncManager(registry, reconciler, managerOpts...)

	schedOpts := []scheduler.Option{
		scheduler.WithBaseRetryDelay(b.config.Scheduler.GetBaseRetryDelay()),
		scheduler.WithSeedJobs(b.config.Jobs),
		scheduler.WithMetrics(metrics.sync),
		scheduler.WithTracer(tracer),
	}
	if b.config.Scheduler.DefaultMaxRetries > 0 {
		schedOpts = append(schedOpts, scheduler.WithDefaultMaxRetries(b.config.Scheduler.DefaultMaxRetries))
	}

	slog.Info("Sync components initialized successfully", "sources", len(registry.Names()), "jobs", len(b.config.Jobs))
	return &AppComponents{
		Store:     st,
		Sources:   registry,
		Manager:   manager,
		Scheduler: scheduler.New(manager, registry, st, schedOpts...),
		Resolver:  reconcile.NewResolver(st, nil, tracer),
		Enricher:  enricher,
	}, nil
}

// buildEnricher returns the risk enricher, or nil when enrichment is not configured
func buildEnricher(cfg *config.EnrichmentConfig, st store.Store) (*enrichment.Enricher, error) {
	if cfg == nil {
		return nil, nil
	}
	scorer, err := enrichment.NewScorer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk scorer: %w", err)
	}
	return enrichment.NewEnricher(scorer, st, nil), nil
}

// buildWebhookComponents registers the built-in handlers of every source and seeds subscriptions
func buildWebhookComponents(
	ctx context.Context,
	b *appConfig,
	c *AppComponents,
	metrics *metricsSet,
	tracer trace.Tracer,
) error {
	slog.Info("Initializing webhook components")

	handlers := webhook.NewRegistry()
	for i := range b.config.Sources {
		src := &b.config.Sources[i]
		if err := handlers.Register(webhook.BuiltinHandlers(src.Name, src.Flavor(), c.Manager, c.Scheduler)...); err != nil {
			return fmt.Errorf("failed to register handlers for %s: %w", src.Name, err)
		}
	}

	c.Gateway = webhook.NewGateway(c.Store, handlers,
		webhook.WithMetrics(metrics.webhook),
		webhook.WithTracer(tracer),
	)
	c.Subscriptions = webhook.NewSubscriptionService(c.Store, c.Sources)
	if err := c.Subscriptions.Seed(ctx, b.config.Webhooks); err != nil {
		return fmt.Errorf("failed to seed webhook subscriptions: %w", err)
	}

	slog.Info("Webhook components initialized successfully", "handlers", len(handlers.Keys()))
	return nil
}

// buildHealthComponents builds the health monitor and its dashboard cache
func buildHealthComponents(b *appConfig, c *AppComponents, metrics *metricsSet, tracer trace.Tracer) error {
	if b.cache == nil {
		cache, err := health.NewCache(b.config.Cache)
		if err != nil {
			return fmt.Errorf("failed to create dashboard cache: %w", err)
		}
		b.cache = cache
	}

	opts := append(health.FromConfig(b.config.Health),
		health.WithCache(b.cache),
		health.WithMetrics(metrics.health),
		health.WithTracer(tracer),
	)
	c.Monitor = health.NewMonitor(c.Store, c.Sources, opts...)
	return nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *appConfig,
	c *AppComponents,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Telemetry middlewares go first so they observe every request
	var telemetryMw []func(http.Handler) http.Handler
	if b.tracerProvider != nil {
		telemetryMw = append(telemetryMw, telemetry.TracingMiddleware(b.tracerProvider))
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		telemetryMw = append(telemetryMw, metricsMiddleware)
		slog.Info("HTTP metrics middleware enabled")
	}
	middlewares := append(telemetryMw, b.middlewares...)

	svc := &v1.Services{
		Scheduler:     c.Scheduler,
		Sources:       c.Sources,
		Store:         c.Store,
		Resolver:      c.Resolver,
		Enricher:      c.Enricher,
		Subscriptions: c.Subscriptions,
		Monitor:       c.Monitor,
	}
	serverOpts := []api.ServerOption{
		api.WithMiddlewares(middlewares...),
		api.WithReadiness(c.Store.Ping),
	}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}
	router := api.NewServer(svc, c.Gateway, serverOpts...)

	server := &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadTimeout:       b.readTimeout,
		ReadHeaderTimeout: b.readTimeout,
		WriteTimeout:      b.writeTimeout,
		IdleTimeout:       b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
