package health

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/sources"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/telemetry"
)

const (
	defaultInterval       = 5 * time.Minute
	defaultConnectTimeout = 10 * time.Second
)

// DefaultWeights are the score contributions of sync, webhook and conflict resolution
var DefaultWeights = config.HealthWeights{Sync: 0.4, Webhook: 0.3, Conflict: 0.3}

// Option configures a Monitor
type Option func(*Monitor)

// WithWeights overrides DefaultWeights
func WithWeights(w config.HealthWeights) Option {
	return func(m *Monitor) {
		m.weights = w
	}
}

// WithThresholds overlays configured thresholds on DefaultThresholds
func WithThresholds(t map[string]config.ThresholdConfig) Option {
	return func(m *Monitor) {
		m.thresholds = thresholdsFrom(t)
	}
}

// WithCache sets where computed dashboards are kept
func WithCache(c Cache) Option {
	return func(m *Monitor) {
		m.cache = c
	}
}

// WithInterval sets the refresh interval of Start. The cache TTL is twice the interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithConnectTimeout bounds each source connection test
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithMetrics records the overall score on every computation
func WithMetrics(metrics *telemetry.HealthMetrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer for computation spans
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Monitor) {
		m.tracer = tracer
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// FromConfig translates the health section of the configuration into options
func FromConfig(cfg config.HealthConfig) []Option {
	opts := []Option{
		WithInterval(cfg.GetInterval()),
		WithThresholds(cfg.Thresholds),
	}
	if cfg.Weights != nil {
		opts = append(opts, WithWeights(*cfg.Weights))
	}
	return opts
}

// Monitor derives the health dashboard from execution and delivery logs.
// It only reads state owned by the other components.
type Monitor struct {
	store    store.Store
	registry *sources.Registry
	cache    Cache

	weights        config.HealthWeights
	thresholds     map[string]Threshold
	interval       time.Duration
	connectTimeout time.Duration
	metrics        *telemetry.HealthMetrics
	tracer         trace.Tracer
	now            func() time.Time

	// Lifecycle management
	lifecycleMu sync.Mutex
	cancelFunc  context.CancelFunc
	done        chan struct{}
}

// NewMonitor creates a Monitor. Without WithCache dashboards are cached in memory.
func NewMonitor(st store.Store, registry *sources.Registry, opts ...Option) *Monitor {
	m := &Monitor{
		store:          st,
		registry:       registry,
		weights:        DefaultWeights,
		thresholds:     DefaultThresholds(),
		interval:       defaultInterval,
		connectTimeout: defaultConnectTimeout,
		now:            time.Now,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = NewMemoryCache()
	}
	return m
}

// Start refreshes the cached dashboard immediately and then every interval.
// It blocks until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.lifecycleMu.Lock()
	m.cancelFunc = cancel
	m.lifecycleMu.Unlock()
	defer func() {
		cancel()
		close(m.done)
		slog.Info("Health monitor shut down")
	}()

	slog.Info("Starting health monitor", "interval", m.interval)
	m.refreshLogged(runCtx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return nil
		case <-ticker.C:
			m.refreshLogged(runCtx)
		}
	}
}

// Stop ends the refresh loop and waits for Start to return
func (m *Monitor) Stop() {
	m.lifecycleMu.Lock()
	cancel := m.cancelFunc
	m.lifecycleMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-m.done
}

func (m *Monitor) refreshLogged(ctx context.Context) {
	if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("Health refresh failed", "error", err)
	}
}

// Dashboard returns the cached dashboard, computing it on a miss
func (m *Monitor) Dashboard(ctx context.Context) (*Dashboard, error) {
	cached, err := m.cache.Get(ctx)
	if err != nil {
		slog.Warn("Health cache read failed, recomputing", "error", err)
	}
	if cached != nil {
		return cached, nil
	}
	return m.Refresh(ctx)
}

// Refresh computes the dashboard and stores it in the cache.
// A cache write failure is logged and the fresh dashboard is still returned.
func (m *Monitor) Refresh(ctx context.Context) (*Dashboard, error) {
	d, err := m.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Set(ctx, d, 2*m.interval); err != nil {
		slog.Warn("Health cache write failed", "error", err)
	}
	return d, nil
}

// Compute derives a fresh dashboard. Sections are computed concurrently and a failing
// section is reported in Dashboard.Errors rather than failing the call.
func (m *Monitor) Compute(ctx context.Context) (*Dashboard, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "health.Compute")
	defer span.End()

	now := m.now()
	d := &Dashboard{}

	var (
		errMu    sync.Mutex
		sections = map[string]string{}
		g        errgroup.Group
	)
	section := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				slog.Warn("Health section failed", "section", name, "error", err)
				errMu.Lock()
				sections[name] = err.Error()
				errMu.Unlock()
			}
			return nil
		})
	}

	var syncComponent float64
	section(SectionSync, func() (err error) {
		d.SyncHealth, syncComponent, err = m.syncHealth(ctx, now)
		return err
	})
	section(SectionWebhook, func() (err error) {
		d.WebhookHealth, err = m.webhookHealth(ctx, now)
		return err
	})
	section(SectionQuality, func() (err error) {
		d.DataQuality, err = m.dataQuality(ctx)
		return err
	})
	section(SectionConflicts, func() (err error) {
		d.Conflicts, err = m.conflicts(ctx)
		return err
	})
	section(SectionEnrichment, func() (err error) {
		d.Enrichment, err = m.enrichment(ctx)
		return err
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(sections) > 0 {
		d.Errors = sections
	}

	components := Components{Sync: syncComponent}
	if d.WebhookHealth != nil {
		components.Webhook = d.WebhookHealth.SuccessRate24h
	}
	if d.Conflicts != nil {
		components.Conflict = d.Conflicts.ResolutionRate
	}
	score := m.score(components)
	d.Overview = Overview{
		Score:      score,
		Status:     Band(score),
		ComputedAt: now,
		Components: components,
	}
	d.Alerts = m.alerts(d)

	m.metrics.RecordScore(ctx, score, d.Overview.Status)
	return d, nil
}

// score is the weighted mean of the components on a 0-100 scale
func (m *Monitor) score(c Components) float64 {
	w := m.weights
	total := w.Sync + w.Webhook + w.Conflict
	if total <= 0 {
		w, total = DefaultWeights, 1
	}
	sum := w.Sync*c.Sync + w.Webhook*c.Webhook + w.Conflict*c.Conflict
	return round(100*sum/total, 1)
}

// syncHealth summarizes each source's executions of the trailing 24 hours.
// The returned component is the mean 24h success rate, counting unreachable sources as 0.
func (m *Monitor) syncHealth(ctx context.Context, now time.Time) ([]SourceSyncHealth, float64, error) {
	names := m.registry.Names()
	out := make([]SourceSyncHealth, 0, len(names))
	if len(names) == 0 {
		return out, 1, nil
	}

	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)
	var component float64
	for _, name := range names {
		execs, err := m.store.ListExecutions(ctx,
			store.WithSource(name), store.WithSince(dayAgo), store.WithLimit(store.MaxListLimit))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list executions of %s: %w", name, err)
		}

		h := SourceSyncHealth{Source: name, Connected: m.connected(ctx, name)}
		var (
			ok1h, total1h, ok24h int
			sumMs                int64
		)
		for _, e := range execs {
			if !e.Status.Terminal() {
				continue
			}
			if h.LastRunAt == nil {
				started := e.StartedAt
				h.LastRunAt = &started
			}
			h.Executions24h++
			ms := e.Duration().Milliseconds()
			sumMs += ms
			h.MaxDurationMs = max(h.MaxDurationMs, ms)
			succeeded := e.Status == models.ExecutionCompleted
			if succeeded {
				ok24h++
			} else {
				h.Failures24h++
				if h.LastError == "" && len(e.Errors) > 0 {
					h.LastError = e.Errors[0]
				}
			}
			if !e.StartedAt.Before(hourAgo) {
				total1h++
				if succeeded {
					ok1h++
				}
			}
		}
		if h.Executions24h > 0 {
			h.AvgDurationMs = sumMs / int64(h.Executions24h)
		}
		h.SuccessRate1h = ratio(ok1h, total1h)
		h.SuccessRate24h = ratio(ok24h, h.Executions24h)
		if h.Connected {
			component += h.SuccessRate24h
		}
		out = append(out, h)
	}
	return out, round(component/float64(len(names)), 4), nil
}

func (m *Monitor) connected(ctx context.Context, name string) bool {
	adapter, err := m.registry.Get(name)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	if err := adapter.TestConnection(ctx); err != nil {
		slog.Warn("Source connection test failed", "source", name, "error", err)
		return false
	}
	return true
}

// webhookHealth summarizes processed deliveries of the trailing 24 hours
func (m *Monitor) webhookHealth(ctx context.Context, now time.Time) (*WebhookHealth, error) {
	deliveries, err := m.store.ListDeliveries(ctx,
		store.WithSince(now.Add(-24*time.Hour)), store.WithLimit(store.MaxListLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	type tally struct {
		ok1h, total1h, ok24h, total24h int
		sumMs                          int64
	}
	hourAgo := now.Add(-time.Hour)
	bySource := map[string]*tally{}
	var order []string
	var all tally
	for _, dl := range deliveries {
		if dl.Status == models.DeliveryProcessing {
			continue
		}
		t, ok := bySource[dl.Source]
		if !ok {
			t = &tally{}
			bySource[dl.Source] = t
			order = append(order, dl.Source)
		}
		succeeded := dl.Status == models.DeliveryCompleted
		for _, c := range []*tally{t, &all} {
			c.total24h++
			c.sumMs += dl.DurationMs
			if succeeded {
				c.ok24h++
			}
			if !dl.ReceivedAt.Before(hourAgo) {
				c.total1h++
				if succeeded {
					c.ok1h++
				}
			}
		}
	}
	avg := func(t *tally) int64 {
		if t.total24h == 0 {
			return 0
		}
		return t.sumMs / int64(t.total24h)
	}

	h := &WebhookHealth{
		Sources:        make([]SourceWebhookHealth, 0, len(order)),
		SuccessRate24h: ratio(all.ok24h, all.total24h),
		AvgDurationMs:  avg(&all),
		Total24h:       all.total24h,
		Failed24h:      all.total24h - all.ok24h,
	}
	slices.Sort(order)
	for _, src := range order {
		t := bySource[src]
		h.Sources = append(h.Sources, SourceWebhookHealth{
			Source:         src,
			SuccessRate1h:  ratio(t.ok1h, t.total1h),
			SuccessRate24h: ratio(t.ok24h, t.total24h),
			AvgDurationMs:  avg(t),
			Deliveries24h:  t.total24h,
			Failures24h:    t.total24h - t.ok24h,
		})
	}
	return h, nil
}

// dataQuality is the share of canonical fields that are populated
func (m *Monitor) dataQuality(ctx context.Context) (*DataQuality, error) {
	coverage, err := m.store.FieldCoverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read field coverage: %w", err)
	}
	q := &DataQuality{Completeness: map[string]float64{}}
	var filled, possible int
	for kind, cov := range coverage {
		fields := models.CanonicalFields(kind)
		if len(fields) == 0 || cov.Entities == 0 {
			continue
		}
		var n int
		for _, f := range fields {
			n += min(cov.FieldCounts[f], cov.Entities)
		}
		total := len(fields) * cov.Entities
		q.Completeness[string(kind)] = ratio(n, total)
		filled += n
		possible += total
	}
	q.Overall = ratio(filled, possible)
	return q, nil
}

func (m *Monitor) conflicts(ctx context.Context) (*ConflictHealth, error) {
	stats, err := m.store.ConflictStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read conflict statistics: %w", err)
	}
	return &ConflictHealth{
		Pending:        stats.Pending,
		Resolved:       stats.Resolved,
		AutoResolved:   stats.AutoResolved,
		ResolutionRate: ratio(stats.Resolved, stats.Total()),
	}, nil
}

func (m *Monitor) enrichment(ctx context.Context) (*EnrichmentHealth, error) {
	entities, enriched, err := m.store.EnrichmentCoverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read enrichment coverage: %w", err)
	}
	return &EnrichmentHealth{
		Entities: entities,
		Enriched: enriched,
		Coverage: ratio(enriched, entities),
	}, nil
}

// alerts compares every computed metric against its threshold. Missing sections raise nothing.
func (m *Monitor) alerts(d *Dashboard) []Alert {
	alerts := check([]Alert{}, m.thresholds, MetricOverallScore, "", d.Overview.Score)
	for _, s := range d.SyncHealth {
		rate := s.SuccessRate24h
		if !s.Connected {
			rate = 0
		}
		alerts = check(alerts, m.thresholds, MetricSyncSuccessRate, s.Source, rate)
		if s.Executions24h > 0 {
			alerts = check(alerts, m.thresholds, MetricSyncDurationMs, s.Source, float64(s.AvgDurationMs))
		}
	}
	if d.WebhookHealth != nil {
		alerts = check(alerts, m.thresholds, MetricWebhookSuccessRate, "", d.WebhookHealth.SuccessRate24h)
	}
	if d.Conflicts != nil {
		alerts = check(alerts, m.thresholds, MetricPendingConflicts, "", float64(d.Conflicts.Pending))
	}
	if d.DataQuality != nil {
		alerts = check(alerts, m.thresholds, MetricDataCompleteness, "", d.DataQuality.Overall)
	}
	if d.Enrichment != nil {
		alerts = check(alerts, m.thresholds, MetricEnrichmentCoverage, "", d.Enrichment.Coverage)
	}
	return alerts
}
