package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/httpclient"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
)

var (
	minScore      = decimal.Zero
	maxScore      = decimal.NewFromInt(10)
	maxConfidence = decimal.NewFromInt(1)
)

// Enricher scores entities and stores the enrichment
type Enricher struct {
	scorer Scorer
	store  store.EnrichmentStore
	now    func() time.Time
}

// NewEnricher creates an Enricher. A nil clock uses time.Now.
func NewEnricher(scorer Scorer, s store.EnrichmentStore, now func() time.Time) *Enricher {
	if now == nil {
		now = time.Now
	}
	return &Enricher{scorer: scorer, store: s, now: now}
}

// Model returns the model name of the underlying scorer
func (e *Enricher) Model() string {
	return e.scorer.Model()
}

// Enrich scores entity, clamps the score to [0,10] with two decimals and upserts it
func (e *Enricher) Enrich(ctx context.Context, entity *models.Entity) (*models.RiskEnrichment, error) {
	score, err := e.scorer.Score(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to score entity %s: %w", entity.ID, err)
	}

	enrichment := &models.RiskEnrichment{
		EntityID:     entity.ID,
		Model:        e.scorer.Model(),
		Score:        clamp(decimal.NewFromFloat(score.Score), minScore, maxScore),
		Factors:      score.Factors,
		Confidence:   clamp(decimal.NewFromFloat(score.Confidence), minScore, maxConfidence),
		CalculatedAt: e.now().UTC(),
	}
	if enrichment.Factors == nil {
		enrichment.Factors = map[string]float64{}
	}
	if err := e.store.UpsertEnrichment(ctx, enrichment); err != nil {
		return nil, fmt.Errorf("failed to store enrichment: %w", err)
	}
	return enrichment, nil
}

func clamp(d, lo, hi decimal.Decimal) float64 {
	switch {
	case d.LessThan(lo):
		d = lo
	case d.GreaterThan(hi):
		d = hi
	}
	return d.Round(2).InexactFloat64()
}

// NewScorer builds the scorer selected by cfg. A nil config yields the heuristic scorer.
func NewScorer(cfg *config.EnrichmentConfig) (Scorer, error) {
	if cfg == nil || cfg.Type == config.ScorerTypeHeuristic {
		return NewHeuristicScorer(), nil
	}
	if cfg.Type != config.ScorerTypeHTTP {
		return nil, fmt.Errorf("unsupported scorer type '%s'", cfg.Type)
	}

	opts := []httpclient.Option{}
	if cfg.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid enrichment timeout: %w", err)
		}
		opts = append(opts, httpclient.WithTimeout(timeout))
	}
	if cfg.TokenFile != "" {
		token, err := config.ReadSecret(cfg.TokenFile, "")
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpclient.WithHeaders(func(h http.Header) {
			h.Set("Authorization", "Bearer "+token)
		}))
	}
	return NewHTTPScorer(cfg.Model, cfg.Endpoint, httpclient.NewDefaultClient(opts...)), nil
}
