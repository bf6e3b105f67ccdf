package enrichment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/enrichment"
	"github.com/stacklok/integration-sync/internal/enrichment/mocks"
	"github.com/stacklok/integration-sync/internal/httpclient"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/store/inmemory"
)

var calculatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// storedEntity creates an entity through the store so enrichments can reference it
func storedEntity(t *testing.T, s store.Store, kind models.EntityKind, fields map[string]any) *models.Entity {
	t.Helper()
	res, err := s.ApplyEntity(context.Background(),
		models.EntityRef{Source: "tenable", Kind: kind, ExternalID: "ext-1"},
		func(*models.Entity) (*models.Entity, []*models.Conflict, error) {
			e := &models.Entity{
				Kind:   kind,
				Fields: map[string]models.FieldValue{},
				Links:  []models.ExternalRef{{Source: "tenable", ExternalID: "ext-1"}},
			}
			for k, v := range fields {
				e.Fields[k] = models.FieldValue{Value: v, Source: "tenable", UpdatedAt: calculatedAt}
			}
			return e, nil, nil
		})
	require.NoError(t, err)
	return res.Entity
}

func TestEnrichClampsAndRounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		score          float64
		confidence     float64
		wantScore      float64
		wantConfidence float64
	}{
		{name: "rounds to two places", score: 7.4567, confidence: 0.8333, wantScore: 7.46, wantConfidence: 0.83},
		{name: "clamps above ten", score: 12.5, confidence: 1.7, wantScore: 10, wantConfidence: 1},
		{name: "clamps below zero", score: -3, confidence: -0.1, wantScore: 0, wantConfidence: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			s := inmemory.New()
			entity := storedEntity(t, s, models.KindVulnerability, map[string]any{"severity": "high"})

			scorer := mocks.NewMockScorer(ctrl)
			scorer.EXPECT().Model().Return("mock").AnyTimes()
			scorer.EXPECT().Score(gomock.Any(), entity).
				Return(&enrichment.Score{Score: tt.score, Confidence: tt.confidence}, nil)

			e := enrichment.NewEnricher(scorer, s, func() time.Time { return calculatedAt })
			got, err := e.Enrich(context.Background(), entity)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, got.Score, 1e-9)
			assert.InDelta(t, tt.wantConfidence, got.Confidence, 1e-9)
			assert.Equal(t, calculatedAt, got.CalculatedAt)

			stored, err := s.ListEnrichments(context.Background(), entity.ID)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, "mock", stored[0].Model)
		})
	}
}

func TestEnrichScorerError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	s := inmemory.New()
	entity := storedEntity(t, s, models.KindControl, nil)

	scorer := mocks.NewMockScorer(ctrl)
	scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(nil, enrichment.ErrNotScorable)

	_, err := enrichment.NewEnricher(scorer, s, nil).Enrich(context.Background(), entity)
	assert.ErrorIs(t, err, enrichment.ErrNotScorable)

	entities, enriched, err := s.EnrichmentCoverage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, entities)
	assert.Equal(t, 0, enriched)
}

func TestHeuristicScorer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		fields         map[string]any
		wantScore      float64
		wantConfidence float64
		wantErr        error
	}{
		{
			name:           "vulnerability with cvss, vpr and severity",
			fields:         map[string]any{"cvss_base_score": 9.8, "vpr_score": 8.4, "severity": "critical"},
			wantScore:      (9.8*0.35 + 8.4*0.25 + 10*0.15) / 0.75,
			wantConfidence: 0.75,
		},
		{
			name:           "asset with criticality and exposure",
			fields:         map[string]any{"criticality": "High", "exposure_score": float64(650)},
			wantScore:      (8*0.10 + 6.5*0.05) / 0.15,
			wantConfidence: 0.15,
		},
		{
			name:    "unknown rating and no numbers",
			fields:  map[string]any{"criticality": "unrated", "title": "AC-2"},
			wantErr: enrichment.ErrNotScorable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			entity := &models.Entity{Fields: map[string]models.FieldValue{}}
			for k, v := range tt.fields {
				entity.Fields[k] = models.FieldValue{Value: v}
			}
			score, err := enrichment.NewHeuristicScorer().Score(context.Background(), entity)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, score.Score, 1e-9)
			assert.InDelta(t, tt.wantConfidence, score.Confidence, 1e-9)
		})
	}
}

func TestHTTPScorer(t *testing.T) {
	t.Parallel()

	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"score": 6.2, "factors": {"exploitability": 0.9}, "confidence": 0.7}`))
	}))
	t.Cleanup(server.Close)

	scorer, err := enrichment.NewScorer(&config.EnrichmentConfig{
		Type: config.ScorerTypeHTTP, Model: "riskapi", Endpoint: server.URL, Timeout: "5s",
	})
	require.NoError(t, err)
	assert.Equal(t, "riskapi", scorer.Model())

	entity := &models.Entity{Kind: models.KindAsset, Fields: map[string]models.FieldValue{"hostname": {Value: "web01"}}}
	score, err := scorer.Score(context.Background(), entity)
	require.NoError(t, err)
	assert.InDelta(t, 6.2, score.Score, 1e-9)
	assert.InDelta(t, 0.9, score.Factors["exploitability"], 1e-9)
	assert.Equal(t, "riskapi", got["model"])
	assert.Equal(t, map[string]any{"hostname": "web01"}, got["fields"])
}

func TestHTTPScorerFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	scorer := enrichment.NewHTTPScorer("", server.URL, nil)
	assert.Equal(t, "external", scorer.Model())
	_, err := enrichment.NewHTTPScorer("riskapi", server.URL, httpclient.NewDefaultClient()).Score(context.Background(), &models.Entity{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, enrichment.ErrNotScorable))
}

func TestNewScorer(t *testing.T) {
	t.Parallel()

	scorer, err := enrichment.NewScorer(nil)
	require.NoError(t, err)
	assert.Equal(t, enrichment.HeuristicModel, scorer.Model())

	_, err = enrichment.NewScorer(&config.EnrichmentConfig{Type: "oracle"})
	assert.Error(t, err)
}
