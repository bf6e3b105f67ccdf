package enrichment

import (
	"context"
	"strings"

	"github.com/stacklok/integration-sync/internal/models"
)

// HeuristicModel is the model name of the HeuristicScorer
const HeuristicModel = "heuristic"

// ratingScores maps categorical ratings to the 0-10 scale
var ratingScores = map[string]float64{
	"critical": 10,
	"high":     8,
	"moderate": 5,
	"medium":   5,
	"low":      2,
	"info":     0,
	"none":     0,
}

type factor struct {
	field  string
	weight float64
	scale  float64
	rating bool
}

// factors in order of weight; numeric fields are divided by scale to land on 0-10
var factors = []factor{
	{field: "cvss_base_score", weight: 0.35, scale: 1},
	{field: "vpr_score", weight: 0.25, scale: 1},
	{field: "severity", weight: 0.15, rating: true},
	{field: "criticality", weight: 0.10, rating: true},
	{field: "acr_score", weight: 0.05, scale: 1},
	{field: "exposure_score", weight: 0.05, scale: 100},
	{field: "risk_rating", weight: 0.03, rating: true},
	{field: "impact_level", weight: 0.02, rating: true},
}

// HeuristicScorer scores entities locally from cvss, vpr, severity, criticality and exposure.
// The score is the weighted mean of the factors present; confidence is the share of weight present.
type HeuristicScorer struct{}

var _ Scorer = HeuristicScorer{}

// NewHeuristicScorer creates a HeuristicScorer
func NewHeuristicScorer() HeuristicScorer {
	return HeuristicScorer{}
}

// Model returns "heuristic"
func (HeuristicScorer) Model() string {
	return HeuristicModel
}

// Score computes the weighted factor mean
func (HeuristicScorer) Score(_ context.Context, entity *models.Entity) (*Score, error) {
	var total, weight, possible float64
	found := map[string]float64{}
	for _, f := range factors {
		possible += f.weight
		value, ok := factorValue(entity.Value(f.field), f)
		if !ok {
			continue
		}
		found[f.field] = value
		total += value * f.weight
		weight += f.weight
	}
	if weight == 0 {
		return nil, ErrNotScorable
	}
	return &Score{
		Score:      total / weight,
		Factors:    found,
		Confidence: weight / possible,
	}, nil
}

func factorValue(v any, f factor) (float64, bool) {
	if models.IsNull(v) {
		return 0, false
	}
	if f.rating {
		s, ok := v.(string)
		if !ok {
			return 0, false
		}
		score, ok := ratingScores[strings.ToLower(strings.TrimSpace(s))]
		return score, ok
	}
	n, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return n / f.scale, true
}
