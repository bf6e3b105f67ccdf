// Package enrichment scores canonical entities for risk and stores the result per model.
package enrichment

import (
	"context"
	"errors"

	"github.com/stacklok/integration-sync/internal/models"
)

//go:generate mockgen -destination=mocks/mock_scorer.go -package=mocks -source=scorer.go Scorer

// ErrNotScorable is returned when an entity carries none of the fields a scorer uses
var ErrNotScorable = errors.New("entity has no scoring factors")

// Score is the raw output of a Scorer
type Score struct {
	Score      float64            `json:"score"`
	Factors    map[string]float64 `json:"factors"`
	Confidence float64            `json:"confidence"`
}

// Scorer computes a risk score for an entity
type Scorer interface {
	// Model names the scoring model; enrichments are stored per (entity, model)
	Model() string

	// Score computes the score of entity
	Score(ctx context.Context, entity *models.Entity) (*Score, error)
}
