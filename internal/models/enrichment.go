package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskEnrichment is a score attached to an entity by an external scorer.
// There is at most one per (entity, model).
type RiskEnrichment struct {
	EntityID     uuid.UUID          `json:"entityId"`
	Model        string             `json:"model"`
	Score        float64            `json:"score"`
	Factors      map[string]float64 `json:"factors"`
	Confidence   float64            `json:"confidence"`
	CalculatedAt time.Time          `json:"calculatedAt"`
}
