package enrichment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stacklok/integration-sync/internal/httpclient"
	"github.com/stacklok/integration-sync/internal/models"
)

// HTTPScorer posts entities to an external scoring service
type HTTPScorer struct {
	model    string
	endpoint string
	client   httpclient.Client
}

var _ Scorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a scorer posting to endpoint through client
func NewHTTPScorer(model, endpoint string, client httpclient.Client) *HTTPScorer {
	if model == "" {
		model = "external"
	}
	return &HTTPScorer{model: model, endpoint: endpoint, client: client}
}

// Model returns the configured model name
func (s *HTTPScorer) Model() string {
	return s.model
}

type scoreRequest struct {
	Model  string         `json:"model"`
	ID     string         `json:"id"`
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields"`
}

// Score posts the entity fields and reads {score, factors, confidence}
func (s *HTTPScorer) Score(ctx context.Context, entity *models.Entity) (*Score, error) {
	req := scoreRequest{
		Model:  s.model,
		ID:     entity.ID.String(),
		Kind:   string(entity.Kind),
		Fields: make(map[string]any, len(entity.Fields)),
	}
	for name, fv := range entity.Fields {
		req.Fields[name] = fv.Value
	}

	body, err := s.client.PostJSON(ctx, s.endpoint, req)
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}
	var score Score
	if err := json.Unmarshal(body, &score); err != nil {
		return nil, fmt.Errorf("failed to decode score: %w", err)
	}
	return &score, nil
}
