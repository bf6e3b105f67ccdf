package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
)

// UpsertEnrichment stores the enrichment, replacing the previous score of the same model
func (s *dbStore) UpsertEnrichment(ctx context.Context, e *models.RiskEnrichment) error {
	ctx, span := s.startSpan(ctx, "dbStore.UpsertEnrichment", "risk_enrichments")
	defer span.End()
	span.SetAttributes(otel.AttrEntityID.String(e.EntityID.String()))

	factors, err := marshalJSON(e.Factors)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO risk_enrichments (entity_id, model, score, factors, confidence, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id, model) DO UPDATE SET
			score = EXCLUDED.score,
			factors = EXCLUDED.factors,
			confidence = EXCLUDED.confidence,
			calculated_at = EXCLUDED.calculated_at`,
		e.EntityID, e.Model, e.Score, factors, e.Confidence, e.CalculatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return models.NewNotFoundError("entity", e.EntityID.String())
	}
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to upsert enrichment: %w", err)
	}
	return nil
}

// ListEnrichments returns the enrichments of an entity ordered by model
func (s *dbStore) ListEnrichments(ctx context.Context, entityID uuid.UUID) ([]*models.RiskEnrichment, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListEnrichments", "risk_enrichments")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, model, score, factors, confidence, calculated_at
		FROM risk_enrichments WHERE entity_id = $1 ORDER BY model`, entityID)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list enrichments: %w", err)
	}
	defer rows.Close()

	var out []*models.RiskEnrichment
	for rows.Next() {
		var (
			e       models.RiskEnrichment
			factors []byte
		)
		if err := rows.Scan(&e.EntityID, &e.Model, &e.Score, &factors, &e.Confidence, &e.CalculatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrichment: %w", err)
		}
		if err := json.Unmarshal(factors, &e.Factors); err != nil {
			return nil, fmt.Errorf("failed to decode enrichment factors: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// EnrichmentCoverage counts entities and entities with at least one enrichment
func (s *dbStore) EnrichmentCoverage(ctx context.Context) (int, int, error) {
	ctx, span := s.startSpan(ctx, "dbStore.EnrichmentCoverage", "risk_enrichments")
	defer span.End()

	var entities, enriched int
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM entities),
			(SELECT count(DISTINCT entity_id) FROM risk_enrichments)`).Scan(&entities, &enriched)
	if err != nil {
		otel.RecordError(span, err)
		return 0, 0, fmt.Errorf("failed to count enrichments: %w", err)
	}
	return entities, enriched, nil
}
