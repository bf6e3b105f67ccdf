package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/reconcile"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
)

// EntitySyncer reconciles one record fetched from a source
type EntitySyncer interface {
	SyncEntity(ctx context.Context, source string, kind models.EntityKind, externalID string) (*reconcile.Outcome, error)
}

// ManualSyncer starts an ad-hoc sync of a source
type ManualSyncer interface {
	TriggerManualSync(ctx context.Context, source string, req scheduler.ManualSyncRequest) (*models.SyncExecution, error)
}

// EntityResult is the delivery result of a single-entity handler
type EntityResult struct {
	EntityID   string `json:"entityId"`
	Kind       string `json:"kind"`
	ExternalID string `json:"externalId"`
	Created    bool   `json:"created"`
	Conflicts  int    `json:"conflicts"`
}

// ScanResult is the delivery result of a scan completion handler
type ScanResult struct {
	ScanID      string `json:"scanId"`
	ExecutionID string `json:"executionId,omitempty"`
	Status      string `json:"status"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
}

func idSchema(field string) string {
	return fmt.Sprintf(`{
  "type": "object",
  "required": [%q],
  "properties": {%q: {"type": "string", "minLength": 1}}
}`, field, field)
}

// entityHandler syncs the single record named by payload[field]
func entityHandler(syncer EntitySyncer, kind models.EntityKind, field string) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage, sub *models.WebhookSubscription) (any, error) {
		var body map[string]any
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, models.NewValidationError("payload", "invalid JSON: %v", err)
		}
		externalID, _ := body[field].(string)
		outcome, err := syncer.SyncEntity(ctx, sub.Source, kind, externalID)
		if err != nil {
			return nil, err
		}
		return &EntityResult{
			EntityID:   outcome.Entity.ID.String(),
			Kind:       string(kind),
			ExternalID: externalID,
			Created:    outcome.Created,
			Conflicts:  len(outcome.Conflicts),
		}, nil
	}
}

// scanCompletedHandler re-syncs the source's vulnerabilities after a scan finishes
func scanCompletedHandler(syncer ManualSyncer) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage, sub *models.WebhookSubscription) (any, error) {
		var body struct {
			ScanID string `json:"scanId"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, models.NewValidationError("payload", "invalid JSON: %v", err)
		}
		exec, err := syncer.TriggerManualSync(ctx, sub.Source, scheduler.ManualSyncRequest{
			Filters: map[string]any{"kinds": []any{string(models.KindVulnerability)}},
		})
		if errors.Is(err, scheduler.ErrJobInFlight) {
			return &ScanResult{ScanID: body.ScanID, Status: "skipped"}, nil
		}
		if err != nil {
			return nil, err
		}
		if exec.Status == models.ExecutionFailed && len(exec.Errors) > 0 {
			return nil, fmt.Errorf("vulnerability sync %s failed: %s", exec.ID, exec.Errors[0])
		}
		return &ScanResult{
			ScanID:      body.ScanID,
			ExecutionID: exec.ID,
			Status:      string(exec.Status),
			Created:     exec.RecordsCreated,
			Updated:     exec.RecordsUpdated,
		}, nil
	}
}

// BuiltinHandlers returns the handlers for a source speaking the given flavor
func BuiltinHandlers(source, flavor string, entities EntitySyncer, manual ManualSyncer) []HandlerSpec {
	entity := func(eventType string, kind models.EntityKind, field string) HandlerSpec {
		return HandlerSpec{
			Source:    source,
			EventType: eventType,
			Schema:    idSchema(field),
			Handle:    entityHandler(entities, kind, field),
		}
	}

	switch flavor {
	case config.SourceTypeTenable:
		return []HandlerSpec{
			entity("assetUpdated", models.KindAsset, "assetId"),
			entity("vulnerabilityUpdated", models.KindVulnerability, "vulnerabilityId"),
			{
				Source:    source,
				EventType: "scanCompleted",
				Schema:    idSchema("scanId"),
				Handle:    scanCompletedHandler(manual),
			},
		}
	case config.SourceTypeXacta:
		return []HandlerSpec{
			entity("controlUpdated", models.KindControl, "controlId"),
			entity("poamUpdated", models.KindPOAM, "poamId"),
			entity("systemUpdated", models.KindSystem, "systemId"),
		}
	default:
		return nil
	}
}
