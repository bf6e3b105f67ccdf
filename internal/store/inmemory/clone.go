package inmemory

import (
	"slices"

	"github.com/stacklok/integration-sync/internal/models"
)

func cloneConflict(c *models.Conflict) *models.Conflict {
	if c == nil {
		return nil
	}
	out := *c
	out.StoredValue = models.CloneValue(c.StoredValue)
	out.IncomingValue = models.CloneValue(c.IncomingValue)
	out.ResolvedValue = models.CloneValue(c.ResolvedValue)
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}

func cloneJob(j *models.SyncJob) *models.SyncJob {
	out := *j
	if j.Filters != nil {
		out.Filters = models.CloneValue(j.Filters).(map[string]any)
	}
	return &out
}

func cloneExecution(e *models.SyncExecution) *models.SyncExecution {
	out := *e
	out.Errors = slices.Clone(e.Errors)
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

func cloneSubscription(s *models.WebhookSubscription) *models.WebhookSubscription {
	out := *s
	out.EventTypes = slices.Clone(s.EventTypes)
	return &out
}

func cloneDelivery(d *models.WebhookDelivery) *models.WebhookDelivery {
	out := *d
	out.Payload = slices.Clone(d.Payload)
	out.Result = slices.Clone(d.Result)
	if d.ProcessedAt != nil {
		at := *d.ProcessedAt
		out.ProcessedAt = &at
	}
	return &out
}
