// Package storetest holds the behavioural tests every store.Store implementation must pass
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
)

// Factory returns an empty store for one test
type Factory func(t *testing.T) store.Store

// Run runs the conformance suite against the stores produced by newStore
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ApplyEntityCreatesAndMatchesByLink", testApplyEntityByLink},
		{"ApplyEntityMatchesByCorrelationKey", testApplyEntityByCorrelation},
		{"ApplyEntityNilLeavesStorageUnchanged", testApplyEntityNoop},
		{"ApplyEntityRejectsForeignLink", testApplyEntityForeignLink},
		{"PendingConflictsAreDeduplicated", testConflictDedup},
		{"ResolveConflict", testResolveConflict},
		{"ListEntities", testListEntities},
		{"FieldCoverage", testFieldCoverage},
		{"Jobs", testJobs},
		{"Executions", testExecutions},
		{"Subscriptions", testSubscriptions},
		{"Deliveries", testDeliveries},
		{"Enrichments", testEnrichments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// now is truncated to the precision PostgreSQL keeps
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newEntity(kind models.EntityKind, source, externalID, correlationKey string, fields map[string]any) *models.Entity {
	at := now()
	e := &models.Entity{
		ID:             uuid.New(),
		Kind:           kind,
		CorrelationKey: correlationKey,
		Fields:         map[string]models.FieldValue{},
		Links:          []models.ExternalRef{{Source: source, ExternalID: externalID}},
		BatchID:        "batch-1",
		Raw:            map[string]json.RawMessage{source: json.RawMessage(`{"id":"` + externalID + `"}`)},
		UpdatedAt:      at,
	}
	for k, v := range fields {
		e.Fields[k] = models.FieldValue{Value: models.Canonicalize(v), Source: source, UpdatedAt: at}
	}
	return e
}

// create stores e unless something already matches its first link
func create(t *testing.T, s store.Store, e *models.Entity) *models.Entity {
	t.Helper()
	ref := models.EntityRef{Source: e.Links[0].Source, Kind: e.Kind, ExternalID: e.Links[0].ExternalID, CorrelationKey: e.CorrelationKey}
	res, err := s.ApplyEntity(context.Background(), ref, func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
		require.Nil(t, current)
		return e, nil, nil
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Entity
}

func testApplyEntityByLink(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := create(t, s, newEntity(models.KindAsset, "tenable", "a-1", "a-1", map[string]any{"hostname": "web-1"}))
	assert.False(t, created.CreatedAt.IsZero())

	ref := models.EntityRef{Source: "tenable", Kind: models.KindAsset, ExternalID: "a-1"}
	res, err := s.ApplyEntity(ctx, ref, func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
		require.NotNil(t, current)
		assert.Equal(t, created.ID, current.ID)
		current.Fields["hostname"] = models.FieldValue{Value: "web-1b", Source: "tenable", UpdatedAt: now()}
		current.BatchID = "batch-2"
		return current, nil, nil
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "batch-2", res.Entity.BatchID)

	found, err := s.FindEntity(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "web-1b", found.Value("hostname"))
	assert.Equal(t, created.CreatedAt, found.CreatedAt)

	got, err := s.GetEntity(ctx, created.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a-1"}`, string(got.Raw["tenable"]))

	_, err = s.GetEntity(ctx, uuid.New())
	assert.True(t, models.IsNotFound(err))
	_, err = s.FindEntity(ctx, models.EntityRef{Source: "xacta", Kind: models.KindAsset, ExternalID: "a-1"})
	assert.True(t, models.IsNotFound(err))
}

func testApplyEntityByCorrelation(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := create(t, s, newEntity(models.KindAsset, "tenable", "a-1", "a-1", map[string]any{"hostname": "web-1"}))

	ref := models.EntityRef{Source: "xacta", Kind: models.KindAsset, ExternalID: "SYS-1:a-1", CorrelationKey: "a-1"}
	res, err := s.ApplyEntity(ctx, ref, func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
		require.NotNil(t, current)
		current.Links = append(current.Links, models.ExternalRef{Source: "xacta", ExternalID: "SYS-1:a-1"})
		current.Fields["system_id"] = models.FieldValue{Value: "SYS-1", Source: "xacta", UpdatedAt: now()}
		return current, nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, res.Entity.ID)

	found, err := s.FindEntity(ctx, models.EntityRef{Source: "xacta", Kind: models.KindAsset, ExternalID: "SYS-1:a-1"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.True(t, found.HasLink("tenable", "a-1"))
	assert.True(t, found.HasLink("xacta", "SYS-1:a-1"))

	// a correlation key of another kind does not match
	res, err = s.ApplyEntity(ctx, models.EntityRef{Source: "tenable", Kind: models.KindVulnerability, ExternalID: "v-1", CorrelationKey: "a-1"},
		func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
			assert.Nil(t, current)
			return newEntity(models.KindVulnerability, "tenable", "v-1", "a-1", nil), nil, nil
		})
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func testApplyEntityNoop(t *testing.T, s store.Store) {
	ctx := context.Background()
	ref := models.EntityRef{Source: "tenable", Kind: models.KindAsset, ExternalID: "a-1"}
	res, err := s.ApplyEntity(ctx, ref, func(*models.Entity) (*models.Entity, []*models.Conflict, error) {
		return nil, nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, res.Entity)
	assert.False(t, res.Created)

	_, err = s.FindEntity(ctx, ref)
	assert.True(t, models.IsNotFound(err))
}

func testApplyEntityForeignLink(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, newEntity(models.KindAsset, "tenable", "a-1", "", nil))
	create(t, s, newEntity(models.KindAsset, "tenable", "a-2", "", nil))

	_, err := s.ApplyEntity(ctx, models.EntityRef{Source: "tenable", Kind: models.KindAsset, ExternalID: "a-2"},
		func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
			current.Links = append(current.Links, models.ExternalRef{Source: "tenable", ExternalID: "a-1"})
			return current, nil, nil
		})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func pendingConflict(field string, stored, incoming any) *models.Conflict {
	at := now()
	return &models.Conflict{
		EntityKind:     models.KindAsset,
		Field:          field,
		StoredValue:    stored,
		StoredSource:   "tenable",
		StoredAt:       at,
		IncomingValue:  incoming,
		IncomingSource: "xacta",
		IncomingAt:     at,
		Severity:       models.SeverityHigh,
		Status:         models.ConflictPending,
	}
}

func applyConflicts(t *testing.T, s store.Store, e *models.Entity, conflicts ...*models.Conflict) *store.ApplyResult {
	t.Helper()
	ref := models.EntityRef{Source: e.Links[0].Source, Kind: e.Kind, ExternalID: e.Links[0].ExternalID}
	res, err := s.ApplyEntity(context.Background(), ref, func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
		return current, conflicts, nil
	})
	require.NoError(t, err)
	return res
}

func testConflictDedup(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := create(t, s, newEntity(models.KindAsset, "tenable", "a-1", "", map[string]any{"criticality": "high"}))

	first := applyConflicts(t, s, e, pendingConflict("criticality", "high", "medium"))
	require.Len(t, first.Conflicts, 1)
	firstID := first.Conflicts[0].ID
	assert.NotEqual(t, uuid.Nil, firstID)
	assert.Equal(t, e.ID, first.Conflicts[0].EntityID)
	assert.True(t, first.Conflicts[0].Created)

	second := applyConflicts(t, s, e, pendingConflict("criticality", "high", "low"))
	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, firstID, second.Conflicts[0].ID)
	assert.False(t, second.Conflicts[0].Created, "a refreshed duplicate is not a new conflict")

	auto := pendingConflict("title", "a", "b")
	auto.Severity = models.SeverityLow
	auto.Status = models.ConflictResolved
	auto.ResolvedValue = "b"
	auto.ResolvedBy = models.ResolvedBySystem
	at := now()
	auto.ResolvedAt = &at
	assert.True(t, applyConflicts(t, s, e, auto).Conflicts[0].Created)

	pending, err := s.ListConflicts(ctx, store.WithStatus(string(models.ConflictPending)))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "low", pending[0].IncomingValue)
	assert.False(t, pending[0].Created)

	byEntity, err := s.ListConflicts(ctx, store.WithEntityID(e.ID))
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)

	stats, err := s.ConflictStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictStats{Pending: 1, Resolved: 1, AutoResolved: 1}, stats)

	_, err = s.ListConflicts(ctx, store.WithStatus("ignored"))
	assert.True(t, models.IsValidation(err))
}

func testResolveConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := create(t, s, newEntity(models.KindAsset, "tenable", "a-1", "", map[string]any{"criticality": "high"}))
	c := applyConflicts(t, s, e, pendingConflict("criticality", "high", "medium")).Conflicts[0]

	resolve := func(conflict *models.Conflict, entity *models.Entity) error {
		at := now()
		conflict.Status = models.ConflictResolved
		conflict.ResolvedValue = "medium"
		conflict.ResolvedBy = "analyst"
		conflict.ResolvedAt = &at
		entity.Fields["criticality"] = models.FieldValue{Value: "medium", Source: "xacta", UpdatedAt: at}
		return nil
	}
	resolved, entity, err := s.ResolveConflict(ctx, c.ID, resolve)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictResolved, resolved.Status)
	assert.Equal(t, "medium", entity.Value("criticality"))

	stored, err := s.GetConflict(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "analyst", stored.ResolvedBy)
	require.NotNil(t, stored.ResolvedAt)

	got, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "xacta", got.Fields["criticality"].Source)

	_, _, err = s.ResolveConflict(ctx, c.ID, resolve)
	require.ErrorIs(t, err, store.ErrInvalidTransition)

	_, _, err = s.ResolveConflict(ctx, uuid.New(), resolve)
	assert.True(t, models.IsNotFound(err))

	// a new disagreement after resolution opens a fresh conflict
	again := applyConflicts(t, s, e, pendingConflict("criticality", "medium", "low"))
	assert.NotEqual(t, c.ID, again.Conflicts[0].ID)
	assert.True(t, again.Conflicts[0].Created)
}

func testListEntities(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		create(t, s, newEntity(models.KindAsset, "tenable", id, "", nil))
	}
	create(t, s, newEntity(models.KindControl, "xacta", "AC-1", "AC-1", nil))

	all, err := s.ListEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	assets, err := s.ListEntities(ctx, store.WithKind(models.KindAsset), store.WithLimit(2))
	require.NoError(t, err)
	assert.Len(t, assets, 2)

	rest, err := s.ListEntities(ctx, store.WithKind(models.KindAsset), store.WithOffset(2))
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, assets[0].ID, rest[0].ID)
	assert.NotEqual(t, assets[1].ID, rest[0].ID)

	xacta, err := s.ListEntities(ctx, store.WithSource("xacta"))
	require.NoError(t, err)
	require.Len(t, xacta, 1)
	assert.Equal(t, models.KindControl, xacta[0].Kind)

	_, err = s.ListEntities(ctx, store.WithKind("printer"))
	assert.True(t, models.IsValidation(err))
	_, err = s.ListEntities(ctx, store.WithJobID("j1"))
	assert.Error(t, err)
}

func testFieldCoverage(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, newEntity(models.KindAsset, "tenable", "a-1", "", map[string]any{"hostname": "web-1", "ipv4": []any{"10.0.0.1"}}))
	create(t, s, newEntity(models.KindAsset, "tenable", "a-2", "", map[string]any{"hostname": "web-2"}))
	create(t, s, newEntity(models.KindControl, "xacta", "AC-1", "", map[string]any{"family": "Access Control"}))

	cov, err := s.FieldCoverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cov[models.KindAsset].Entities)
	assert.Equal(t, 2, cov[models.KindAsset].FieldCounts["hostname"])
	assert.Equal(t, 1, cov[models.KindAsset].FieldCounts["ipv4"])
	assert.Equal(t, 1, cov[models.KindControl].FieldCounts["family"])
	assert.NotContains(t, cov, models.KindPOAM)
}

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := &models.SyncJob{
		ID: "j2", Name: "Vulns", Source: "tenable", Schedule: "0 * * * *",
		Filters: map[string]any{"kinds": []any{"vulnerability"}}, MaxRetries: 3, Enabled: true,
	}
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.CreateJob(ctx, &models.SyncJob{ID: "j1", Source: "xacta", Schedule: "@hourly"}))
	assert.ErrorIs(t, s.CreateJob(ctx, &models.SyncJob{ID: "j1", Source: "xacta", Schedule: "@daily"}), store.ErrAlreadyExists)

	got, err := s.GetJob(ctx, "j2")
	require.NoError(t, err)
	assert.Equal(t, []any{"vulnerability"}, got.Filters["kinds"])
	assert.True(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())

	updated, err := s.UpdateJob(ctx, "j2", func(j *models.SyncJob) error {
		j.Enabled = false
		j.RetryCount = 2
		return nil
	})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, 2, updated.RetryCount)

	_, err = s.UpdateJob(ctx, "missing", func(*models.SyncJob) error { return nil })
	assert.True(t, models.IsNotFound(err))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j1", jobs[0].ID)

	require.NoError(t, s.DeleteJob(ctx, "j1"))
	assert.True(t, models.IsNotFound(s.DeleteJob(ctx, "j1")))
	_, err = s.GetJob(ctx, "j1")
	assert.True(t, models.IsNotFound(err))
}

func testExecutions(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()
	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.CreateExecution(ctx, &models.SyncExecution{
			ID: id, JobID: "j1", Source: "tenable", Trigger: models.TriggerScheduled, Attempt: 1,
			Status: models.ExecutionRunning, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.CreateExecution(ctx, &models.SyncExecution{
		ID: "e4", JobID: "manual", Source: "xacta", Trigger: models.TriggerManual,
		Status: models.ExecutionRunning, StartedAt: base.Add(-2 * time.Hour),
	}))
	assert.ErrorIs(t, s.CreateExecution(ctx, &models.SyncExecution{ID: "e1", Status: models.ExecutionRunning}), store.ErrAlreadyExists)

	done := base.Add(90 * time.Second)
	finished := &models.SyncExecution{
		ID: "e1", JobID: "j1", Source: "tenable", Trigger: models.TriggerScheduled, Attempt: 1,
		Status: models.ExecutionFailed, StartedAt: base, CompletedAt: &done,
		RecordsProcessed: 10, RecordsCreated: 4, RecordsUpdated: 5, ConflictsCreated: 1,
		Errors: []string{"page 2: connection refused"},
	}
	require.NoError(t, s.FinishExecution(ctx, finished))
	assert.ErrorIs(t, s.FinishExecution(ctx, finished), store.ErrInvalidTransition)
	assert.True(t, models.IsNotFound(s.FinishExecution(ctx, &models.SyncExecution{ID: "nope", Status: models.ExecutionCompleted})))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, got.Status)
	assert.Equal(t, []string{"page 2: connection refused"}, got.Errors)
	assert.Equal(t, 90*time.Second, got.Duration())

	recent, err := s.ListExecutions(ctx, store.WithSince(base.Add(-time.Hour)))
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "e3", recent[0].ID)

	byJob, err := s.ListExecutions(ctx, store.WithJobID("manual"))
	require.NoError(t, err)
	require.Len(t, byJob, 1)
	assert.Equal(t, "xacta", byJob[0].Source)

	failed, err := s.ListExecutions(ctx, store.WithSource("tenable"), store.WithStatus("failed"), store.WithLimit(5))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "e1", failed[0].ID)
}

func testSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	older := &models.WebhookSubscription{
		ID: "s1", Name: "scans", Source: "tenable", EventTypes: []string{"scanCompleted", "assetUpdated"},
		Secret: "k1", Enabled: true, MaxRetries: 3, TimeoutSeconds: 30, CreatedAt: now().Add(-time.Minute),
	}
	newer := &models.WebhookSubscription{
		ID: "s2", Name: "assets", Source: "tenable", EventTypes: []string{"assetUpdated"},
		Secret: "k2", Enabled: true, CreatedAt: now(),
	}
	disabled := &models.WebhookSubscription{
		ID: "s3", Name: "vulns", Source: "tenable", EventTypes: []string{"vulnerabilityUpdated"}, Secret: "k3",
	}
	for _, sub := range []*models.WebhookSubscription{older, newer, disabled} {
		require.NoError(t, s.CreateSubscription(ctx, sub))
	}
	assert.ErrorIs(t, s.CreateSubscription(ctx, &models.WebhookSubscription{
		ID: "s4", Name: "scans", Source: "tenable", EventTypes: []string{"scanCompleted"},
	}), store.ErrAlreadyExists)

	found, err := s.FindSubscriptions(ctx, "tenable", "assetUpdated")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "s1", found[0].ID)
	assert.Equal(t, "k1", found[0].Secret)
	assert.Equal(t, "s2", found[1].ID)
	assert.Equal(t, "k2", found[1].Secret)

	found, err = s.FindSubscriptions(ctx, "tenable", "scanCompleted")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "s1", found[0].ID)

	_, err = s.FindSubscriptions(ctx, "tenable", "vulnerabilityUpdated")
	assert.True(t, models.IsNotFound(err))
	_, err = s.FindSubscriptions(ctx, "xacta", "assetUpdated")
	assert.True(t, models.IsNotFound(err))

	require.NoError(t, s.SetSubscriptionExternalID(ctx, "s1", "wh-1"))
	got, err := s.GetSubscription(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "wh-1", got.ExternalID)
	assert.Equal(t, []string{"scanCompleted", "assetUpdated"}, got.EventTypes)

	all, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.DeleteSubscription(ctx, "s1"))
	assert.True(t, models.IsNotFound(s.DeleteSubscription(ctx, "s1")))
	found, err = s.FindSubscriptions(ctx, "tenable", "assetUpdated")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "s2", found[0].ID)
}

func testDeliveries(t *testing.T, s store.Store) {
	ctx := context.Background()
	received := now()
	d := &models.WebhookDelivery{
		ID: "d1", SubscriptionID: "s1", Source: "tenable", EventType: "scanCompleted",
		Payload: json.RawMessage(`{"scanId":"42"}`), Signature: "sha256=abc",
		Status: models.DeliveryProcessing, ReceivedAt: received,
	}
	require.NoError(t, s.CreateDelivery(ctx, d))
	require.NoError(t, s.CreateDelivery(ctx, &models.WebhookDelivery{
		ID: "d2", SubscriptionID: "s2", Source: "xacta", EventType: "controlUpdated",
		Payload: json.RawMessage(`{}`), Status: models.DeliveryProcessing, ReceivedAt: received.Add(time.Second),
	}))

	processed := received.Add(25 * time.Millisecond)
	d.Status = models.DeliveryCompleted
	d.ProcessedAt = &processed
	d.DurationMs = 25
	d.Result = json.RawMessage(`{"triggered":true}`)
	require.NoError(t, s.FinishDelivery(ctx, d))
	assert.ErrorIs(t, s.FinishDelivery(ctx, d), store.ErrInvalidTransition)

	all, err := s.ListDeliveries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d2", all[0].ID)

	completed, err := s.ListDeliveries(ctx, store.WithSource("tenable"), store.WithStatus("completed"))
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.JSONEq(t, `{"triggered":true}`, string(completed[0].Result))
	assert.JSONEq(t, `{"scanId":"42"}`, string(completed[0].Payload))
	assert.Equal(t, int64(25), completed[0].DurationMs)

	byEvent, err := s.ListDeliveries(ctx, store.WithEventType("controlUpdated"))
	require.NoError(t, err)
	require.Len(t, byEvent, 1)
	assert.Equal(t, models.DeliveryProcessing, byEvent[0].Status)
}

func testEnrichments(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := create(t, s, newEntity(models.KindVulnerability, "tenable", "v-1", "", nil))
	create(t, s, newEntity(models.KindVulnerability, "tenable", "v-2", "", nil))

	enrichment := &models.RiskEnrichment{
		EntityID: e.ID, Model: "heuristic", Score: 7.5,
		Factors: map[string]float64{"cvss": 9.8}, Confidence: 0.8, CalculatedAt: now(),
	}
	require.NoError(t, s.UpsertEnrichment(ctx, enrichment))
	enrichment.Score = 8.25
	require.NoError(t, s.UpsertEnrichment(ctx, enrichment))

	list, err := s.ListEnrichments(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 8.25, list[0].Score, 0.0001)
	assert.InDelta(t, 9.8, list[0].Factors["cvss"], 0.0001)

	entities, enriched, err := s.EnrichmentCoverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, entities)
	assert.Equal(t, 1, enriched)

	err = s.UpsertEnrichment(ctx, &models.RiskEnrichment{EntityID: uuid.New(), Model: "heuristic", CalculatedAt: now()})
	assert.True(t, models.IsNotFound(err))
}
