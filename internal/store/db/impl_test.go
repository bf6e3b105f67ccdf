package db

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/integration-sync/database"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/store/storetest"
)

// setupTestStore creates a store on a freshly migrated database
func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	pool, cleanupFunc := database.SetupTestDB(t)
	t.Cleanup(cleanupFunc)

	s, err := New(WithConnectionPool(pool))
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	return s
}

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	pool, cleanupFunc := database.SetupTestDB(t)
	t.Cleanup(cleanupFunc)

	s, err := New(WithConnectionPool(pool))
	require.NoError(t, err)

	// subtests run sequentially on one database, emptied before each
	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		_, err := pool.Exec(context.Background(), `TRUNCATE entities, entity_links, conflicts, sync_jobs,
			sync_executions, webhook_subscriptions, webhook_deliveries, risk_enrichments`)
		require.NoError(t, err)
		return s
	})
}

func TestNewRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := New()
	assert.Error(t, err)
	_, err = New(WithConnectionPool(nil))
	assert.Error(t, err)
}

func TestApplyEntityConcurrentCreates(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()

	// two sources racing to create the same correlated asset end up on one entity
	var wg sync.WaitGroup
	for _, src := range []string{"tenable", "xacta"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref := models.EntityRef{Source: src, Kind: models.KindAsset, ExternalID: src + "-a-1", CorrelationKey: "a-1"}
			_, err := s.ApplyEntity(ctx, ref, func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
				if current == nil {
					current = &models.Entity{Kind: models.KindAsset, CorrelationKey: "a-1", Fields: map[string]models.FieldValue{}}
				}
				current.Links = append(current.Links, models.ExternalRef{Source: src, ExternalID: src + "-a-1"})
				return current, nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.ListEntities(ctx, store.WithKind(models.KindAsset))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Links, 2)
}

func TestAdvisoryKeyStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, advisoryKey("link", "tenable", "asset", "a-1"), advisoryKey("link", "tenable", "asset", "a-1"))
	assert.NotEqual(t, advisoryKey("link", "tenable", "asset", "a-1"), advisoryKey("link", "tenable", "asseta", "-1"))
}
