package inmemory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/store/storetest"
)

func TestStoreConformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestApplyEntityReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ref := models.EntityRef{Source: "tenable", Kind: models.KindAsset, ExternalID: "a-1"}
	res, err := s.ApplyEntity(ctx, ref, func(*models.Entity) (*models.Entity, []*models.Conflict, error) {
		return &models.Entity{
			Kind:   models.KindAsset,
			Fields: map[string]models.FieldValue{"ipv4": {Value: []any{"10.0.0.1"}, Source: "tenable"}},
			Links:  []models.ExternalRef{{Source: "tenable", ExternalID: "a-1"}},
		}, nil, nil
	})
	require.NoError(t, err)

	res.Entity.Fields["ipv4"].Value.([]any)[0] = "changed"
	got, err := s.FindEntity(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []any{"10.0.0.1"}, got.Value("ipv4"))
}

func TestApplyEntitySerializesConcurrentWriters(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ref := models.EntityRef{Source: "tenable", Kind: models.KindAsset, ExternalID: "a-1"}

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyEntity(ctx, ref, func(current *models.Entity) (*models.Entity, []*models.Conflict, error) {
				if current == nil {
					return &models.Entity{
						Kind:   models.KindAsset,
						Fields: map[string]models.FieldValue{"count": {Value: float64(1)}},
						Links:  []models.ExternalRef{{Source: "tenable", ExternalID: "a-1"}},
					}, nil, nil
				}
				n := current.Value("count").(float64)
				current.Fields["count"] = models.FieldValue{Value: n + 1}
				return current, nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.FindEntity(ctx, ref)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, got.Value("count"), 0)

	all, err := s.ListEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
