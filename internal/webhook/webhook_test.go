package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/reconcile"
	"github.com/stacklok/integration-sync/internal/sources"
	sourcesmocks "github.com/stacklok/integration-sync/internal/sources/mocks"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/store/inmemory"
	pkgsync "github.com/stacklok/integration-sync/internal/sync"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
	schedulermocks "github.com/stacklok/integration-sync/internal/sync/scheduler/mocks"
)

const testSecret = "s3cret"

var fastLimit = &config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 100}

func simulated(t *testing.T, name, flavor string) *sources.SimulatedAdapter {
	t.Helper()
	a, err := sources.NewSimulatedAdapter(&config.SourceConfig{
		Name: name, Type: config.SourceTypeSimulated, RateLimit: fastLimit,
		Simulated: &config.SimulatedConfig{Flavor: flavor, Assets: 5, Seed: 9},
	})
	require.NoError(t, err)
	return a
}

func subscribe(t *testing.T, st store.Store, source string, eventTypes ...string) *models.WebhookSubscription {
	t.Helper()
	sub := &models.WebhookSubscription{
		ID: "sub-" + source, Name: source + " events", Source: source,
		EventTypes: eventTypes, Secret: testSecret, Enabled: true, TimeoutSeconds: 1,
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateSubscription(context.Background(), sub))
	return sub
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"event":"scanCompleted","scanId":"s1"}`)
	signed := Sign(testSecret, payload)

	tests := []struct {
		name      string
		secret    string
		payload   []byte
		signature string
		expected  bool
	}{
		{name: "prefixed", secret: testSecret, payload: payload, signature: signed, expected: true},
		{name: "bare hex", secret: testSecret, payload: payload, signature: signed[len("sha256="):], expected: true},
		{name: "tampered payload", secret: testSecret, payload: []byte(`{"event":"scanCompleted","scanId":"s2"}`), signature: signed},
		{name: "wrong secret", secret: "other", payload: payload, signature: signed},
		{name: "missing signature", secret: testSecret, payload: payload},
		{name: "not hex", secret: testSecret, payload: payload, signature: "sha256=zz"},
		{name: "no secret", payload: payload, signature: Sign("", payload)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, VerifySignature(tt.secret, tt.payload, tt.signature))
		})
	}
}

func TestSignatureFromHeader(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set(HubSignatureHeader, "sha256=hub")
	assert.Equal(t, "sha256=hub", SignatureFromHeader(h))
	h.Set(SignatureHeader, "sha256=primary")
	assert.Equal(t, "sha256=primary", SignatureFromHeader(h))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, json.RawMessage, *models.WebhookSubscription) (any, error) { return nil, nil }
	r := NewRegistry()
	require.NoError(t, r.Register(
		HandlerSpec{Source: "xacta", EventType: "controlUpdated", Handle: noop},
		HandlerSpec{Source: "tenable", EventType: "scanCompleted", Schema: idSchema("scanId"), Handle: noop},
	))
	assert.Equal(t, []string{"tenable.scanCompleted", "xacta.controlUpdated"}, r.Keys())

	assert.Error(t, r.Register(HandlerSpec{Source: "xacta", EventType: "controlUpdated", Handle: noop}))
	assert.Error(t, r.Register(HandlerSpec{Source: "xacta", EventType: "other", Schema: "{", Handle: noop}))
	assert.Error(t, r.Register(HandlerSpec{Source: "xacta", EventType: "other"}))

	_, err := r.Lookup("tenable", "assetUpdated")
	assert.True(t, models.IsNotFound(err))
	spec, err := r.Lookup("tenable", "scanCompleted")
	require.NoError(t, err)
	assert.True(t, models.IsValidation(spec.validate([]byte(`{"scanId": ""}`))))
	assert.NoError(t, spec.validate([]byte(`{"scanId": "s1"}`)))
}

func TestProcessWebhook(t *testing.T) {
	t.Parallel()

	handlerErr := errors.New("downstream exploded")
	handlers := NewRegistry()
	require.NoError(t, handlers.Register(
		HandlerSpec{
			Source: "tenable", EventType: "assetUpdated", Schema: idSchema("assetId"),
			Handle: func(_ context.Context, payload json.RawMessage, sub *models.WebhookSubscription) (any, error) {
				return map[string]string{"subscription": sub.ID, "payload": string(payload)}, nil
			},
		},
		HandlerSpec{
			Source: "tenable", EventType: "vulnerabilityUpdated",
			Handle: func(context.Context, json.RawMessage, *models.WebhookSubscription) (any, error) {
				return nil, handlerErr
			},
		},
		HandlerSpec{
			Source: "tenable", EventType: "slow",
			Handle: func(ctx context.Context, _ json.RawMessage, _ *models.WebhookSubscription) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	))

	tests := []struct {
		name         string
		eventType    string
		payload      string
		signature    func(payload []byte) string
		check        func(t *testing.T, err error)
		wantDelivery models.DeliveryStatus
	}{
		{
			name:         "success",
			eventType:    "assetUpdated",
			payload:      `{"assetId":"a-1"}`,
			check:        func(t *testing.T, err error) { t.Helper(); assert.NoError(t, err) },
			wantDelivery: models.DeliveryCompleted,
		},
		{
			name:      "unknown event type",
			eventType: "pluginUpdated",
			payload:   `{}`,
			check:     func(t *testing.T, err error) { t.Helper(); assert.True(t, models.IsNotFound(err)) },
		},
		{
			name:      "tampered payload",
			eventType: "assetUpdated",
			payload:   `{"assetId":"a-1"}`,
			signature: func([]byte) string { return Sign(testSecret, []byte(`{"assetId":"a-2"}`)) },
			check:     func(t *testing.T, err error) { t.Helper(); assert.True(t, models.IsAuthentication(err)) },
		},
		{
			name:      "subscription without handler",
			eventType: "scanCompleted",
			payload:   `{"event":"scanCompleted","scanId":"s1"}`,
			check: func(t *testing.T, err error) {
				t.Helper()
				assert.ErrorIs(t, err, ErrNoHandler)
				assert.True(t, models.IsNotFound(err))
			},
			wantDelivery: models.DeliveryFailed,
		},
		{
			name:         "payload fails schema",
			eventType:    "assetUpdated",
			payload:      `{"hostname":"web-1"}`,
			check:        func(t *testing.T, err error) { t.Helper(); assert.True(t, models.IsValidation(err)) },
			wantDelivery: models.DeliveryFailed,
		},
		{
			name:      "handler failure",
			eventType: "vulnerabilityUpdated",
			payload:   `{"vulnerabilityId":"v-1"}`,
			check: func(t *testing.T, err error) {
				t.Helper()
				assert.ErrorIs(t, err, handlerErr)
				assert.NotErrorIs(t, err, ErrNoHandler)
			},
			wantDelivery: models.DeliveryFailed,
		},
		{
			name:      "handler timeout",
			eventType: "slow",
			payload:   `{}`,
			check: func(t *testing.T, err error) {
				t.Helper()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "timed out")
			},
			wantDelivery: models.DeliveryFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := inmemory.New()
			sub := subscribe(t, st, "tenable", "assetUpdated", "vulnerabilityUpdated", "scanCompleted", "slow")
			gateway := NewGateway(st, handlers)

			payload := []byte(tt.payload)
			signature := Sign(testSecret, payload)
			if tt.signature != nil {
				signature = tt.signature(payload)
			}

			delivery, err := gateway.ProcessWebhook(ctx, "tenable", tt.eventType, payload, signature)
			tt.check(t, err)

			deliveries, listErr := st.ListDeliveries(ctx)
			require.NoError(t, listErr)
			if tt.wantDelivery == "" {
				assert.Nil(t, delivery)
				assert.Empty(t, deliveries, "no delivery row is logged")
				return
			}
			require.Len(t, deliveries, 1)
			stored := deliveries[0]
			assert.Equal(t, tt.wantDelivery, stored.Status)
			assert.Equal(t, sub.ID, stored.SubscriptionID)
			assert.JSONEq(t, tt.payload, string(stored.Payload))
			require.NotNil(t, stored.ProcessedAt)
			assert.GreaterOrEqual(t, stored.DurationMs, int64(0))
			if tt.wantDelivery == models.DeliveryFailed {
				assert.NotEmpty(t, stored.Error)
			} else {
				assert.Contains(t, string(stored.Result), sub.ID)
			}

			after, getErr := st.GetSubscription(ctx, sub.ID)
			require.NoError(t, getErr)
			assert.Equal(t, sub.EventTypes, after.EventTypes, "subscription is untouched")
		})
	}
}

func TestProcessWebhookAcceptsAnyCoveringSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	handlers := NewRegistry()
	require.NoError(t, handlers.Register(HandlerSpec{
		Source: "xacta", EventType: "controlUpdated",
		Handle: func(_ context.Context, _ json.RawMessage, sub *models.WebhookSubscription) (any, error) {
			return map[string]string{"subscription": sub.ID}, nil
		},
	}))

	st := inmemory.New()
	created := time.Now()
	for _, sub := range []*models.WebhookSubscription{
		{ID: "old", Name: "controls", Source: "xacta", EventTypes: []string{"controlUpdated"},
			Secret: "old-secret", Enabled: true, CreatedAt: created.Add(-time.Hour)},
		{ID: "new", Name: "controls rotated", Source: "xacta", EventTypes: []string{"controlUpdated"},
			Secret: "new-secret", Enabled: true, CreatedAt: created},
		{ID: "off", Name: "controls disabled", Source: "xacta", EventTypes: []string{"controlUpdated"},
			Secret: "off-secret", CreatedAt: created},
	} {
		require.NoError(t, st.CreateSubscription(ctx, sub))
	}
	gateway := NewGateway(st, handlers)
	payload := []byte(`{"controlId":"AC-2"}`)

	tests := []struct {
		secret         string
		wantSubscriber string
	}{
		{secret: "old-secret", wantSubscriber: "old"},
		{secret: "new-secret", wantSubscriber: "new"},
		{secret: "off-secret"},
		{secret: "unknown-secret"},
	}

	for _, tt := range tests {
		delivery, err := gateway.ProcessWebhook(ctx, "xacta", "controlUpdated", payload, Sign(tt.secret, payload))
		if tt.wantSubscriber == "" {
			assert.True(t, models.IsAuthentication(err), tt.secret)
			assert.Nil(t, delivery)
			continue
		}
		require.NoError(t, err, tt.secret)
		assert.Equal(t, tt.wantSubscriber, delivery.SubscriptionID)
		assert.Contains(t, string(delivery.Result), tt.wantSubscriber)
	}

	deliveries, err := st.ListDeliveries(ctx)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2, "rejected events are not logged")
}

func TestBuiltinHandlersSyncEntities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := inmemory.New()
	tenable := simulated(t, "tenable", config.SourceTypeTenable)
	xacta := simulated(t, "grc", config.SourceTypeXacta)
	registry := sources.NewRegistry(tenable, xacta)
	manager := pkgsync.NewDefaultSyncManager(registry, reconcile.New(st))

	handlers := NewRegistry()
	require.NoError(t, handlers.Register(BuiltinHandlers("tenable", config.SourceTypeTenable, manager, nil)...))
	require.NoError(t, handlers.Register(BuiltinHandlers("grc", config.SourceTypeXacta, manager, nil)...))
	assert.Empty(t, BuiltinHandlers("other", "qualys", manager, nil))
	assert.Equal(t, []string{
		"grc.controlUpdated", "grc.poamUpdated", "grc.systemUpdated",
		"tenable.assetUpdated", "tenable.scanCompleted", "tenable.vulnerabilityUpdated",
	}, handlers.Keys())

	subscribe(t, st, "tenable", "assetUpdated")
	subscribe(t, st, "grc", "systemUpdated")
	gateway := NewGateway(st, handlers)

	assetID := sources.SimulatedAssetID(9, 0)
	payload := []byte(`{"assetId":"` + assetID + `"}`)
	delivery, err := gateway.ProcessWebhook(ctx, "tenable", "assetUpdated", payload, Sign(testSecret, payload))
	require.NoError(t, err)
	var result EntityResult
	require.NoError(t, json.Unmarshal(delivery.Result, &result))
	assert.True(t, result.Created)
	assert.Equal(t, assetID, result.ExternalID)

	payload = []byte(`{"systemId":"SYS-001"}`)
	delivery, err = gateway.ProcessWebhook(ctx, "grc", "systemUpdated", payload, Sign(testSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryCompleted, delivery.Status)

	payload = []byte(`{"assetId":"does-not-exist"}`)
	delivery, err = gateway.ProcessWebhook(ctx, "tenable", "assetUpdated", payload, Sign(testSecret, payload))
	require.Error(t, err)
	assert.Equal(t, models.DeliveryFailed, delivery.Status)

	entities, err := st.ListEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
}

func TestScanCompletedTriggersVulnerabilitySync(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	manual := schedulermocks.NewMockScheduler(ctrl)
	want := scheduler.ManualSyncRequest{Filters: map[string]any{"kinds": []any{"vulnerability"}}}
	gomock.InOrder(
		manual.EXPECT().TriggerManualSync(gomock.Any(), "tenable", want).Return(&models.SyncExecution{
			ID: "e1", Status: models.ExecutionCompleted, RecordsCreated: 4,
		}, nil),
		manual.EXPECT().TriggerManualSync(gomock.Any(), "tenable", want).Return(nil, scheduler.ErrJobInFlight),
		manual.EXPECT().TriggerManualSync(gomock.Any(), "tenable", want).Return(&models.SyncExecution{
			ID: "e2", Status: models.ExecutionFailed, Errors: []string{"source unavailable"},
		}, nil),
	)

	handle := scanCompletedHandler(manual)
	sub := &models.WebhookSubscription{Source: "tenable"}
	payload := json.RawMessage(`{"scanId":"s1"}`)

	result, err := handle(ctx, payload, sub)
	require.NoError(t, err)
	assert.Equal(t, &ScanResult{ScanID: "s1", ExecutionID: "e1", Status: "completed", Created: 4}, result)

	result, err = handle(ctx, payload, sub)
	require.NoError(t, err)
	assert.Equal(t, "skipped", result.(*ScanResult).Status)

	_, err = handle(ctx, payload, sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source unavailable")
}

// registeringAdapter is an adapter that accepts push subscriptions
type registeringAdapter struct {
	*sourcesmocks.MockAdapter
	*sourcesmocks.MockWebhookRegistrar
}

func TestSubscriptionService(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		svc := NewSubscriptionService(inmemory.New(), sources.NewRegistry(simulated(t, "tenable", config.SourceTypeTenable)))
		valid := SubscriptionRequest{Name: "n", Source: "tenable", EventTypes: []string{"scanCompleted"}, Secret: "x"}

		mutations := map[string]func(r *SubscriptionRequest){
			"name":       func(r *SubscriptionRequest) { r.Name = " " },
			"source":     func(r *SubscriptionRequest) { r.Source = "qualys" },
			"eventTypes": func(r *SubscriptionRequest) { r.EventTypes = nil },
			"eventType":  func(r *SubscriptionRequest) { r.EventTypes = []string{"a/b"} },
			"secret":     func(r *SubscriptionRequest) { r.Secret = "" },
			"timeout":    func(r *SubscriptionRequest) { r.TimeoutSeconds = -1 },
		}
		for name, mutate := range mutations {
			req := valid
			mutate(&req)
			_, err := svc.Create(ctx, &req)
			assert.True(t, models.IsValidation(err), name)
		}
		subs, err := svc.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("registers and unregisters with simulated source", func(t *testing.T) {
		t.Parallel()
		st := inmemory.New()
		svc := NewSubscriptionService(st, sources.NewRegistry(simulated(t, "tenable", config.SourceTypeTenable)))

		sub, err := svc.Create(ctx, &SubscriptionRequest{
			Name: "scans", Source: "tenable", TargetURL: "https://sync.example.com/webhooks/tenable/scanCompleted",
			EventTypes: []string{"scanCompleted"}, Secret: testSecret,
		})
		require.NoError(t, err)
		assert.True(t, sub.Enabled)
		assert.NotEmpty(t, sub.ExternalID)

		stored, err := svc.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ExternalID, stored.ExternalID)

		require.NoError(t, svc.Delete(ctx, sub.ID))
		svc.Close()
		_, err = svc.Get(ctx, sub.ID)
		assert.True(t, models.IsNotFound(err))
		assert.True(t, models.IsNotFound(svc.Delete(ctx, sub.ID)))
	})

	t.Run("failures at the source never block local state", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		adapter := registeringAdapter{
			MockAdapter:          sourcesmocks.NewMockAdapter(ctrl),
			MockWebhookRegistrar: sourcesmocks.NewMockWebhookRegistrar(ctrl),
		}
		adapter.MockAdapter.EXPECT().Name().Return("xacta").AnyTimes()
		adapter.MockWebhookRegistrar.EXPECT().
			RegisterWebhook(gomock.Any(), "controls", "https://sync.example.com/hook", []string{"controlUpdated"}, testSecret).
			Return("ext-1", nil)
		adapter.MockWebhookRegistrar.EXPECT().
			UnregisterWebhook(gomock.Any(), "ext-1").
			Return(models.NewAdapterError("xacta", "unregister webhook", errors.New("503")))
		adapter.MockWebhookRegistrar.EXPECT().
			RegisterWebhook(gomock.Any(), "polls", gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", errors.New("connection refused"))

		st := inmemory.New()
		svc := NewSubscriptionService(st, sources.NewRegistry(adapter))

		sub, err := svc.Create(ctx, &SubscriptionRequest{
			Name: "controls", Source: "xacta", TargetURL: "https://sync.example.com/hook",
			EventTypes: []string{"controlUpdated"}, Secret: testSecret,
		})
		require.NoError(t, err)
		assert.Equal(t, "ext-1", sub.ExternalID)
		require.NoError(t, svc.Delete(ctx, sub.ID))
		svc.Close()

		unregistered, err := svc.Create(ctx, &SubscriptionRequest{
			Name: "polls", Source: "xacta", TargetURL: "https://sync.example.com/hook",
			EventTypes: []string{"poamUpdated"}, Secret: testSecret,
		})
		require.NoError(t, err)
		assert.Empty(t, unregistered.ExternalID)

		subs, err := svc.List(ctx)
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "polls", subs[0].Name)
	})

	t.Run("seed is idempotent", func(t *testing.T) {
		t.Parallel()
		secretFile := filepath.Join(t.TempDir(), "secret")
		require.NoError(t, os.WriteFile(secretFile, []byte(testSecret+"\n"), 0600))

		st := inmemory.New()
		svc := NewSubscriptionService(st, sources.NewRegistry(simulated(t, "tenable", config.SourceTypeTenable)))
		webhooks := []config.WebhookConfig{{
			Name: "scans", Source: "tenable", EventTypes: []string{"scanCompleted"}, SecretFile: secretFile,
		}}
		require.NoError(t, svc.Seed(ctx, webhooks))
		require.NoError(t, svc.Seed(ctx, webhooks))

		subs, err := svc.List(ctx)
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, 30, subs[0].TimeoutSeconds)

		found, err := st.FindSubscriptions(ctx, "tenable", "scanCompleted")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, testSecret, found[0].Secret)

		bad := []config.WebhookConfig{{Name: "x", Source: "tenable", EventTypes: []string{"a"}, SecretFile: "/nonexistent"}}
		assert.Error(t, svc.Seed(ctx, bad))
	})
}
