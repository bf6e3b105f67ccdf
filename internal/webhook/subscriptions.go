package webhook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/logging"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/sources"
	"github.com/stacklok/integration-sync/internal/store"
)

// registrationTimeout bounds calls to a source's webhook registration API
const registrationTimeout = 30 * time.Second

// SubscriptionRequest is the payload for creating a subscription
type SubscriptionRequest struct {
	Name           string   `json:"name"`
	Source         string   `json:"source"`
	TargetURL      string   `json:"targetUrl,omitempty"`
	EventTypes     []string `json:"eventTypes"`
	Secret         string   `json:"secret"`
	Enabled        *bool    `json:"enabled,omitempty"`
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty"`
	MaxRetries     int      `json:"maxRetries,omitempty"`
}

// SubscriptionService manages webhook subscriptions and their registration with sources
type SubscriptionService struct {
	store    Store
	registry *sources.Registry
	now      func() time.Time

	// pending tracks asynchronous unregistrations
	pending sync.WaitGroup
}

// NewSubscriptionService creates a subscription service
func NewSubscriptionService(st Store, registry *sources.Registry) *SubscriptionService {
	return &SubscriptionService{store: st, registry: registry, now: time.Now}
}

func (s *SubscriptionService) validate(req *SubscriptionRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return models.NewValidationError("name", "is required")
	}
	if _, err := s.registry.Get(req.Source); err != nil {
		return models.NewValidationError("source", "unknown source %q", req.Source)
	}
	if len(req.EventTypes) == 0 {
		return models.NewValidationError("eventTypes", "at least one event type is required")
	}
	for i, et := range req.EventTypes {
		if strings.TrimSpace(et) == "" || strings.ContainsAny(et, "/ ") {
			return models.NewValidationError(fmt.Sprintf("eventTypes[%d]", i), "invalid event type %q", et)
		}
	}
	if req.Secret == "" {
		return models.NewValidationError("secret", "is required")
	}
	if req.TimeoutSeconds < 0 {
		return models.NewValidationError("timeoutSeconds", "must not be negative")
	}
	if req.MaxRetries < 0 {
		return models.NewValidationError("maxRetries", "must not be negative")
	}
	return nil
}

// Create validates and stores a subscription, then registers it with the source when the
// source supports push subscriptions and a target URL is set. Registration failures are logged.
func (s *SubscriptionService) Create(ctx context.Context, req *SubscriptionRequest) (*models.WebhookSubscription, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sub := &models.WebhookSubscription{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Source:         req.Source,
		TargetURL:      req.TargetURL,
		EventTypes:     req.EventTypes,
		Secret:         req.Secret,
		Enabled:        enabled,
		MaxRetries:     req.MaxRetries,
		TimeoutSeconds: req.TimeoutSeconds,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	logger := logging.FromContext(ctx)
	logger.Info("Webhook subscription created", "subscription", sub.ID, "source", sub.Source,
		"eventTypes", sub.EventTypes)

	if externalID := s.register(ctx, sub); externalID != "" {
		if err := s.store.SetSubscriptionExternalID(ctx, sub.ID, externalID); err != nil {
			logger.Error(err, "Failed to record external registration", "subscription", sub.ID)
		} else {
			sub.ExternalID = externalID
		}
	}
	return sub, nil
}

// register subscribes the target URL with the source and returns the registration id, or "" when skipped or failed
func (s *SubscriptionService) register(ctx context.Context, sub *models.WebhookSubscription) string {
	registrar := s.registrar(sub.Source)
	if registrar == nil || sub.TargetURL == "" {
		return ""
	}
	rctx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()
	externalID, err := registrar.RegisterWebhook(rctx, sub.Name, sub.TargetURL, sub.EventTypes, sub.Secret)
	if err != nil {
		logging.FromContext(ctx).Error(err, "Failed to register webhook with source",
			"subscription", sub.ID, "source", sub.Source)
		return ""
	}
	return externalID
}

func (s *SubscriptionService) registrar(source string) sources.WebhookRegistrar {
	adapter, err := s.registry.Get(source)
	if err != nil {
		return nil
	}
	registrar, _ := adapter.(sources.WebhookRegistrar)
	return registrar
}

// Delete removes the subscription locally, then unregisters it from the source in the
// background. Local deletion never depends on the source.
func (s *SubscriptionService) Delete(ctx context.Context, id string) error {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	logger := logging.FromContext(ctx)
	logger.Info("Webhook subscription deleted", "subscription", id, "source", sub.Source)

	registrar := s.registrar(sub.Source)
	if registrar == nil || sub.ExternalID == "" {
		return nil
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registrationTimeout)
		defer cancel()
		if err := registrar.UnregisterWebhook(uctx, sub.ExternalID); err != nil {
			logger.Error(err, "Failed to unregister webhook from source",
				"subscription", id, "source", sub.Source, "externalId", sub.ExternalID)
		}
	}()
	return nil
}

// Get returns a subscription
func (s *SubscriptionService) Get(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// List returns every subscription
func (s *SubscriptionService) List(ctx context.Context) ([]*models.WebhookSubscription, error) {
	return s.store.ListSubscriptions(ctx)
}

// ListDeliveries returns the delivery log, most recent first
func (s *SubscriptionService) ListDeliveries(ctx context.Context, opts ...store.Option) ([]*models.WebhookDelivery, error) {
	return s.store.ListDeliveries(ctx, opts...)
}

// Seed creates the configured subscriptions that do not exist yet, matched by source and name
func (s *SubscriptionService) Seed(ctx context.Context, webhooks []config.WebhookConfig) error {
	existing, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, sub := range existing {
		seen[sub.Source+"/"+sub.Name] = true
	}

	for i := range webhooks {
		wh := &webhooks[i]
		if seen[wh.Source+"/"+wh.Name] {
			continue
		}
		secret, err := config.ReadSecret(wh.SecretFile, wh.SecretEnv)
		if err != nil {
			return fmt.Errorf("webhook %s: %w", wh.Name, err)
		}
		if _, err := s.Create(ctx, &SubscriptionRequest{
			Name:           wh.Name,
			Source:         wh.Source,
			TargetURL:      wh.TargetURL,
			EventTypes:     wh.EventTypes,
			Secret:         secret,
			TimeoutSeconds: wh.GetTimeoutSeconds(),
			MaxRetries:     wh.MaxRetries,
		}); err != nil {
			return fmt.Errorf("webhook %s: %w", wh.Name, err)
		}
	}
	return nil
}

// Close waits for background unregistrations to finish
func (s *SubscriptionService) Close() {
	s.pending.Wait()
}
