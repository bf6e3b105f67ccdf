// Package webhook receives push events from external sources.
//
// The Gateway verifies each event against the shared secret of the matching
// subscription, logs it as a WebhookDelivery and dispatches it to the handler
// registered for "source.eventType". Handlers reconcile through the same sync
// manager used by scheduled jobs. Deliveries are never retried here; the sending
// system owns retries.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/integration-sync/internal/logging"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/telemetry"
)

// statusRejected labels deliveries refused for a bad signature in metrics
const statusRejected = "rejected"

// ErrNoHandler marks a delivery that failed because no handler is registered for source.eventType
var ErrNoHandler = errors.New("no webhook handler registered")

// Store is the persistence the gateway needs
type Store interface {
	store.SubscriptionStore
	store.DeliveryStore
}

// GatewayOption configures the gateway
type GatewayOption func(*Gateway)

// WithMetrics records delivery outcomes
func WithMetrics(metrics *telemetry.WebhookMetrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithTracer sets the tracer for delivery spans
func WithTracer(tracer trace.Tracer) GatewayOption {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// Gateway verifies, logs and dispatches inbound webhook events
type Gateway struct {
	store    Store
	handlers *Registry
	metrics  *telemetry.WebhookMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewGateway creates a gateway dispatching to handlers
func NewGateway(st Store, handlers *Registry, opts ...GatewayOption) *Gateway {
	g := &Gateway{store: st, handlers: handlers, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProcessWebhook handles one event. It returns a NotFoundError when no subscription
// covers source.eventType, an AuthenticationError when the signature matches none of the
// covering subscriptions, and the handler's error when it fails. A missing handler fails
// the delivery with an error wrapping ErrNoHandler. Once a delivery exists the returned
// delivery reflects the stored log row.
func (g *Gateway) ProcessWebhook(
	ctx context.Context, source, eventType string, payload []byte, signature string,
) (*models.WebhookDelivery, error) {
	ctx, span := otel.StartSpan(ctx, g.tracer, "webhook.ProcessWebhook")
	defer span.End()
	span.SetAttributes(otel.AttrSource.String(source), otel.AttrEventType.String(eventType))

	ctx = logging.WithValues(ctx, "source", source, "eventType", eventType)
	logger := logging.FromContext(ctx)
	start := g.now()

	subs, err := g.store.FindSubscriptions(ctx, source, eventType)
	if err != nil {
		otel.RecordError(span, err)
		if models.IsNotFound(err) {
			return nil, models.NewNotFoundError("webhook configuration", HandlerKey(source, eventType))
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	sub := matchSignature(subs, payload, signature)
	if sub == nil {
		authErr := &models.AuthenticationError{Source: source, Message: "webhook signature mismatch"}
		otel.RecordError(span, authErr)
		logger.Error(authErr, "Rejected webhook", "subscriptions", len(subs))
		g.metrics.RecordDelivery(ctx, source, eventType, statusRejected, g.now().Sub(start))
		return nil, authErr
	}
	span.SetAttributes(otel.AttrSubscriptionID.String(sub.ID))

	delivery := &models.WebhookDelivery{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		Source:         source,
		EventType:      eventType,
		Payload:        storablePayload(payload),
		Signature:      signature,
		Status:         models.DeliveryProcessing,
		ReceivedAt:     start.UTC(),
	}
	if err := g.store.CreateDelivery(ctx, delivery); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to log delivery: %w", err)
	}

	result, err := g.dispatch(ctx, sub, source, eventType, payload)
	g.finish(ctx, delivery, result, err, start)
	if err != nil {
		otel.RecordError(span, err)
		logger.Error(err, "Webhook handler failed", "delivery", delivery.ID, "durationMs", delivery.DurationMs)
		return delivery, err
	}
	logger.Info("Webhook processed", "delivery", delivery.ID, "durationMs", delivery.DurationMs)
	return delivery, nil
}

// dispatch resolves the handler, validates the payload and invokes the handler under the subscription timeout
func (g *Gateway) dispatch(
	ctx context.Context, sub *models.WebhookSubscription, source, eventType string, payload []byte,
) (any, error) {
	handler, err := g.handlers.Lookup(source, eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoHandler, err)
	}
	if err := handler.validate(payload); err != nil {
		return nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()
	result, err := handler.Handle(hctx, payload, sub)
	if err != nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("handler %s timed out after %s: %w", handler.Key(), sub.Timeout(), err)
	}
	return result, err
}

// finish writes the terminal state of the delivery. The row is written even when the caller has gone away.
func (g *Gateway) finish(ctx context.Context, d *models.WebhookDelivery, result any, handlerErr error, start time.Time) {
	processedAt := g.now()
	d.ProcessedAt = &processedAt
	d.DurationMs = processedAt.Sub(start).Milliseconds()
	d.Status = models.DeliveryCompleted

	if handlerErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			handlerErr = fmt.Errorf("failed to encode handler result: %w", err)
		} else {
			d.Result = data
		}
	}
	if handlerErr != nil {
		d.Status = models.DeliveryFailed
		d.Error = handlerErr.Error()
	}

	if err := g.store.FinishDelivery(context.WithoutCancel(ctx), d); err != nil {
		logging.FromContext(ctx).Error(err, "Failed to record delivery result", "delivery", d.ID)
	}
	g.metrics.RecordDelivery(ctx, d.Source, d.EventType, string(d.Status), processedAt.Sub(start))
}

// matchSignature returns the first subscription whose secret verifies the payload.
// Several subscriptions may cover one event, for example while a secret is rotated.
func matchSignature(subs []*models.WebhookSubscription, payload []byte, signature string) *models.WebhookSubscription {
	for _, sub := range subs {
		if VerifySignature(sub.Secret, payload, signature) {
			return sub
		}
	}
	return nil
}

// storablePayload keeps valid JSON as is and stores anything else as a JSON string
func storablePayload(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	data, _ := json.Marshal(string(payload))
	return data
}
