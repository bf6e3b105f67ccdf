package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/otel"
	"github.com/stacklok/integration-sync/internal/store"
)

const subscriptionColumns = `id, name, source, target_url, event_types, secret, enabled, max_retries,
	timeout_seconds, external_id, created_at`

func scanSubscription(row pgx.Row) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	if err := row.Scan(&sub.ID, &sub.Name, &sub.Source, &sub.TargetURL, &sub.EventTypes, &sub.Secret, &sub.Enabled,
		&sub.MaxRetries, &sub.TimeoutSeconds, &sub.ExternalID, &sub.CreatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscription stores a subscription. Names are unique per source.
func (s *dbStore) CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	ctx, span := s.startSpan(ctx, "dbStore.CreateSubscription", "webhook_subscriptions")
	defer span.End()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions (id, name, source, target_url, event_types, secret, enabled, max_retries,
			timeout_seconds, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
		RETURNING created_at`,
		sub.ID, sub.Name, sub.Source, sub.TargetURL, sub.EventTypes, sub.Secret, sub.Enabled, sub.MaxRetries,
		sub.TimeoutSeconds, sub.ExternalID, nullTime(sub.CreatedAt),
	).Scan(&sub.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("subscription %s/%s: %w", sub.Source, sub.Name, store.ErrAlreadyExists)
	}
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription returns a subscription by id
func (s *dbStore) GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	ctx, span := s.startSpan(ctx, "dbStore.GetSubscription", "webhook_subscriptions")
	defer span.End()

	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("subscription", id)
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// FindSubscriptions returns the enabled subscriptions of source covering eventType, oldest first
func (s *dbStore) FindSubscriptions(
	ctx context.Context, source, eventType string,
) ([]*models.WebhookSubscription, error) {
	ctx, span := s.startSpan(ctx, "dbStore.FindSubscriptions", "webhook_subscriptions")
	defer span.End()
	span.SetAttributes(otel.AttrSource.String(source), otel.AttrEventType.String(eventType))

	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE source = $1 AND enabled AND $2 = ANY(event_types)
		ORDER BY created_at, id`, source, eventType)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to find subscriptions: %w", err)
	}
	subs, err := collect(rows, scanSubscription)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to find subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, models.NewNotFoundError("subscription", source+"."+eventType)
	}
	return subs, nil
}

// ListSubscriptions lists subscriptions ordered by creation time
func (s *dbStore) ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListSubscriptions", "webhook_subscriptions")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions ORDER BY created_at, id`)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	subs, err := collect(rows, scanSubscription)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// SetSubscriptionExternalID records the source registration id
func (s *dbStore) SetSubscriptionExternalID(ctx context.Context, id, externalID string) error {
	ctx, span := s.startSpan(ctx, "dbStore.SetSubscriptionExternalID", "webhook_subscriptions")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE webhook_subscriptions SET external_id = $2 WHERE id = $1`, id, externalID)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewNotFoundError("subscription", id)
	}
	return nil
}

// DeleteSubscription removes a subscription. Its deliveries are kept.
func (s *dbStore) DeleteSubscription(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "dbStore.DeleteSubscription", "webhook_subscriptions")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewNotFoundError("subscription", id)
	}
	return nil
}

const deliveryColumns = `id, subscription_id, source, event_type, payload, signature, status, received_at,
	processed_at, duration_ms, result, error`

func scanDelivery(row pgx.Row) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	var payload, result []byte
	if err := row.Scan(&d.ID, &d.SubscriptionID, &d.Source, &d.EventType, &payload, &d.Signature, &d.Status,
		&d.ReceivedAt, &d.ProcessedAt, &d.DurationMs, &result, &d.Error); err != nil {
		return nil, err
	}
	d.Payload = payload
	if len(result) > 0 {
		d.Result = result
	}
	return &d, nil
}

// jsonOrNull passes raw JSON through, mapping empty input to SQL NULL
func jsonOrNull(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// CreateDelivery stores a processing delivery
func (s *dbStore) CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	ctx, span := s.startSpan(ctx, "dbStore.CreateDelivery", "webhook_deliveries")
	defer span.End()
	span.SetAttributes(otel.AttrDeliveryID.String(d.ID))

	if d.Status != models.DeliveryProcessing {
		return fmt.Errorf("delivery %s must start processing, got %s: %w", d.ID, d.Status, store.ErrInvalidTransition)
	}
	payload := jsonOrNull(d.Payload)
	if payload == nil {
		payload = []byte("null")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, source, event_type, payload, signature, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.SubscriptionID, d.Source, d.EventType, payload, d.Signature, d.Status, d.ReceivedAt)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("delivery %s: %w", d.ID, store.ErrAlreadyExists)
	}
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

// FinishDelivery stores the terminal state of a processing delivery
func (s *dbStore) FinishDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	ctx, span := s.startSpan(ctx, "dbStore.FinishDelivery", "webhook_deliveries")
	defer span.End()
	span.SetAttributes(otel.AttrDeliveryID.String(d.ID))

	if d.Status == models.DeliveryProcessing {
		return fmt.Errorf("delivery %s: cannot finish as %s: %w", d.ID, d.Status, store.ErrInvalidTransition)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = $2, processed_at = $3, duration_ms = $4, result = $5, error = $6
		WHERE id = $1 AND status = 'processing'`,
		d.ID, d.Status, d.ProcessedAt, d.DurationMs, jsonOrNull(d.Result), d.Error)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to finish delivery: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status models.DeliveryStatus
	err = s.pool.QueryRow(ctx, `SELECT status FROM webhook_deliveries WHERE id = $1`, d.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewNotFoundError("delivery", d.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read delivery status: %w", err)
	}
	return fmt.Errorf("delivery %s: %s -> %s: %w", d.ID, status, d.Status, store.ErrInvalidTransition)
}

// ListDeliveries lists deliveries, most recently received first
func (s *dbStore) ListDeliveries(ctx context.Context, opts ...store.Option) ([]*models.WebhookDelivery, error) {
	ctx, span := s.startSpan(ctx, "dbStore.ListDeliveries", "webhook_deliveries")
	defer span.End()

	o, err := store.NewListDeliveriesOptions(opts...)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE ($1 = '' OR source = $1)
		  AND ($2 = '' OR event_type = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4::timestamptz IS NULL OR received_at >= $4::timestamptz)
		ORDER BY received_at DESC, id DESC
		LIMIT $5`, o.Source, o.EventType, string(o.Status), nullTime(o.Since), o.Limit)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	deliveries, err := collect(rows, scanDelivery)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}
