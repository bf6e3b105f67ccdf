package models

import (
	"encoding/json"
	"slices"
	"time"
)

// WebhookSubscription configures inbound push events from a source
type WebhookSubscription struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Source     string   `json:"source"`
	TargetURL  string   `json:"targetUrl,omitempty"`
	EventTypes []string `json:"eventTypes"`
	// Secret is never serialized in API responses
	Secret         string    `json:"-"`
	Enabled        bool      `json:"enabled"`
	MaxRetries     int       `json:"maxRetries"`
	TimeoutSeconds int       `json:"timeoutSeconds"`
	ExternalID     string    `json:"externalId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Handles reports whether the subscription covers the event type
func (s *WebhookSubscription) Handles(eventType string) bool {
	return slices.Contains(s.EventTypes, eventType)
}

// Timeout returns the handler timeout, defaulting to 30 seconds
func (s *WebhookSubscription) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// DeliveryStatus is the lifecycle state of a WebhookDelivery
type DeliveryStatus string

const (
	// DeliveryProcessing means the handler is running
	DeliveryProcessing DeliveryStatus = "processing"
	// DeliveryCompleted means the handler succeeded
	DeliveryCompleted DeliveryStatus = "completed"
	// DeliveryFailed means the handler or handler lookup failed
	DeliveryFailed DeliveryStatus = "failed"
)

// WebhookDelivery is the append-only log row for one received event
type WebhookDelivery struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscriptionId"`
	Source         string          `json:"source"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	Signature      string          `json:"signature"`
	Status         DeliveryStatus  `json:"status"`
	ReceivedAt     time.Time       `json:"receivedAt"`
	ProcessedAt    *time.Time      `json:"processedAt,omitempty"`
	DurationMs     int64           `json:"durationMs"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
}
