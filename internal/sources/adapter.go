package sources

import (
	"context"
	"encoding/json"

	"github.com/stacklok/integration-sync/internal/models"
)

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks -source=adapter.go Adapter,WebhookRegistrar

// Adapter is the connector for one external source
type Adapter interface {
	// Name returns the configured source name
	Name() string

	// Type returns the adapter type (tenable, xacta, simulated)
	Type() string

	// Kinds returns the entity kinds the source can supply
	Kinds() []models.EntityKind

	// TestConnection verifies credentials and reachability
	TestConnection(ctx context.Context) error

	// Fetch returns one page of raw records of the requested kind
	Fetch(ctx context.Context, req FetchRequest) (*Page, error)

	// FetchOne returns a single raw record by its source identifier
	FetchOne(ctx context.Context, kind models.EntityKind, externalID string) (*RawRecord, error)

	// Normalize converts a raw record into the source-independent shape
	Normalize(raw RawRecord) (*models.NormalizedRecord, error)

	// FilterSchema returns the JSON schema job filters must satisfy
	FilterSchema() string
}

// WebhookRegistrar is implemented by sources that accept push subscriptions
type WebhookRegistrar interface {
	// RegisterWebhook subscribes callbackURL to eventTypes and returns the source's subscription id
	RegisterWebhook(ctx context.Context, name, callbackURL string, eventTypes []string, secret string) (string, error)

	// UnregisterWebhook removes a subscription by the id RegisterWebhook returned
	UnregisterWebhook(ctx context.Context, externalID string) error
}

// FetchRequest selects one page of one entity kind
type FetchRequest struct {
	Kind    models.EntityKind
	Page    int
	PerPage int
	Filters map[string]any
}

// RawRecord is a record as the source returned it
type RawRecord struct {
	Kind models.EntityKind `json:"kind"`
	Data json.RawMessage   `json:"data"`
}

// Page is one page of a Fetch
type Page struct {
	Records []RawRecord
	Page    int
	PerPage int
	Total   int
	// HasMore reports whether a later page may hold records
	HasMore bool
}
