package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/sources"
)

// HandlerFunc processes one verified webhook payload. The returned value is stored as the delivery result.
type HandlerFunc func(ctx context.Context, payload json.RawMessage, sub *models.WebhookSubscription) (any, error)

// HandlerSpec binds a handler to a source and event type
type HandlerSpec struct {
	Source    string
	EventType string
	// Schema is an optional JSON schema the payload must satisfy before Handle runs
	Schema string
	Handle HandlerFunc
}

// Key returns the registry key, "source.eventType"
func (h HandlerSpec) Key() string {
	return HandlerKey(h.Source, h.EventType)
}

// validate checks payload against the handler schema
func (h HandlerSpec) validate(payload []byte) error {
	if h.Schema == "" {
		return nil
	}
	if err := sources.ValidateDocument(h.Schema, payload); err != nil {
		return models.NewValidationError("payload", "%v", err)
	}
	return nil
}

// HandlerKey builds the registry key for a source and event type
func HandlerKey(source, eventType string) string {
	return source + "." + eventType
}

// Registry resolves handlers by source and event type
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerSpec
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerSpec{}}
}

// Register adds a handler. The schema is compiled up front and a key can only be registered once.
func (r *Registry) Register(specs ...HandlerSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spec := range specs {
		if spec.Source == "" || spec.EventType == "" || spec.Handle == nil {
			return fmt.Errorf("handler %q: source, event type and handle are required", spec.Key())
		}
		if _, ok := r.handlers[spec.Key()]; ok {
			return fmt.Errorf("handler %s is already registered", spec.Key())
		}
		if spec.Schema != "" {
			if _, err := sources.CompileSchema(spec.Schema); err != nil {
				return fmt.Errorf("handler %s: %w", spec.Key(), err)
			}
		}
		r.handlers[spec.Key()] = spec
	}
	return nil
}

// Lookup returns the handler for source and event type, or a NotFoundError
func (r *Registry) Lookup(source, eventType string) (HandlerSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.handlers[HandlerKey(source, eventType)]
	if !ok {
		return HandlerSpec{}, models.NewNotFoundError("handler", HandlerKey(source, eventType))
	}
	return spec, nil
}

// Keys returns the registered handler keys in order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
