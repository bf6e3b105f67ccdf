package sources

import (
	"context"
	"fmt"
	"sort"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/httpclient"
	"github.com/stacklok/integration-sync/internal/models"
)

// Factory creates adapters from source configuration
type Factory interface {
	// Create builds the adapter for one source
	Create(ctx context.Context, src *config.SourceConfig) (Adapter, error)
}

// defaultFactory is the default implementation of Factory
type defaultFactory struct {
	clientOpts []httpclient.Option
}

var _ Factory = (*defaultFactory)(nil)

// NewFactory creates a factory. The client options are applied to every HTTP adapter.
func NewFactory(clientOpts ...httpclient.Option) Factory {
	return &defaultFactory{clientOpts: clientOpts}
}

// Create builds the adapter for the source type
func (f *defaultFactory) Create(ctx context.Context, src *config.SourceConfig) (Adapter, error) {
	switch src.Type {
	case config.SourceTypeTenable:
		return NewTenableAdapter(src, f.clientOpts...)
	case config.SourceTypeXacta:
		return NewXactaAdapter(ctx, src, f.clientOpts...)
	case config.SourceTypeSimulated:
		return NewSimulatedAdapter(src)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", src.Type)
	}
}

// Registry resolves adapters by source name
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// BuildRegistry creates an adapter for every configured source
func BuildRegistry(ctx context.Context, factory Factory, srcs []config.SourceConfig) (*Registry, error) {
	adapters := make([]Adapter, 0, len(srcs))
	for i := range srcs {
		a, err := factory.Create(ctx, &srcs[i])
		if err != nil {
			return nil, fmt.Errorf("sources[%d] (%s): %w", i, srcs[i].Name, err)
		}
		adapters = append(adapters, a)
	}
	return NewRegistry(adapters...), nil
}

// Get returns the adapter for a source, or a NotFoundError
func (r *Registry) Get(name string) (Adapter, error) {
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	return nil, models.NewNotFoundError("source", name)
}

// Names returns the source names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
