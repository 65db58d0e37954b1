package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Store from backend specific settings.
type Factory func(ctx context.Context, settings map[string]interface{}) (Store, error)

// Registry maps backend types to store factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for typ.
func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("store type '%s' already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Open builds a store of the given type.
func (r *Registry) Open(ctx context.Context, typ string, settings map[string]interface{}) (Store, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store type '%s' (available: %v)", typ, r.Types())
	}
	return f(ctx, settings)
}

// Types returns the registered backend types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
