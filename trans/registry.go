package trans

import (
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/weir/errors"
)

// Factory builds a fresh worker for one step from its settings.
type Factory func(cfg Config) (Worker, error)

// Registry maps step type ids to worker factories.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a type id.
// Panics if the type id is already registered.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		panic(fmt.Sprintf("step type already registered: %s", typ))
	}
	r.factories[typ] = f
}

// Has checks if a factory is registered for a type id.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[typ]
	return exists
}

// Names returns the registered type ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a worker of the given type.
func (r *Registry) New(typ string, cfg Config) (Worker, error) {
	r.mu.RLock()
	f := r.factories[typ]
	r.mu.RUnlock()

	if f == nil {
		return nil, errors.NewNotFoundError("step type %q", typ)
	}
	if cfg == nil {
		cfg = NoConfig{}
	}
	w, err := f(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "configure %s", typ)
	}
	return w, nil
}
