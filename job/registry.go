package job

import (
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/trans"
)

// Factory builds an entry from its settings.
type Factory func(cfg Config) (Entry, error)

// Registry maps entry type ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a type id. Panics on a duplicate id.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		panic(fmt.Sprintf("entry type already registered: %s", typ))
	}
	r.factories[typ] = f
}

func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typ]
	return ok
}

// Names returns the registered type ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds an entry of the given type.
func (r *Registry) New(typ string, cfg Config) (Entry, error) {
	r.mu.RLock()
	f := r.factories[typ]
	r.mu.RUnlock()
	if f == nil {
		return nil, errors.NewNotFoundError("entry type %q", typ)
	}
	if cfg == nil {
		cfg = trans.NoConfig{}
	}
	e, err := f(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "configure %s", typ)
	}
	return e, nil
}
