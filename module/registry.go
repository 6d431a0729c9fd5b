// Package module holds the host built-in modules that bare specifiers resolve
// to without touching the filesystem.
package module

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a built-in module's exported value.
type Factory func() (any, error)

type entry struct {
	factory Factory
	once    sync.Once
	exports any
	err     error
}

// Registry maintains known built-in modules.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Register installs a built-in factory. Returns an error if the ID already exists.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("module: id is required")
	}
	if factory == nil {
		return fmt.Errorf("module: factory is required for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("module: %s already registered", id)
	}
	r.entries[id] = &entry{factory: factory}
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Has reports whether id names a built-in.
func (r *Registry) Has(id string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Resolve returns the built-in's exports, constructing them on first use.
// A factory error is remembered; built-ins are not retried.
func (r *Registry) Resolve(id string) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module: unknown built-in %s", id)
	}
	e.once.Do(func() {
		e.exports, e.err = e.factory()
	})
	if e.err != nil {
		return nil, fmt.Errorf("module: %s: %w", id, e.err)
	}
	return e.exports, nil
}

// IDs returns a sorted list of registered built-in identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
