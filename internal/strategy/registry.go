package strategy

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry holds the policies the engine can switch between, keyed by
// Policy.Name. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// Register adds p. Names are unique; registering a second policy under a
// taken name fails.
func (r *Registry) Register(p Policy) error {
	name := p.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.policies[name]; taken {
		return fmt.Errorf("strategy %q: already registered", name)
	}
	r.policies[name] = p
	return nil
}

// Get returns the policy registered under name.
func (r *Registry) Get(name string) (Policy, error) {
	r.mu.RLock()
	p, ok := r.policies[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered (have %v)", name, r.List())
	}
	return p, nil
}

// List returns registered names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.policies))
}
