package engine

import (
	"fmt"
	"sort"
	"sync"

	allocerrors "slotbook/internal/allocation/errors"
)

// Registry holds the named pools served by one process. It is built once at
// startup and handed to whoever needs it.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Engine)}
}

func (r *Registry) Register(e *Engine) error {
	if e == nil || e.Name() == "" {
		return fmt.Errorf("pool name is required: %w", allocerrors.ErrInvalidState)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[e.Name()]; exists {
		return fmt.Errorf("pool %s: %w", e.Name(), allocerrors.ErrDuplicatePool)
	}
	r.pools[e.Name()] = e
	return nil
}

func (r *Registry) Get(name string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.pools[name]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", name, allocerrors.ErrPoolNotFound)
	}
	return e, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
