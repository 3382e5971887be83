// Package entity provides the per-entity data access layer: a manager
// registry plus REST, Postgres, and in-memory manager implementations bound
// to entity definitions.
package entity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quazardous/qdadm/model"
)

// Registry holds the managers for all registered entities.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]model.Manager
}

// NewRegistry creates an empty manager registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]model.Manager)}
}

// Register binds a manager to an entity name. Re-registering replaces the
// previous manager.
func (r *Registry) Register(entity string, mgr model.Manager) error {
	if entity == "" {
		return fmt.Errorf("entity: empty entity name")
	}
	if mgr == nil {
		return fmt.Errorf("entity: nil manager for %q", entity)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[entity] = mgr
	return nil
}

// Manager returns the manager registered for the entity.
func (r *Registry) Manager(entity string) (model.Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mgr, ok := r.managers[entity]
	return mgr, ok
}

// Entities returns the registered entity names, sorted.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
