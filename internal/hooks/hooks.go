// Package hooks implements the named extension-point registry. External code
// registers transform functions under a hook name ("list:alter",
// "books:list:alter", ...); the page controllers run the pipeline over a
// config snapshot between internal generation and first render.
package hooks

import (
	"sync"

	"go.uber.org/zap"
)

// Transform rewrites a config snapshot. It must return an object of the same
// shape; returning nil keeps the input unchanged.
type Transform func(cfg map[string]any) map[string]any

// Registry is a string-keyed registry of ordered transform pipelines.
// Registration order is invocation order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string][]Transform
	logger *zap.Logger
}

// NewRegistry creates an empty hook registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName: make(map[string][]Transform),
		logger: logger,
	}
}

// Register appends a transform to the pipeline for the given hook name.
func (r *Registry) Register(name string, fn Transform) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = append(r.byName[name], fn)
}

// Alter runs the pipeline registered under name over cfg, in registration
// order, and returns the final snapshot. Unknown names are a no-op.
func (r *Registry) Alter(name string, cfg map[string]any) map[string]any {
	r.mu.RLock()
	pipeline := r.byName[name]
	r.mu.RUnlock()

	for _, fn := range pipeline {
		out := fn(cfg)
		if out == nil {
			r.logger.Debug("hook transform returned nil, keeping input",
				zap.String("hook", name))
			continue
		}
		cfg = out
	}
	return cfg
}

// AlterScoped runs the generic pipeline first, then the entity-scoped one
// ("list:alter" then "<entity>:list:alter").
func (r *Registry) AlterScoped(entity, name string, cfg map[string]any) map[string]any {
	cfg = r.Alter(name, cfg)
	if entity != "" {
		cfg = r.Alter(entity+":"+name, cfg)
	}
	return cfg
}

// Len returns the number of transforms registered under name. For testing.
func (r *Registry) Len(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[name])
}
