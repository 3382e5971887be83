// Package capability resolves and caches user capabilities from a policy
// source, and adapts them to the permission checks the entity managers run.
package capability

import (
	"strings"
	"sync"
	"time"

	"github.com/quazardous/qdadm/model"
)

// PolicyEvaluator computes the capability set granted to a request identity.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error)
}

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory TTL cache.
type Resolver struct {
	evaluator PolicyEvaluator
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a Resolver with the given evaluator and cache TTL.
func NewResolver(evaluator PolicyEvaluator, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		cache:     make(map[string]cacheEntry),
	}
}

func cacheKey(rctx *model.RequestContext) string {
	return rctx.SubjectID + ":" + rctx.TenantID
}

// Resolve returns the capability set for the subject, cached for the TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := cacheKey(rctx)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		return entry.caps, nil
	}
	r.mu.RUnlock()

	caps, err := r.evaluator.ResolveCapabilities(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{caps: caps, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return caps, nil
}

// Invalidate clears cached capabilities for the subject across all tenants.
func (r *Resolver) Invalidate(subjectID string) {
	prefix := subjectID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Authorizer adapts a resolver to the per-action permission checks run by
// the entity managers. Resolution failures deny.
type Authorizer struct {
	resolver model.CapabilityResolver
}

// NewAuthorizer wraps a resolver for manager permission checks.
func NewAuthorizer(resolver model.CapabilityResolver) *Authorizer {
	return &Authorizer{resolver: resolver}
}

// Allow reports whether the identity holds the capability. A nil request
// context denies.
func (a *Authorizer) Allow(rctx *model.RequestContext, capability string) bool {
	if rctx == nil {
		return false
	}
	caps, err := a.resolver.Resolve(rctx)
	if err != nil {
		return false
	}
	return caps.Has(capability)
}
