package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/quazardous/qdadm/model"
)

// snapshot is an immutable view of all loaded definitions.
type snapshot struct {
	byEntity map[string]model.EntityDefinition
	byPrefix map[string]model.EntityDefinition
	entities []string
	checksum string
}

// Registry is a read-optimized, thread-safe store of entity definitions.
// Reads are lock-free; Replace swaps in a rebuilt snapshot atomically.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.EntityDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents.
func (r *Registry) Replace(defs []model.EntityDefinition) {
	s := &snapshot{
		byEntity: make(map[string]model.EntityDefinition, len(defs)),
		byPrefix: make(map[string]model.EntityDefinition, len(defs)),
	}

	var checksumParts []string
	for _, def := range defs {
		s.byEntity[def.Entity] = def
		prefix := def.RoutePrefix
		if prefix == "" {
			prefix = def.Entity
		}
		s.byPrefix[prefix] = def
		s.entities = append(s.entities, def.Entity)
		checksumParts = append(checksumParts, def.Checksum)
	}
	sort.Strings(s.entities)

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the definition for an entity name.
func (r *Registry) Get(entity string) (model.EntityDefinition, bool) {
	def, ok := r.current().byEntity[entity]
	return def, ok
}

// GetByPrefix returns the definition registered under a route prefix.
func (r *Registry) GetByPrefix(prefix string) (model.EntityDefinition, bool) {
	def, ok := r.current().byPrefix[prefix]
	return def, ok
}

// Entities returns the defined entity names, sorted.
func (r *Registry) Entities() []string {
	cur := r.current().entities
	out := make([]string, len(cur))
	copy(out, cur)
	return out
}

// All returns every definition, ordered by entity name.
func (r *Registry) All() []model.EntityDefinition {
	cur := r.current()
	out := make([]model.EntityDefinition, 0, len(cur.entities))
	for _, name := range cur.entities {
		out = append(out, cur.byEntity[name])
	}
	return out
}

// Checksum identifies the loaded definition set as a whole.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
