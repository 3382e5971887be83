package nav

import "sync"

// Hydrator is the label registry breadcrumb items consult once entity data
// arrives. Keys are (entity, id); values are display labels. Pages put
// labels in as records load; the chain builder reads them out lazily, so a
// chain computed before data arrives falls back to raw ids.
type Hydrator struct {
	mu     sync.RWMutex
	labels map[hydrateKey]string
}

type hydrateKey struct {
	entity string
	id     string
}

// NewHydrator creates an empty hydration registry.
func NewHydrator() *Hydrator {
	return &Hydrator{labels: make(map[hydrateKey]string)}
}

// Put records the display label for (entity, id). Empty labels are ignored.
func (h *Hydrator) Put(entity, id, label string) {
	if label == "" || id == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.labels[hydrateKey{entity, id}] = label
}

// Get returns the label for (entity, id), if hydrated.
func (h *Hydrator) Get(entity, id string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	label, ok := h.labels[hydrateKey{entity, id}]
	return label, ok
}

// Forget drops the label for (entity, id), e.g. after a delete.
func (h *Hydrator) Forget(entity, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.labels, hydrateKey{entity, id})
}
