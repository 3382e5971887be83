package session

import (
	"context"
	"net/url"
	"time"
)

// SearchKey is the reserved entry alongside filter values that carries the
// free-text search term.
const SearchKey = "_search"

// FilterKey builds the session entry key for an entity's list filters. The
// name argument wins over the entity so two lists over the same entity can
// persist independently.
func FilterKey(entity, name string) string {
	if name != "" {
		return "qdadm_filters_" + name
	}
	return "qdadm_filters_" + entity
}

// Filters couples a session store with the key scheme for list persistence.
type Filters struct {
	store Store
	ttl   time.Duration
}

// NewFilters creates a Filters helper. A zero TTL keeps entries for the
// store's lifetime.
func NewFilters(store Store, ttl time.Duration) *Filters {
	return &Filters{store: store, ttl: ttl}
}

// Save persists the filter values plus the search term for one list.
func (f *Filters) Save(ctx context.Context, sessionID, entity, name string, values map[string]any, search string) error {
	stored := make(map[string]any, len(values)+1)
	for k, v := range values {
		if v == nil {
			continue
		}
		stored[k] = v
	}
	if search != "" {
		stored[SearchKey] = search
	}

	key := FilterKey(entity, name)
	if len(stored) == 0 {
		return f.store.Delete(ctx, sessionID, key)
	}
	return f.store.Put(ctx, sessionID, key, stored, f.ttl)
}

// Load returns the persisted filter values and search term for one list.
func (f *Filters) Load(ctx context.Context, sessionID, entity, name string) (map[string]any, string, error) {
	stored, ok, err := f.store.Get(ctx, sessionID, FilterKey(entity, name))
	if err != nil || !ok {
		return nil, "", err
	}

	search, _ := stored[SearchKey].(string)
	delete(stored, SearchKey)
	return stored, search, nil
}

// Clear drops the persisted state for one list.
func (f *Filters) Clear(ctx context.Context, sessionID, entity, name string) error {
	return f.store.Delete(ctx, sessionID, FilterKey(entity, name))
}

// FromQuery extracts filter values and the search term from a URL query,
// restricted to the known filter names. Values arrive as strings; the list
// controller converts them per filter.
func FromQuery(q url.Values, filterNames []string) (map[string]any, string) {
	values := make(map[string]any)
	for _, name := range filterNames {
		if v := q.Get(name); v != "" {
			values[name] = v
		}
	}
	return values, q.Get("q")
}

// ToQuery mirrors filter values and the search term into a URL query map.
func ToQuery(values map[string]any, search string) url.Values {
	q := url.Values{}
	for name, v := range values {
		if v == nil {
			continue
		}
		q.Set(name, stringValue(v))
	}
	if search != "" {
		q.Set("q", search)
	}
	return q
}

// Merge resolves a restore conflict between the URL query and the session
// store: the URL wins per filter, the session fills the rest. The search
// term follows the same rule.
func Merge(fromURL, fromSession map[string]any, urlSearch, sessionSearch string) (map[string]any, string) {
	merged := make(map[string]any, len(fromSession)+len(fromURL))
	for k, v := range fromSession {
		merged[k] = v
	}
	for k, v := range fromURL {
		merged[k] = v
	}

	search := sessionSearch
	if urlSearch != "" {
		search = urlSearch
	}
	return merged, search
}
