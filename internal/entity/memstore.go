package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/quazardous/qdadm/model"
)

// MemoryManager is an in-memory Manager for tests, demos, and entities
// without an external backend. It honors the full list query contract:
// filters, search, sorting, and pagination.
type MemoryManager struct {
	base

	mu      sync.RWMutex
	records map[string]model.Record
	order   []string
}

// NewMemoryManager creates an empty in-memory manager for the entity.
func NewMemoryManager(def model.EntityDefinition, fields []model.FieldSpec, authz Authorizer) *MemoryManager {
	return &MemoryManager{
		base:    newBase(def, fields, authz),
		records: make(map[string]model.Record),
	}
}

// Seed loads initial records, assigning ids where missing. For setup only.
func (m *MemoryManager) Seed(records ...model.Record) {
	for _, rec := range records {
		stored := cloneRecord(rec)
		id := stored.ID(m.IDField())
		if id == "" {
			id = uuid.NewString()
			stored[m.IDField()] = id
		}
		m.mu.Lock()
		if _, exists := m.records[id]; !exists {
			m.order = append(m.order, id)
		}
		m.records[id] = stored
		m.mu.Unlock()
	}
}

func (m *MemoryManager) List(_ context.Context, q model.ListQuery) (model.ListResult, error) {
	m.mu.RLock()
	all := make([]model.Record, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, m.records[id])
	}
	m.mu.RUnlock()

	matched := make([]model.Record, 0, len(all))
	for _, rec := range all {
		if !matchesFilters(rec, q.Filters) {
			continue
		}
		if !matchesSearch(rec, q.Search, q.SearchFields) {
			continue
		}
		matched = append(matched, rec)
	}

	if q.SortBy != "" {
		desc := strings.EqualFold(q.SortOrder, "desc")
		sort.SliceStable(matched, func(i, j int) bool {
			less := compareValues(matched[i][q.SortBy], matched[j][q.SortBy])
			if desc {
				return !less
			}
			return less
		})
	}

	total := len(matched)
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 {
		size = total
	}
	start := (page - 1) * size
	if start >= total {
		return model.ListResult{Items: []model.Record{}, Total: total}, nil
	}
	end := start + size
	if end > total {
		end = total
	}

	items := make([]model.Record, 0, end-start)
	for _, rec := range matched[start:end] {
		items = append(items, cloneRecord(rec))
	}
	return model.ListResult{Items: items, Total: total}, nil
}

func (m *MemoryManager) Get(_ context.Context, id string) (model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.records[id]
	if !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", m.def.Entity, id))
	}
	return cloneRecord(rec), nil
}

func (m *MemoryManager) Create(_ context.Context, rec model.Record) (model.Record, error) {
	stored := cloneRecord(rec)
	id := stored.ID(m.IDField())
	if id == "" {
		id = uuid.NewString()
		stored[m.IDField()] = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; exists {
		return nil, model.NewConflictError(fmt.Sprintf("%s %q already exists", m.def.Entity, id))
	}
	m.records[id] = stored
	m.order = append(m.order, id)
	return cloneRecord(stored), nil
}

func (m *MemoryManager) Update(_ context.Context, id string, rec model.Record) (model.Record, error) {
	stored := cloneRecord(rec)
	stored[m.IDField()] = id

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", m.def.Entity, id))
	}
	m.records[id] = stored
	return cloneRecord(stored), nil
}

func (m *MemoryManager) Patch(_ context.Context, id string, rec model.Record) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.records[id]
	if !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", m.def.Entity, id))
	}

	merged := cloneRecord(existing)
	for k, v := range rec {
		if k == m.IDField() {
			continue
		}
		merged[k] = v
	}
	m.records[id] = merged
	return cloneRecord(merged), nil
}

func (m *MemoryManager) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("%s %q not found", m.def.Entity, id))
	}
	delete(m.records, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Request supports the "distinct/<field>" endpoint over the stored records.
func (m *MemoryManager) Request(_ context.Context, method, path string, _ model.RequestOptions) (any, error) {
	if method != "GET" || !strings.HasPrefix(path, "distinct/") {
		return nil, model.NewNotFoundError(fmt.Sprintf("unsupported request %s %s", method, path))
	}
	field := strings.TrimPrefix(path, "distinct/")

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var values []any
	for _, id := range m.order {
		v := m.records[id][field]
		if v == nil {
			continue
		}
		key := fmt.Sprintf("%v", v)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return compareValues(values[i], values[j]) })
	return values, nil
}

// Len returns the number of stored records. For testing.
func (m *MemoryManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func cloneRecord(rec model.Record) model.Record {
	out := make(model.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func matchesFilters(rec model.Record, filters map[string]any) bool {
	for field, want := range filters {
		if want == nil {
			continue
		}
		got, exists := rec[field]
		if !exists {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func matchesSearch(rec model.Record, term string, fields []string) bool {
	if term == "" {
		return true
	}
	needle := strings.ToLower(term)

	if len(fields) == 0 {
		for _, v := range rec {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
		return false
	}
	for _, field := range fields {
		if s, ok := rec[field].(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func compareValues(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af < bf
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
