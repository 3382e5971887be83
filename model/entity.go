package model

import "context"

// Record is a single entity instance as exchanged with a backend: a flat or
// nested map of field name to value.
type Record map[string]any

// ID returns the record's identifier under the given id field, stringified.
func (r Record) ID(idField string) string {
	v, ok := r[idField]
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case float64:
		// JSON numbers decode as float64; render integral values without
		// a fractional part.
		if id == float64(int64(id)) {
			return itoa(int64(id))
		}
		return ""
	case int:
		return itoa(int64(id))
	case int64:
		return itoa(id)
	default:
		return ""
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ListQuery is the assembled parameter set passed to Manager.List.
type ListQuery struct {
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
	Search       string
	SearchFields []string
	// Filters holds query-ready filter parameters, after each filter's
	// ToQuery mapping (or raw name/value) has been applied.
	Filters map[string]any
}

// ListResult is the outcome of Manager.List.
type ListResult struct {
	Items []Record
	Total int
}

// RequestOptions carries optional parameters for Manager.Request.
type RequestOptions struct {
	Query   map[string]string
	Headers map[string]string
	Body    any
}

// FieldSpec is a schema-derived field descriptor returned by
// Manager.FormFields. Type uses schema type tags ("string", "integer",
// "number", "boolean", "date", "datetime", "text", "email", "url",
// "reference", "enum").
type FieldSpec struct {
	Name     string
	Type     string
	Label    string
	Required bool
	// Enum holds allowed values for enum-typed fields.
	Enum []string
	// Reference names the target entity for reference-typed fields.
	Reference string
}

// Manager is the per-entity data access contract. Implementations own
// querying, caching, and permission checks for one entity type; the page
// controllers consume them via dependency injection and never reach around
// them.
type Manager interface {
	// List fetches a page of records for the assembled query.
	List(ctx context.Context, q ListQuery) (ListResult, error)

	// Get fetches one record by id.
	Get(ctx context.Context, id string) (Record, error)

	// Create stores a new record and returns the stored representation.
	Create(ctx context.Context, rec Record) (Record, error)

	// Update replaces the record with the given id.
	Update(ctx context.Context, id string, rec Record) (Record, error)

	// Patch partially updates the record with the given id.
	Patch(ctx context.Context, id string, rec Record) (Record, error)

	// Delete removes the record with the given id.
	Delete(ctx context.Context, id string) error

	// Request performs an arbitrary entity-scoped call, e.g. the
	// "distinct/<field>" endpoint used by filter option resolution.
	Request(ctx context.Context, method, path string, opts RequestOptions) (any, error)

	// Permission predicates, evaluated against the request identity.
	CanCreate(rctx *RequestContext) bool
	CanUpdate(rctx *RequestContext) bool
	CanDelete(rctx *RequestContext) bool

	// InitialData returns the default field values for a create form.
	InitialData() Record

	// FormFields returns the schema-derived field specs in render order.
	FormFields() []FieldSpec

	// FieldConfig returns the spec for one field, if known.
	FieldConfig(name string) (FieldSpec, bool)

	// EntityLabel renders a human-readable label for a record.
	EntityLabel(rec Record) string

	// IDField names the identifier field ("id" unless overridden).
	IDField() string

	// Label and LabelPlural are the display names of the entity type.
	Label() string
	LabelPlural() string

	// RoutePrefix is the admin route segment owning this entity
	// (e.g. "books" serves /books, /books/:id/edit, ...).
	RoutePrefix() string
}
