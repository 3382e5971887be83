package model

// Option is a resolved label/value pair for dropdowns, autocompletes, and
// filters. A nil Value marks the "All <Label>" sentinel.
type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Widget kinds chosen by option resolution.
const (
	WidgetSelect       = "select"
	WidgetMultiselect  = "multiselect"
	WidgetAutocomplete = "autocomplete"
	WidgetDate         = "date"
	WidgetCheckbox     = "checkbox"
)

// FilterState is one resolved filter control plus its current value.
type FilterState struct {
	Name    string   `json:"name"`
	Field   string   `json:"field"`
	Label   string   `json:"label"`
	Widget  string   `json:"widget"`
	Value   any      `json:"value,omitempty"`
	Options []Option `json:"options,omitempty"`
	Persist bool     `json:"persist"`
	// OptionsLoaded latches once cache-derived options have resolved.
	OptionsLoaded bool `json:"options_loaded"`
}

// ColumnState is one resolved list column.
type ColumnState struct {
	Field    string `json:"field"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Sortable bool   `json:"sortable"`
	Format   string `json:"format,omitempty"`
}

// ListState is the full state+config bundle a list view binds to.
type ListState struct {
	Entity        string             `json:"entity"`
	Title         string             `json:"title"`
	Columns       []ColumnState      `json:"columns"`
	Filters       []FilterState      `json:"filters,omitempty"`
	Items         []Record           `json:"items"`
	Total         int                `json:"total"`
	Page          int                `json:"page"`
	PageSize      int                `json:"page_size"`
	SortBy        string             `json:"sort_by,omitempty"`
	SortOrder     string             `json:"sort_order,omitempty"`
	Search        string             `json:"search,omitempty"`
	Loading       bool               `json:"loading"`
	Selectable    bool               `json:"selectable"`
	Selected      []string           `json:"selected,omitempty"`
	RowActions    []ActionDescriptor `json:"row_actions,omitempty"`
	HeaderActions []ActionDescriptor `json:"header_actions,omitempty"`
	BulkActions   []ActionDescriptor `json:"bulk_actions,omitempty"`
	Breadcrumb    []BreadcrumbEntry  `json:"breadcrumb,omitempty"`
	NavLinks      []NavLink          `json:"nav_links,omitempty"`
}

// FieldState is one resolved form or show field.
type FieldState struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	// Type is the input type tag: text, textarea, number, integer,
	// checkbox, date, datetime, email, url, select, reference.
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	ReadOnly    bool     `json:"read_only"`
	Placeholder string   `json:"placeholder,omitempty"`
	HelpText    string   `json:"help_text,omitempty"`
	Options     []Option `json:"options,omitempty"`
	Reference   string   `json:"reference,omitempty"`
	Value       any      `json:"value,omitempty"`
	Error       string   `json:"error,omitempty"`
	Dirty       bool     `json:"dirty,omitempty"`
}

// Form modes.
const (
	ModeCreate = "create"
	ModeEdit   = "edit"
)

// FormState is the full state+config bundle a form view binds to.
type FormState struct {
	Entity     string            `json:"entity"`
	Title      string            `json:"title"`
	Mode       string            `json:"mode"`
	ID         string            `json:"id,omitempty"`
	Fields     []FieldState      `json:"fields"`
	Values     Record            `json:"values"`
	Errors     map[string]string `json:"errors,omitempty"`
	Dirty      bool              `json:"dirty"`
	Submitted  bool              `json:"submitted"`
	Saving     bool              `json:"saving"`
	Loading    bool              `json:"loading"`
	CanDelete  bool              `json:"can_delete"`
	Breadcrumb []BreadcrumbEntry `json:"breadcrumb,omitempty"`
}

// ShowState is the read-only counterpart of FormState.
type ShowState struct {
	Entity     string             `json:"entity"`
	Title      string             `json:"title"`
	ID         string             `json:"id"`
	Fields     []FieldState       `json:"fields"`
	Actions    []ActionDescriptor `json:"actions,omitempty"`
	Loading    bool               `json:"loading"`
	Breadcrumb []BreadcrumbEntry  `json:"breadcrumb,omitempty"`
}

// ActionDescriptor is a resolved action sent to the frontend.
type ActionDescriptor struct {
	ID           string                   `json:"id"`
	Label        string                   `json:"label"`
	Icon         string                   `json:"icon,omitempty"`
	Style        string                   `json:"style,omitempty"`
	Type         string                   `json:"type"`
	NavigateTo   string                   `json:"navigate_to,omitempty"`
	Enabled      bool                     `json:"enabled"`
	Visible      bool                     `json:"visible"`
	Confirmation *ConfirmationDescriptor  `json:"confirmation,omitempty"`
	Conditions   []ConditionDefinition    `json:"conditions,omitempty"`
}

// ConfirmationDescriptor describes a resolved confirmation dialog.
type ConfirmationDescriptor struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Confirm string `json:"confirm"`
	Cancel  string `json:"cancel,omitempty"`
	Style   string `json:"style,omitempty"`
}

// Navigation chain entry kinds.
const (
	ChainEntityList   = "entity-list"
	ChainEntityShow   = "entity-show"
	ChainEntityEdit   = "entity-edit"
	ChainEntityCreate = "entity-create"
	ChainEntityDelete = "entity-delete"
	ChainRoute        = "route"
)

// BreadcrumbEntry is a semantic location descriptor derived from the current
// route. Entries are links unless they are the last in the chain.
type BreadcrumbEntry struct {
	Kind   string `json:"kind"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
	Route  string `json:"route,omitempty"`
	Label  string `json:"label"`
	Link   bool   `json:"link"`
}

// NavLink is a tab-like sibling link for child routes sharing one parent.
type NavLink struct {
	Label  string `json:"label"`
	Route  string `json:"route"`
	Active bool   `json:"active"`
}

// NavigationTree is the admin menu returned to the frontend.
type NavigationTree struct {
	Items []NavigationNode `json:"items"`
}

// NavigationNode is a single menu entry.
type NavigationNode struct {
	Entity string `json:"entity"`
	Label  string `json:"label"`
	Icon   string `json:"icon,omitempty"`
	Route  string `json:"route"`
}

// SearchResult is one hit from global entity search.
type SearchResult struct {
	Entity   string `json:"entity"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Route    string `json:"route"`
	Weight   int    `json:"-"`
}
