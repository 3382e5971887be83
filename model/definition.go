package model

// EntityDefinition is the root structure of a definition file. Each file
// declares one entity's admin screens: list columns and filters, form and
// show fields, and the actions around them.
type EntityDefinition struct {
	Entity      string           `yaml:"entity"       json:"entity"`
	Version     string           `yaml:"version"      json:"version"`
	Label       string           `yaml:"label"        json:"label"`
	LabelPlural string           `yaml:"label_plural" json:"label_plural"`
	IDField     string           `yaml:"id_field"     json:"id_field"`
	// LabelField names the record field used as a display label.
	LabelField  string           `yaml:"label_field"  json:"label_field,omitempty"`
	RoutePrefix string           `yaml:"route_prefix" json:"route_prefix"`
	Parent      *ParentRef       `yaml:"parent"       json:"parent,omitempty"`
	Menu        *MenuEntry       `yaml:"menu"         json:"menu,omitempty"`
	List        ListDefinition   `yaml:"list"         json:"list"`
	Form        FormDefinition   `yaml:"form"         json:"form"`
	Show        ShowDefinition   `yaml:"show"         json:"show"`
	Backend     BackendBinding   `yaml:"backend"      json:"backend"`
	Search      *SearchBinding   `yaml:"search"       json:"search,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// ParentRef ties a child entity to its parent for breadcrumb and navlink
// derivation (e.g. chapters belong to books via route param "bookId").
type ParentRef struct {
	Entity string `yaml:"entity" json:"entity"`
	Param  string `yaml:"param"  json:"param"`
}

// MenuEntry describes the entity's entry in the admin navigation menu.
type MenuEntry struct {
	Label        string   `yaml:"label"        json:"label"`
	Icon         string   `yaml:"icon"         json:"icon,omitempty"`
	Order        int      `yaml:"order"        json:"order"`
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`
}

// BackendBinding selects and configures the Manager implementation backing
// this entity.
type BackendBinding struct {
	// Driver is "rest", "postgres", or "memory".
	Driver string `yaml:"driver" json:"driver"`
	// ServiceID names the configured backend service (rest driver).
	ServiceID string `yaml:"service_id" json:"service_id,omitempty"`
	// BasePath is the collection path on the service (rest driver);
	// defaults to the route prefix.
	BasePath string `yaml:"base_path" json:"base_path,omitempty"`
	// Table is the backing table (postgres driver); defaults to the
	// entity name.
	Table string `yaml:"table" json:"table,omitempty"`
	// Schema names the OpenAPI component schema that describes this
	// entity's fields; resolved through the schema index.
	Schema string `yaml:"schema" json:"schema,omitempty"`
}

// SearchBinding opts the entity into global search.
type SearchBinding struct {
	Fields     []string `yaml:"fields"      json:"fields"`
	Weight     int      `yaml:"weight"      json:"weight,omitempty"`
	MaxResults int      `yaml:"max_results" json:"max_results,omitempty"`
}

// ListDefinition describes the entity's list screen.
type ListDefinition struct {
	Capabilities  []string           `yaml:"capabilities"   json:"capabilities,omitempty"`
	Columns       []ColumnDefinition `yaml:"columns"        json:"columns"`
	Filters       []FilterDefinition `yaml:"filters"        json:"filters,omitempty"`
	SearchFields  []string           `yaml:"search_fields"  json:"search_fields,omitempty"`
	DefaultSort   string             `yaml:"default_sort"   json:"default_sort,omitempty"`
	SortOrder     string             `yaml:"sort_order"     json:"sort_order,omitempty"`
	PageSize      int                `yaml:"page_size"      json:"page_size,omitempty"`
	Selectable    bool               `yaml:"selectable"     json:"selectable,omitempty"`
	Persist       bool               `yaml:"persist"        json:"persist,omitempty"`
	LocalSearch   bool               `yaml:"local_search"   json:"local_search,omitempty"`
	RowActions    []ActionDefinition `yaml:"row_actions"    json:"row_actions,omitempty"`
	HeaderActions []ActionDefinition `yaml:"header_actions" json:"header_actions,omitempty"`
	BulkActions   []ActionDefinition `yaml:"bulk_actions"   json:"bulk_actions,omitempty"`
}

// ColumnDefinition describes a list column.
type ColumnDefinition struct {
	Field    string `yaml:"field"    json:"field"`
	Label    string `yaml:"label"    json:"label"`
	Type     string `yaml:"type"     json:"type"`
	Sortable bool   `yaml:"sortable" json:"sortable,omitempty"`
	Format   string `yaml:"format"   json:"format,omitempty"`
	// Visible is an expression evaluated client-side ("hidden" drops the
	// column server-side).
	Visible string `yaml:"visible" json:"visible,omitempty"`
}

// FilterDefinition describes one filter control above the list.
type FilterDefinition struct {
	Name  string `yaml:"name"  json:"name"`
	Field string `yaml:"field" json:"field,omitempty"`
	Label string `yaml:"label" json:"label"`
	// Type is select, multiselect, date, checkbox, or autocomplete.
	// Empty means the widget is chosen from the option count.
	Type    string `yaml:"type"    json:"type,omitempty"`
	Default any    `yaml:"default" json:"default,omitempty"`
	// Persist includes this filter in session/URL persistence.
	Persist bool `yaml:"persist" json:"persist,omitempty"`
	// Local applies the filter client-side on top of server results.
	Local bool `yaml:"local" json:"local,omitempty"`

	// Option sources, mutually exclusive, in priority order.
	Static        []StaticOption `yaml:"static"         json:"static,omitempty"`
	OptionsEntity string         `yaml:"options_entity" json:"options_entity,omitempty"`
	// OptionsEndpoint is either a relative path string or true, which
	// selects the default path "distinct/<field>".
	OptionsEndpoint any `yaml:"options_endpoint" json:"options_endpoint,omitempty"`
	// OptionsFromCache derives options from the loaded result set.
	OptionsFromCache bool `yaml:"options_from_cache" json:"options_from_cache,omitempty"`

	// ToQuery renames the filter for the backend query; empty keeps the
	// filter name.
	ToQuery string `yaml:"to_query" json:"to_query,omitempty"`
}

// StaticOption is a label/value pair for dropdowns and filters.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value any    `yaml:"value" json:"value"`
}

// FormDefinition describes the entity's create/edit screen.
type FormDefinition struct {
	Capabilities []string          `yaml:"capabilities" json:"capabilities,omitempty"`
	Fields       []FieldDefinition `yaml:"fields"       json:"fields,omitempty"`
	// Validate runs full-form validation on submit when true.
	Validate bool `yaml:"validate" json:"validate,omitempty"`
	// Redirect is "list", "edit", or "reset": where to go after a save
	// when andClose is not set.
	Redirect string `yaml:"redirect" json:"redirect,omitempty"`
}

// ShowDefinition describes the entity's read-only detail screen.
type ShowDefinition struct {
	Capabilities []string          `yaml:"capabilities" json:"capabilities,omitempty"`
	Fields       []FieldDefinition `yaml:"fields"       json:"fields,omitempty"`
}

// FieldDefinition is a local override merged over the schema-derived field
// specs. Fields listed here win; schema fields not listed are appended in
// schema order.
type FieldDefinition struct {
	Name        string         `yaml:"name"        json:"name"`
	Label       string         `yaml:"label"       json:"label,omitempty"`
	Type        string         `yaml:"type"        json:"type,omitempty"`
	Required    bool           `yaml:"required"    json:"required,omitempty"`
	ReadOnly    bool           `yaml:"read_only"   json:"read_only,omitempty"`
	Placeholder string         `yaml:"placeholder" json:"placeholder,omitempty"`
	HelpText    string         `yaml:"help_text"   json:"help_text,omitempty"`
	Hidden      bool           `yaml:"hidden"      json:"hidden,omitempty"`
	Reference   string         `yaml:"reference"   json:"reference,omitempty"`
	Static      []StaticOption `yaml:"static"      json:"static,omitempty"`
}

// ActionDefinition describes a UI action (button, menu item).
type ActionDefinition struct {
	ID           string                  `yaml:"id"           json:"id"`
	Label        string                  `yaml:"label"        json:"label"`
	Icon         string                  `yaml:"icon"         json:"icon,omitempty"`
	Style        string                  `yaml:"style"        json:"style,omitempty"`
	Capabilities []string                `yaml:"capabilities" json:"capabilities,omitempty"`
	// Type is "navigate", "delete", "bulk-delete", or "custom".
	Type         string                  `yaml:"type"         json:"type"`
	NavigateTo   string                  `yaml:"navigate_to"  json:"navigate_to,omitempty"`
	Confirmation *ConfirmationDefinition `yaml:"confirmation" json:"confirmation,omitempty"`
	Conditions   []ConditionDefinition   `yaml:"conditions"   json:"conditions,omitempty"`
}

// ConfirmationDefinition describes a confirmation dialog.
type ConfirmationDefinition struct {
	Title   string `yaml:"title"   json:"title"`
	Message string `yaml:"message" json:"message"`
	Confirm string `yaml:"confirm" json:"confirm"`
	Cancel  string `yaml:"cancel"  json:"cancel,omitempty"`
	Style   string `yaml:"style"   json:"style,omitempty"`
}

// ConditionDefinition describes a data-dependent visibility/enablement rule.
type ConditionDefinition struct {
	Field    string `yaml:"field"    json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value"    json:"value,omitempty"`
	Effect   string `yaml:"effect"   json:"effect"`
}
