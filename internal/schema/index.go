// Package schema loads OpenAPI documents and derives form field specs from
// their component schemas. An entity definition names a component schema;
// the index turns it into ordered field specs the form and show screens
// render from.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/quazardous/qdadm/model"
)

// Source describes one OpenAPI document to load.
type Source struct {
	ServiceID string
	SpecPath  string
}

// Index maps component schema names to derived field specs.
type Index struct {
	fields map[string][]model.FieldSpec
}

// NewIndex creates an empty schema index.
func NewIndex() *Index {
	return &Index{fields: make(map[string][]model.FieldSpec)}
}

func schemaKey(serviceID, name string) string {
	return serviceID + ":" + name
}

// Load parses and validates the documents and indexes every component
// schema.
func (idx *Index) Load(sources []Source) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range sources {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("schema: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := doc.Validate(context.Background()); err != nil {
			return fmt.Errorf("schema: validating %s: %w", src.ServiceID, err)
		}
		if doc.Components == nil {
			continue
		}

		for name, ref := range doc.Components.Schemas {
			if ref == nil || ref.Value == nil {
				continue
			}
			idx.fields[schemaKey(src.ServiceID, name)] = deriveFields(ref.Value)
		}
	}
	return nil
}

// Fields returns the derived field specs for a component schema.
func (idx *Index) Fields(serviceID, name string) ([]model.FieldSpec, bool) {
	specs, ok := idx.fields[schemaKey(serviceID, name)]
	if !ok {
		return nil, false
	}
	out := make([]model.FieldSpec, len(specs))
	copy(out, specs)
	return out, true
}

// SchemaNames returns the indexed schema names for a service, sorted.
func (idx *Index) SchemaNames(serviceID string) []string {
	prefix := serviceID + ":"
	var names []string
	for key := range idx.fields {
		if strings.HasPrefix(key, prefix) {
			names = append(names, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(names)
	return names
}

// deriveFields flattens an object schema's properties into field specs.
// Property order in OpenAPI maps is undefined, so fields come out with the
// id first and the rest alphabetical.
func deriveFields(s *openapi3.Schema) []model.FieldSpec {
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == "id" {
			return true
		}
		if names[j] == "id" {
			return false
		}
		return names[i] < names[j]
	})

	specs := make([]model.FieldSpec, 0, len(names))
	for _, name := range names {
		ref := s.Properties[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		prop := ref.Value

		spec := model.FieldSpec{
			Name:     name,
			Type:     fieldType(prop),
			Label:    Humanize(name),
			Required: required[name],
		}
		if len(prop.Enum) > 0 {
			spec.Type = "enum"
			for _, v := range prop.Enum {
				if str, ok := v.(string); ok {
					spec.Enum = append(spec.Enum, str)
				}
			}
		}
		if target, ok := prop.Extensions["x-entity-ref"].(string); ok && target != "" {
			spec.Type = "reference"
			spec.Reference = target
		}
		specs = append(specs, spec)
	}
	return specs
}

// fieldType maps an OpenAPI property to the field type tags consumed by
// field generation.
func fieldType(prop *openapi3.Schema) string {
	t := ""
	if prop.Type != nil && len(prop.Type.Slice()) > 0 {
		t = prop.Type.Slice()[0]
	}

	switch t {
	case "integer":
		return "integer"
	case "number":
		return "number"
	case "boolean":
		return "boolean"
	case "string":
		switch prop.Format {
		case "email":
			return "email"
		case "uri", "url":
			return "url"
		case "date":
			return "date"
		case "date-time":
			return "datetime"
		}
		// Long strings render as multi-line text.
		if prop.MaxLength != nil && *prop.MaxLength > 255 {
			return "text"
		}
		return "string"
	}
	return "string"
}

// inputTypes is the static field-type to input-widget table used by the
// form screen.
var inputTypes = map[string]string{
	"string":    "text",
	"text":      "textarea",
	"email":     "email",
	"url":       "url",
	"integer":   "number",
	"number":    "number",
	"boolean":   "checkbox",
	"date":      "date",
	"datetime":  "datetime-local",
	"enum":      "select",
	"reference": "reference",
}

// InputType returns the input widget for a field type, defaulting to text.
func InputType(fieldType string) string {
	if input, ok := inputTypes[fieldType]; ok {
		return input
	}
	return "text"
}

// Humanize renders a snake_case or camelCase field name as a label.
func Humanize(name string) string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range name {
		switch {
		case r == '_' || r == '-':
			flush()
		case r >= 'A' && r <= 'Z':
			flush()
			current.WriteRune(r + ('a' - 'A'))
		default:
			current.WriteRune(r)
		}
	}
	flush()

	for i, w := range words {
		if w == "id" {
			words[i] = "ID"
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
