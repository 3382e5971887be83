package definition

import (
	"fmt"

	"github.com/quazardous/qdadm/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks definitions structurally and referentially.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions and cross-entity references.
func (v *Validator) Validate(defs []model.EntityDefinition) []VError {
	var errs []VError

	entities := make(map[string]bool, len(defs))
	prefixes := make(map[string]string, len(defs))
	for _, def := range defs {
		entities[def.Entity] = true
	}

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateEntity(prefix, def, entities)...)

		routePrefix := def.RoutePrefix
		if routePrefix == "" {
			routePrefix = def.Entity
		}
		if owner, taken := prefixes[routePrefix]; taken {
			errs = append(errs, VError{
				Path:    prefix + ".route_prefix",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("route prefix %q already used by entity %q", routePrefix, owner),
			})
		}
		prefixes[routePrefix] = def.Entity
	}
	return errs
}

func (v *Validator) validateEntity(prefix string, def model.EntityDefinition, entities map[string]bool) []VError {
	var errs []VError

	req := func(path, msg string) {
		errs = append(errs, VError{Path: prefix + path, Code: "REQUIRED", Message: msg})
	}

	if def.Entity == "" {
		req(".entity", "entity is required")
	}
	if def.Label == "" {
		req(".label", "label is required")
	}
	if len(def.List.Columns) == 0 {
		req(".list.columns", "at least one list column is required")
	}

	switch def.Backend.Driver {
	case "rest":
		if def.Backend.ServiceID == "" {
			req(".backend.service_id", "service_id is required for the rest driver")
		}
	case "postgres", "memory", "":
	default:
		errs = append(errs, VError{
			Path:    prefix + ".backend.driver",
			Code:    "INVALID",
			Message: fmt.Sprintf("unknown backend driver %q", def.Backend.Driver),
		})
	}

	if def.Parent != nil && !entities[def.Parent.Entity] {
		errs = append(errs, VError{
			Path:    prefix + ".parent.entity",
			Code:    "UNRESOLVED",
			Message: fmt.Sprintf("parent entity %q is not defined", def.Parent.Entity),
		})
	}

	seen := make(map[string]bool)
	for i, f := range def.List.Filters {
		fp := fmt.Sprintf("%s.list.filters[%d]", prefix, i)
		if f.Name == "" {
			errs = append(errs, VError{Path: fp + ".name", Code: "REQUIRED", Message: "filter name is required"})
			continue
		}
		if seen[f.Name] {
			errs = append(errs, VError{
				Path:    fp + ".name",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("duplicate filter %q", f.Name),
			})
		}
		seen[f.Name] = true

		errs = append(errs, validateFilterSources(fp, f, entities)...)
	}
	return errs
}

// validateFilterSources enforces that option sources are mutually exclusive
// and reference known entities.
func validateFilterSources(prefix string, f model.FilterDefinition, entities map[string]bool) []VError {
	var errs []VError

	sources := 0
	if len(f.Static) > 0 {
		sources++
	}
	if f.OptionsEntity != "" {
		sources++
		if !entities[f.OptionsEntity] {
			errs = append(errs, VError{
				Path:    prefix + ".options_entity",
				Code:    "UNRESOLVED",
				Message: fmt.Sprintf("options entity %q is not defined", f.OptionsEntity),
			})
		}
	}
	if f.OptionsEndpoint != nil {
		switch ep := f.OptionsEndpoint.(type) {
		case bool:
			if ep {
				sources++
			}
		case string:
			if ep != "" {
				sources++
			}
		default:
			errs = append(errs, VError{
				Path:    prefix + ".options_endpoint",
				Code:    "INVALID",
				Message: "options_endpoint must be a path string or true",
			})
		}
	}
	if f.OptionsFromCache {
		sources++
	}

	if sources > 1 {
		errs = append(errs, VError{
			Path:    prefix,
			Code:    "CONFLICT",
			Message: fmt.Sprintf("filter %q declares %d option sources, at most one is allowed", f.Name, sources),
		})
	}
	return errs
}
