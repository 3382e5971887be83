package entity

import (
	"github.com/quazardous/qdadm/model"
)

// Authorizer decides whether a request identity holds a capability.
// Capabilities follow the "<entity>:<action>" convention.
type Authorizer interface {
	Allow(rctx *model.RequestContext, capability string) bool
}

// AllowAll is the open Authorizer used when no policy is configured.
type AllowAll struct{}

func (AllowAll) Allow(*model.RequestContext, string) bool { return true }

// base carries the definition-driven behavior shared by every manager
// implementation: labels, identity, field specs, and permission checks.
type base struct {
	def    model.EntityDefinition
	fields []model.FieldSpec
	authz  Authorizer
}

func newBase(def model.EntityDefinition, fields []model.FieldSpec, authz Authorizer) base {
	if authz == nil {
		authz = AllowAll{}
	}
	return base{def: def, fields: fields, authz: authz}
}

func (b *base) CanCreate(rctx *model.RequestContext) bool {
	return b.authz.Allow(rctx, b.def.Entity+":create")
}

func (b *base) CanUpdate(rctx *model.RequestContext) bool {
	return b.authz.Allow(rctx, b.def.Entity+":update")
}

func (b *base) CanDelete(rctx *model.RequestContext) bool {
	return b.authz.Allow(rctx, b.def.Entity+":delete")
}

// InitialData returns sensible zero values for every writable field.
func (b *base) InitialData() model.Record {
	rec := make(model.Record, len(b.fields))
	for _, f := range b.fields {
		if f.Name == b.IDField() {
			continue
		}
		switch f.Type {
		case "boolean":
			rec[f.Name] = false
		case "integer", "number":
			rec[f.Name] = nil
		default:
			rec[f.Name] = ""
		}
	}
	return rec
}

func (b *base) FormFields() []model.FieldSpec {
	out := make([]model.FieldSpec, len(b.fields))
	copy(out, b.fields)
	return out
}

func (b *base) FieldConfig(name string) (model.FieldSpec, bool) {
	for _, f := range b.fields {
		if f.Name == name {
			return f, true
		}
	}
	return model.FieldSpec{}, false
}

// EntityLabel renders a record label: the configured label field, then the
// common "name"/"title"/"label" fields, then the id.
func (b *base) EntityLabel(rec model.Record) string {
	candidates := []string{b.def.LabelField, "name", "title", "label"}
	for _, field := range candidates {
		if field == "" {
			continue
		}
		if s, ok := rec[field].(string); ok && s != "" {
			return s
		}
	}
	return rec.ID(b.IDField())
}

func (b *base) IDField() string {
	if b.def.IDField != "" {
		return b.def.IDField
	}
	return "id"
}

func (b *base) Label() string { return b.def.Label }

func (b *base) LabelPlural() string {
	if b.def.LabelPlural != "" {
		return b.def.LabelPlural
	}
	return b.def.Label + "s"
}

func (b *base) RoutePrefix() string {
	if b.def.RoutePrefix != "" {
		return b.def.RoutePrefix
	}
	return b.def.Entity
}
