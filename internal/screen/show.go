package screen

import (
	"context"
	"fmt"
	"sync"

	"github.com/quazardous/qdadm/model"
)

// ShowParams carries the per-request inputs of a show page.
type ShowParams struct {
	Path string
	ID   string
}

// ShowPage drives one read-only detail screen.
type ShowPage struct {
	deps Deps
	def  model.EntityDefinition
	mgr  model.Manager
	rctx *model.RequestContext
	caps model.CapabilitySet

	mu    sync.Mutex
	state model.ShowState
}

// NewShowPage builds the show controller and loads the record. Fields come
// from the show definition when present, otherwise every schema field is
// rendered. Edit and delete actions are offered only when the manager's
// permission predicates allow them.
func NewShowPage(ctx context.Context, deps Deps, def model.EntityDefinition, rctx *model.RequestContext, caps model.CapabilitySet, params ShowParams) (*ShowPage, error) {
	mgr, ok := deps.Managers.Manager(def.Entity)
	if !ok {
		return nil, fmt.Errorf("no manager registered for entity %q", def.Entity)
	}

	p := &ShowPage{deps: deps, def: def, mgr: mgr, rctx: rctx, caps: caps}

	rec, err := mgr.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}

	st := model.ShowState{
		Entity: def.Entity,
		ID:     params.ID,
		Title:  mgr.EntityLabel(rec),
		Fields: p.buildFields(rec),
	}
	if st.Title == "" {
		st.Title = mgr.Label() + " " + params.ID
	}

	if deps.Hydrator != nil {
		deps.Hydrator.Put(def.Entity, params.ID, mgr.EntityLabel(rec))
	}

	st.Actions = p.buildActions(rec, params.ID)

	if deps.Chain != nil && params.Path != "" {
		st.Breadcrumb = deps.Chain.Chain(params.Path)
	}

	p.state = st
	return p, nil
}

func (p *ShowPage) buildFields(rec model.Record) []model.FieldState {
	defs := p.def.Show.Fields
	if len(defs) == 0 {
		for _, spec := range p.mgr.FormFields() {
			defs = append(defs, model.FieldDefinition{Name: spec.Name})
		}
	}

	var fields []model.FieldState
	for _, f := range defs {
		if f.Hidden {
			continue
		}
		spec, _ := p.mgr.FieldConfig(f.Name)
		fs := mergeField(spec, f)
		fs.ReadOnly = true
		fs.Value = rec[f.Name]
		fields = append(fields, fs)
	}
	return fields
}

// buildActions resolves the definition's row actions against the loaded
// record and prepends the built-in edit and delete actions the identity is
// allowed to perform.
func (p *ShowPage) buildActions(rec model.Record, id string) []model.ActionDescriptor {
	var actions []model.ActionDescriptor

	if p.mgr.CanUpdate(p.rctx) {
		actions = append(actions, model.ActionDescriptor{
			ID:         "edit",
			Label:      "Edit",
			Type:       "navigate",
			NavigateTo: p.routeURL(p.def.Entity+"-edit", map[string]string{"id": id}),
			Enabled:    true,
			Visible:    true,
		})
	}
	if p.mgr.CanDelete(p.rctx) {
		actions = append(actions, model.ActionDescriptor{
			ID:      "delete",
			Label:   "Delete",
			Style:   "danger",
			Type:    "delete",
			Enabled: true,
			Visible: true,
			Confirmation: &model.ConfirmationDescriptor{
				Title:   "Delete " + p.mgr.Label(),
				Message: fmt.Sprintf("Delete %q? This cannot be undone.", p.mgr.EntityLabel(rec)),
				Confirm: "Delete",
				Cancel:  "Cancel",
				Style:   "danger",
			},
		})
	}

	return append(actions, ResolveActions(p.caps, p.def.List.RowActions, rec)...)
}

func (p *ShowPage) routeURL(name string, params map[string]string) string {
	if p.deps.Nav == nil {
		return ""
	}
	u, err := p.deps.Nav.URL(name, params)
	if err != nil {
		return ""
	}
	return u
}

// ReferenceTarget resolves the show route of a reference field's target
// record, for click-through navigation.
func (p *ShowPage) ReferenceTarget(field string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range p.state.Fields {
		if f.Name != field || f.Reference == "" || f.Value == nil {
			continue
		}
		u := p.routeURL(f.Reference+"-show", map[string]string{"id": fmt.Sprint(f.Value)})
		return u, u != ""
	}
	return "", false
}

// State returns a copy of the current show state.
func (p *ShowPage) State() model.ShowState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state
	st.Fields = append([]model.FieldState(nil), p.state.Fields...)
	st.Actions = append([]model.ActionDescriptor(nil), p.state.Actions...)
	return st
}
