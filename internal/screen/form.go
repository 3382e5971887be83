package screen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/dirty"
	"github.com/quazardous/qdadm/internal/guard"
	"github.com/quazardous/qdadm/internal/hooks"
	"github.com/quazardous/qdadm/internal/schema"
	"github.com/quazardous/qdadm/model"
)

// FormParams carries the per-request inputs of a form page.
type FormParams struct {
	Path string
	// ID is empty for create mode.
	ID string
}

// FormPage drives one create or edit form: field generation, dirty
// tracking, validation, submission, and the unsaved-changes guard.
type FormPage struct {
	deps Deps
	def  model.EntityDefinition
	form model.FormDefinition
	mgr  model.Manager
	rctx *model.RequestContext
	caps model.CapabilitySet
	path string

	tracker *dirty.Tracker
	guard   *guard.Guard

	mu    sync.Mutex
	state model.FormState
	// nav holds the target of the last guard-approved navigation.
	nav string
}

// NewFormPage builds the form controller. An empty params.ID selects create
// mode; otherwise the record is loaded and the form opens in edit mode. The
// dirty baseline is taken after load, and the unsaved-changes guard is
// registered as the single active guard.
func NewFormPage(ctx context.Context, deps Deps, def model.EntityDefinition, rctx *model.RequestContext, caps model.CapabilitySet, params FormParams) (*FormPage, error) {
	mgr, ok := deps.Managers.Manager(def.Entity)
	if !ok {
		return nil, fmt.Errorf("no manager registered for entity %q", def.Entity)
	}

	p := &FormPage{
		deps:    deps,
		def:     def,
		form:    alterFormConfig(deps.Hooks, def.Entity, def.Form, deps.logger()),
		mgr:     mgr,
		rctx:    rctx,
		caps:    caps,
		path:    params.Path,
		tracker: dirty.New(),
	}

	st := model.FormState{
		Entity: def.Entity,
		Mode:   model.ModeCreate,
		Errors: map[string]string{},
	}

	if params.ID == "" {
		if !mgr.CanCreate(rctx) {
			return nil, model.NewForbiddenError(fmt.Sprintf("cannot create %s", mgr.Label()))
		}
		st.Title = "New " + mgr.Label()
		st.Values = mgr.InitialData()
	} else {
		if !mgr.CanUpdate(rctx) {
			return nil, model.NewForbiddenError(fmt.Sprintf("cannot update %s", mgr.Label()))
		}
		st.Mode = model.ModeEdit
		st.ID = params.ID

		rec, err := mgr.Get(ctx, params.ID)
		if err != nil {
			return nil, err
		}
		st.Values = rec
		st.Title = mgr.EntityLabel(rec)
		if st.Title == "" || st.Title == params.ID {
			st.Title = "Edit " + mgr.Label()
		}
		st.CanDelete = mgr.CanDelete(rctx)

		if deps.Hydrator != nil {
			deps.Hydrator.Put(def.Entity, params.ID, mgr.EntityLabel(rec))
		}
	}

	st.Fields = p.buildFields(st.Values)

	if err := p.tracker.Take(st.Values); err != nil {
		return nil, err
	}

	if deps.Chain != nil && params.Path != "" {
		st.Breadcrumb = deps.Chain.Chain(params.Path)
	}

	p.state = st
	p.registerGuard()
	return p, nil
}

// alterFormConfig runs the "form:alter" hook pipeline over the form config.
func alterFormConfig(reg *hooks.Registry, entityName string, form model.FormDefinition, logger *zap.Logger) model.FormDefinition {
	if reg == nil || reg.Len("form:alter")+reg.Len(entityName+":form:alter") == 0 {
		return form
	}

	raw, err := json.Marshal(form)
	if err != nil {
		logger.Warn("form config hook skipped", zap.String("entity", entityName), zap.Error(err))
		return form
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		logger.Warn("form config hook skipped", zap.String("entity", entityName), zap.Error(err))
		return form
	}

	cfg = reg.AlterScoped(entityName, "form:alter", cfg)

	altered, err := json.Marshal(cfg)
	if err != nil {
		logger.Warn("form config hook result dropped", zap.String("entity", entityName), zap.Error(err))
		return form
	}
	var out model.FormDefinition
	if err := json.Unmarshal(altered, &out); err != nil {
		logger.Warn("form config hook result dropped", zap.String("entity", entityName), zap.Error(err))
		return form
	}
	return out
}

// buildFields merges the definition's field overrides over the
// schema-derived specs. Overridden fields render in definition order;
// schema fields not mentioned are appended in schema order. Hidden fields
// and the id field are dropped.
func (p *FormPage) buildFields(values model.Record) []model.FieldState {
	var fields []model.FieldState
	seen := make(map[string]struct{})

	for _, f := range p.form.Fields {
		if f.Hidden {
			seen[f.Name] = struct{}{}
			continue
		}
		spec, _ := p.mgr.FieldConfig(f.Name)
		fields = append(fields, mergeField(spec, f))
		seen[f.Name] = struct{}{}
	}

	idField := p.mgr.IDField()
	for _, spec := range p.mgr.FormFields() {
		if spec.Name == idField {
			continue
		}
		if _, ok := seen[spec.Name]; ok {
			continue
		}
		fields = append(fields, mergeField(spec, model.FieldDefinition{Name: spec.Name}))
	}

	for i := range fields {
		if v, ok := values[fields[i].Name]; ok {
			fields[i].Value = v
		}
	}
	return fields
}

// mergeField resolves one field state from a schema spec and its local
// override. Override values win wherever set.
func mergeField(spec model.FieldSpec, def model.FieldDefinition) model.FieldState {
	fs := model.FieldState{
		Name:        def.Name,
		Label:       spec.Label,
		Type:        schema.InputType(spec.Type),
		Required:    spec.Required || def.Required,
		ReadOnly:    def.ReadOnly,
		Placeholder: def.Placeholder,
		HelpText:    def.HelpText,
		Reference:   spec.Reference,
	}
	if fs.Label == "" {
		fs.Label = schema.Humanize(def.Name)
	}
	if def.Label != "" {
		fs.Label = def.Label
	}
	if def.Type != "" {
		fs.Type = def.Type
	}
	if def.Reference != "" {
		fs.Reference = def.Reference
		fs.Type = "reference"
	}
	if len(def.Static) > 0 {
		fs.Type = "select"
		for _, o := range def.Static {
			fs.Options = append(fs.Options, model.Option{Label: o.Label, Value: o.Value})
		}
	} else if len(spec.Enum) > 0 {
		for _, v := range spec.Enum {
			fs.Options = append(fs.Options, model.Option{Label: schema.Humanize(v), Value: v})
		}
	}
	return fs
}

func (p *FormPage) registerGuard() {
	if p.deps.Guards == nil {
		return
	}
	id := p.def.Entity + ":" + p.state.Mode
	if p.state.ID != "" {
		id += ":" + p.state.ID
	}
	p.guard = guard.New(id, guard.Hooks{
		IsDirty: func() bool {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.state.Dirty
		},
		Save: func(ctx context.Context) error {
			_, err := p.Submit(ctx, false)
			return err
		},
		Navigate: func(target string) {
			p.mu.Lock()
			p.nav = target
			p.mu.Unlock()
		},
		Discard: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.tracker.Reset()
			p.state.Dirty = false
		},
	}, p.deps.logger())

	if err := p.deps.Guards.Register(p.guard); err != nil {
		p.deps.logger().Warn("unsaved-changes guard not registered",
			zap.String("entity", p.def.Entity), zap.Error(err))
		p.guard = nil
	}
}

// Guard returns the page's unsaved-changes guard, if registered.
func (p *FormPage) Guard() *guard.Guard { return p.guard }

// SetValue updates one field and recomputes dirtiness against the baseline.
// After a submit attempt, the field is also revalidated live; its error
// message clears only once the value is actually valid.
func (p *FormPage) SetValue(name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Values == nil {
		p.state.Values = model.Record{}
	}
	p.state.Values[name] = value

	dirtyNow, err := p.tracker.Check(p.state.Values)
	if err != nil {
		p.deps.logger().Warn("dirty check failed",
			zap.String("entity", p.def.Entity), zap.Error(err))
	}
	p.state.Dirty = dirtyNow

	for i := range p.state.Fields {
		f := &p.state.Fields[i]
		if v, ok := p.state.Values[f.Name]; ok {
			f.Value = v
		}
		f.Dirty = p.tracker.IsFieldDirty(f.Name)
	}

	if p.state.Submitted {
		if msg := p.validateField(p.fieldState(name), value); msg == "" {
			delete(p.state.Errors, name)
			p.setFieldError(name, "")
		} else {
			p.state.Errors[name] = msg
			p.setFieldError(name, msg)
		}
	}
}

func (p *FormPage) fieldState(name string) *model.FieldState {
	for i := range p.state.Fields {
		if p.state.Fields[i].Name == name {
			return &p.state.Fields[i]
		}
	}
	return nil
}

func (p *FormPage) setFieldError(name, msg string) {
	if f := p.fieldState(name); f != nil {
		f.Error = msg
	}
}

// Validate runs all three validation layers over the current values:
// required checks, built-in type checks, then hook-registered custom rules.
// It fills the error map and returns whether the form is valid.
func (p *FormPage) Validate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validate()
}

func (p *FormPage) validate() bool {
	errs := map[string]string{}
	for i := range p.state.Fields {
		f := &p.state.Fields[i]
		if msg := p.validateField(f, p.state.Values[f.Name]); msg != "" {
			errs[f.Name] = msg
		}
	}

	p.runCustomValidation(errs)

	p.state.Errors = errs
	for i := range p.state.Fields {
		p.state.Fields[i].Error = errs[p.state.Fields[i].Name]
	}
	return len(errs) == 0
}

func (p *FormPage) validateField(f *model.FieldState, value any) string {
	if f == nil {
		return ""
	}
	empty := value == nil || value == ""
	if f.Required && empty {
		return f.Label + " is required"
	}
	if empty {
		return ""
	}

	switch f.Type {
	case "email":
		if _, err := mail.ParseAddress(fmt.Sprint(value)); err != nil {
			return "Invalid email address"
		}
	case "url":
		u, err := url.Parse(fmt.Sprint(value))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "Invalid URL"
		}
	case "number":
		if !isNumeric(value) {
			return f.Label + " must be a number"
		}
	case "integer":
		if !isInteger(value) {
			return f.Label + " must be an integer"
		}
	}
	return ""
}

// runCustomValidation feeds values and the accumulated errors through the
// "form:validate" hook pipeline. Hooks report problems by adding entries to
// the errors map.
func (p *FormPage) runCustomValidation(errs map[string]string) {
	if p.deps.Hooks == nil {
		return
	}
	cfg := map[string]any{
		"entity": p.def.Entity,
		"mode":   p.state.Mode,
		"values": map[string]any(p.state.Values),
		"errors": toAnyMap(errs),
	}
	cfg = p.deps.Hooks.AlterScoped(p.def.Entity, "form:validate", cfg)

	out, _ := cfg["errors"].(map[string]any)
	for k, v := range out {
		if msg, ok := v.(string); ok && msg != "" {
			errs[k] = msg
		}
	}
}

// Submit validates and saves the form. On success the dirty baseline is
// re-taken from the backend's response, so post-save edits count from the
// stored state. The returned target is the route to navigate to next; empty
// means stay on the form.
func (p *FormPage) Submit(ctx context.Context, andClose bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.Submitted = true
	if !p.validate() {
		if p.deps.Notifier != nil {
			p.deps.Notifier.Error("Please fix the highlighted fields")
		}
		var details []model.FieldError
		for name, msg := range p.state.Errors {
			details = append(details, model.FieldError{Field: name, Message: msg})
		}
		return "", model.NewValidationError(details)
	}

	p.state.Saving = true
	defer func() { p.state.Saving = false }()

	var (
		saved model.Record
		err   error
	)
	if p.state.Mode == model.ModeCreate {
		saved, err = p.mgr.Create(ctx, p.state.Values)
	} else {
		saved, err = p.mgr.Update(ctx, p.state.ID, p.state.Values)
	}
	if err != nil {
		p.deps.logger().Error("form save failed",
			zap.String("entity", p.def.Entity),
			zap.String("mode", p.state.Mode),
			zap.Error(err))
		if p.deps.Notifier != nil {
			p.deps.Notifier.Error(fmt.Sprintf("Failed to save %s", p.mgr.Label()))
		}
		if env, ok := err.(*model.ErrorEnvelope); ok && env.Code == model.ErrValidationError {
			for _, fe := range env.Details {
				p.state.Errors[fe.Field] = fe.Message
				p.setFieldError(fe.Field, fe.Message)
			}
		}
		return "", err
	}

	if saved != nil {
		p.state.Values = saved
		if id := saved.ID(p.mgr.IDField()); id != "" {
			p.state.ID = id
		}
	}
	if err := p.tracker.Take(p.state.Values); err != nil {
		p.deps.logger().Warn("baseline snapshot failed",
			zap.String("entity", p.def.Entity), zap.Error(err))
	}
	p.state.Dirty = false
	for i := range p.state.Fields {
		f := &p.state.Fields[i]
		if v, ok := p.state.Values[f.Name]; ok {
			f.Value = v
		}
		f.Dirty = false
	}

	if p.deps.Notifier != nil {
		p.deps.Notifier.Success(fmt.Sprintf("%s saved", p.mgr.Label()))
	}
	if p.deps.Hydrator != nil && p.state.ID != "" {
		p.deps.Hydrator.Put(p.def.Entity, p.state.ID, p.mgr.EntityLabel(p.state.Values))
	}
	if p.deps.Options != nil {
		p.deps.Options.Invalidate(p.def.Entity)
	}

	return p.postSaveTarget(andClose), nil
}

// postSaveTarget decides where to go after a successful save. andClose
// always returns to the list; otherwise the definition's redirect mode
// applies: "list" closes too, "edit" stays on (or moves to) the edit route,
// and "reset" reopens a blank create form.
func (p *FormPage) postSaveTarget(andClose bool) string {
	if andClose {
		return p.routeURL(p.def.Entity+"-list", nil)
	}
	switch p.form.Redirect {
	case "list":
		return p.routeURL(p.def.Entity+"-list", nil)
	case "reset":
		if p.state.Mode == model.ModeCreate {
			p.resetToInitial()
			return ""
		}
		return p.routeURL(p.def.Entity+"-create", nil)
	default:
		// "edit" and unset: a create moves to the edit route of the new
		// record, an edit stays put.
		if p.state.Mode == model.ModeCreate && p.state.ID != "" {
			return p.routeURL(p.def.Entity+"-edit", map[string]string{"id": p.state.ID})
		}
		return ""
	}
}

func (p *FormPage) resetToInitial() {
	p.state.Values = p.mgr.InitialData()
	p.state.Submitted = false
	p.state.Errors = map[string]string{}
	p.state.Fields = p.buildFields(p.state.Values)
	if err := p.tracker.Take(p.state.Values); err != nil {
		p.deps.logger().Warn("baseline snapshot failed",
			zap.String("entity", p.def.Entity), zap.Error(err))
	}
	p.state.Dirty = false
}

func (p *FormPage) routeURL(name string, params map[string]string) string {
	if p.deps.Nav == nil {
		return ""
	}
	u, err := p.deps.Nav.URL(name, params)
	if err != nil {
		p.deps.logger().Warn("route resolution failed", zap.String("route", name), zap.Error(err))
		return ""
	}
	return u
}

// Delete removes the edited record after confirmation and returns the list
// route to navigate to. Create-mode forms cannot delete.
func (p *FormPage) Delete(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Mode != model.ModeEdit {
		return "", model.NewBadRequestError("nothing to delete")
	}
	if !p.state.CanDelete {
		return "", model.NewForbiddenError(fmt.Sprintf("cannot delete %s", p.mgr.Label()))
	}

	if p.deps.Confirmer != nil {
		ok := p.deps.Confirmer.Confirm(ctx, model.ConfirmationDescriptor{
			Title:   "Delete " + p.mgr.Label(),
			Message: fmt.Sprintf("Delete %q? This cannot be undone.", p.state.Title),
			Confirm: "Delete",
			Cancel:  "Cancel",
			Style:   "danger",
		})
		if !ok {
			return "", nil
		}
	}

	if err := p.mgr.Delete(ctx, p.state.ID); err != nil {
		if p.deps.Notifier != nil {
			p.deps.Notifier.Error(fmt.Sprintf("Failed to delete %s", p.mgr.Label()))
		}
		return "", err
	}

	if p.deps.Notifier != nil {
		p.deps.Notifier.Success(fmt.Sprintf("%s deleted", p.mgr.Label()))
	}
	if p.deps.Hydrator != nil {
		p.deps.Hydrator.Forget(p.def.Entity, p.state.ID)
	}
	if p.deps.Options != nil {
		p.deps.Options.Invalidate(p.def.Entity)
	}

	p.tracker.Reset()
	p.state.Dirty = false
	return p.routeURL(p.def.Entity+"-list", nil), nil
}

// NavTarget returns and clears the target recorded by a guard-approved
// navigation.
func (p *FormPage) NavTarget() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.nav
	p.nav = ""
	return t
}

// State returns a copy of the current form state.
func (p *FormPage) State() model.FormState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state
	st.Fields = append([]model.FieldState(nil), p.state.Fields...)
	st.Values = model.Record{}
	for k, v := range p.state.Values {
		st.Values[k] = v
	}
	st.Errors = make(map[string]string, len(p.state.Errors))
	for k, v := range p.state.Errors {
		st.Errors[k] = v
	}
	return st
}

// Close unregisters the unsaved-changes guard. Must be called when the form
// unmounts.
func (p *FormPage) Close() {
	if p.guard != nil && p.deps.Guards != nil {
		p.deps.Guards.Unregister(p.guard.ID())
	}
}

func isNumeric(v any) bool {
	switch n := v.(type) {
	case int, int32, int64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(n, 64)
		return err == nil
	case json.Number:
		_, err := n.Float64()
		return err == nil
	}
	return false
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == float64(int64(n))
	case float32:
		return float64(n) == float64(int64(n))
	case string:
		_, err := strconv.ParseInt(n, 10, 64)
		return err == nil
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
