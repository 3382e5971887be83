package screen

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/entity"
	"github.com/quazardous/qdadm/internal/guard"
	"github.com/quazardous/qdadm/internal/hooks"
	"github.com/quazardous/qdadm/internal/nav"
	"github.com/quazardous/qdadm/internal/options"
	"github.com/quazardous/qdadm/internal/session"
	"github.com/quazardous/qdadm/model"
)

// countingManager wraps a real manager and records calls, optionally
// failing deletes for chosen ids.
type countingManager struct {
	model.Manager

	mu         sync.Mutex
	lists      int
	lastQuery  model.ListQuery
	deletes    []string
	failDelete map[string]bool
}

func (c *countingManager) List(ctx context.Context, q model.ListQuery) (model.ListResult, error) {
	c.mu.Lock()
	c.lists++
	c.lastQuery = q
	c.mu.Unlock()
	return c.Manager.List(ctx, q)
}

func (c *countingManager) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, id)
	fail := c.failDelete[id]
	c.mu.Unlock()
	if fail {
		return model.NewInternalError()
	}
	return c.Manager.Delete(ctx, id)
}

func (c *countingManager) listCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

func (c *countingManager) query() model.ListQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastQuery
}

type recordingNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (n *recordingNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

type staticConfirmer struct{ answer bool }

func (c staticConfirmer) Confirm(context.Context, model.ConfirmationDescriptor) bool {
	return c.answer
}

func bookDefinition() model.EntityDefinition {
	return model.EntityDefinition{
		Entity:      "books",
		Label:       "Book",
		LabelPlural: "Books",
		RoutePrefix: "books",
		LabelField:  "title",
		List: model.ListDefinition{
			Columns: []model.ColumnDefinition{
				{Field: "title", Label: "Title", Sortable: true},
				{Field: "status", Label: "Status"},
				{Field: "secret", Label: "Secret", Visible: "hidden"},
			},
			Filters: []model.FilterDefinition{
				{
					Name:    "status",
					Label:   "Status",
					Persist: true,
					Static: []model.StaticOption{
						{Label: "Draft", Value: "draft"},
						{Label: "Published", Value: "published"},
					},
				},
			},
			SearchFields: []string{"title"},
			PageSize:     10,
			Selectable:   true,
			Persist:      true,
		},
		Form: model.FormDefinition{
			Fields: []model.FieldDefinition{
				{Name: "title", Label: "Title", Required: true},
				{Name: "status", Static: []model.StaticOption{
					{Label: "Draft", Value: "draft"},
					{Label: "Published", Value: "published"},
				}},
				{Name: "pages", Type: "integer"},
				{Name: "author_id", Reference: "authors"},
			},
		},
		Backend: model.BackendBinding{Driver: "memory"},
	}
}

func bookFieldSpecs() []model.FieldSpec {
	return []model.FieldSpec{
		{Name: "id", Type: "string", Label: "ID"},
		{Name: "title", Type: "string", Label: "Title", Required: true},
		{Name: "status", Type: "enum", Label: "Status", Enum: []string{"draft", "published"}},
		{Name: "pages", Type: "integer", Label: "Pages"},
		{Name: "author_id", Type: "reference", Label: "Author", Reference: "authors"},
	}
}

type testEnv struct {
	deps    Deps
	def     model.EntityDefinition
	mgr     *countingManager
	store   *session.MemoryStore
	notes   *recordingNotifier
	rctx    *model.RequestContext
	caps    model.CapabilitySet
	session string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	def := bookDefinition()
	mem := entity.NewMemoryManager(def, bookFieldSpecs(), entity.AllowAll{})
	mem.Seed(
		model.Record{"id": "1", "title": "The Stand", "status": "published", "pages": 823},
		model.Record{"id": "2", "title": "Dune", "status": "published", "pages": 412},
		model.Record{"id": "3", "title": "Untitled Draft", "status": "draft", "pages": 12},
	)
	mgr := &countingManager{Manager: mem, failDelete: map[string]bool{}}

	reg := entity.NewRegistry()
	if err := reg.Register("books", mgr); err != nil {
		t.Fatalf("Register: %v", err)
	}

	table := nav.NewTable()
	table.RegisterEntity(nav.EntityInfo{
		Entity: "books", Label: "Book", LabelPlural: "Books", RoutePrefix: "books",
	})
	hydrator := nav.NewHydrator()
	store := session.NewMemoryStore()
	notes := &recordingNotifier{}

	deps := Deps{
		Managers:       reg,
		Options:        options.NewResolver(reg, zap.NewNop(), time.Minute, 100),
		Hooks:          hooks.NewRegistry(zap.NewNop()),
		Filters:        session.NewFilters(store, time.Minute),
		Chain:          nav.NewChainBuilder(table, hydrator),
		Nav:            table,
		Hydrator:       hydrator,
		Guards:         guard.NewRegistry(),
		Notifier:       notes,
		Confirmer:      staticConfirmer{answer: true},
		Logger:         zap.NewNop(),
		SearchDebounce: 5 * time.Millisecond,
	}

	return &testEnv{
		deps:    deps,
		def:     def,
		mgr:     mgr,
		store:   store,
		notes:   notes,
		rctx:    &model.RequestContext{SubjectID: "u1", TenantID: "t1"},
		caps:    model.CapabilitySet{"*": true},
		session: "sess-1",
	}
}

func (e *testEnv) newList(t *testing.T, query url.Values) *ListPage {
	t.Helper()
	p, err := NewListPage(context.Background(), e.deps, e.def, e.rctx, e.caps, ListParams{
		Path:      "/books",
		SessionID: e.session,
		Query:     query,
	})
	if err != nil {
		t.Fatalf("NewListPage: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestResolveActions(t *testing.T) {
	actions := []model.ActionDefinition{
		{ID: "publish", Label: "Publish", Type: "custom", Capabilities: []string{"books:update"},
			Conditions: []model.ConditionDefinition{
				{Field: "status", Operator: "eq", Value: "published", Effect: "hide"},
			}},
		{ID: "purge", Label: "Purge", Type: "custom", Capabilities: []string{"admin:purge"}},
		{ID: "open", Label: "Open", Type: "navigate",
			Confirmation: &model.ConfirmationDefinition{Title: "Open?", Confirm: "Go"}},
	}
	caps := model.CapabilitySet{"books:*": true}

	got := ResolveActions(caps, actions, model.Record{"status": "published"})
	if len(got) != 2 {
		t.Fatalf("got %d actions, want 2 (purge filtered by capability)", len(got))
	}
	if got[0].ID != "publish" || got[0].Visible {
		t.Errorf("publish: visible=%v, want hidden for published record", got[0].Visible)
	}
	if got[1].Confirmation == nil || got[1].Confirmation.Title != "Open?" {
		t.Errorf("open: confirmation not carried over: %+v", got[1].Confirmation)
	}

	// Without a record the data condition defers to the client.
	got = ResolveActions(caps, actions[:1], nil)
	if len(got) != 1 || !got[0].Visible || len(got[0].Conditions) != 1 {
		t.Fatalf("deferred condition: got %+v", got)
	}
}

func TestResolveActions_operators(t *testing.T) {
	rec := model.Record{"status": "draft", "pages": 12}
	tests := []struct {
		cond model.ConditionDefinition
		want bool
	}{
		{model.ConditionDefinition{Field: "status", Operator: "eq", Value: "draft"}, true},
		{model.ConditionDefinition{Field: "status", Operator: "neq", Value: "draft"}, false},
		{model.ConditionDefinition{Field: "status", Operator: "in", Value: "draft, archived"}, true},
		{model.ConditionDefinition{Field: "status", Operator: "in", Value: []any{"published"}}, false},
		{model.ConditionDefinition{Field: "status", Operator: "not_in", Value: "published"}, true},
		{model.ConditionDefinition{Field: "pages", Operator: "eq", Value: 12}, true},
		{model.ConditionDefinition{Field: "missing", Operator: "exists"}, false},
		{model.ConditionDefinition{Field: "status", Operator: "exists"}, true},
		{model.ConditionDefinition{Field: "missing", Operator: "not_exists"}, true},
	}
	for _, tc := range tests {
		if got := evalCondition(tc.cond, rec); got != tc.want {
			t.Errorf("%s %s %v: got %v, want %v",
				tc.cond.Field, tc.cond.Operator, tc.cond.Value, got, tc.want)
		}
	}
}

func TestListPage_initialState(t *testing.T) {
	env := newTestEnv(t)
	p := env.newList(t, nil)
	st := p.State()

	if st.Title != "Books" {
		t.Errorf("title = %q, want Books", st.Title)
	}
	if len(st.Columns) != 2 {
		t.Fatalf("got %d columns, want 2 (hidden column dropped)", len(st.Columns))
	}
	if st.PageSize != 10 || st.Page != 1 {
		t.Errorf("page/size = %d/%d, want 1/10", st.Page, st.PageSize)
	}
	if len(st.Breadcrumb) != 1 || st.Breadcrumb[0].Kind != model.ChainEntityList {
		t.Errorf("breadcrumb = %+v, want single entity-list entry", st.Breadcrumb)
	}
}

func TestListPage_restoreURLBeatsSession(t *testing.T) {
	env := newTestEnv(t)

	// A previous visit persisted draft + a search term.
	err := env.deps.Filters.Save(context.Background(), env.session, "books", "",
		map[string]any{"status": "draft"}, "dune")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	p := env.newList(t, url.Values{"status": {"published"}})
	st := p.State()

	if got := st.Filters[0].Value; got != "published" {
		t.Errorf("status filter = %v, want URL value published over session draft", got)
	}
	if st.Search != "dune" {
		t.Errorf("search = %q, want session value dune kept", st.Search)
	}
}

func TestListPage_loadResolvesOptionsAndLabels(t *testing.T) {
	env := newTestEnv(t)
	p := env.newList(t, nil)

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := p.State()

	if st.Total != 3 || len(st.Items) != 3 {
		t.Fatalf("total/items = %d/%d, want 3/3", st.Total, len(st.Items))
	}
	opts := st.Filters[0].Options
	if len(opts) != 3 || opts[0].Label != "All Status" || opts[0].Value != nil {
		t.Fatalf("filter options = %+v, want All sentinel first then two statics", opts)
	}
	if st.Filters[0].Widget != model.WidgetSelect {
		t.Errorf("widget = %q, want select", st.Filters[0].Widget)
	}
	if label, ok := env.deps.Hydrator.Get("books", "2"); !ok || label != "Dune" {
		t.Errorf("hydrator label for 2 = %q/%v, want Dune", label, ok)
	}
}

func TestListPage_setFilterResetsPageAndPersists(t *testing.T) {
	env := newTestEnv(t)
	p := env.newList(t, nil)
	if err := p.SetPage(context.Background(), 2); err != nil {
		t.Fatalf("SetPage: %v", err)
	}

	if err := p.SetFilter(context.Background(), "status", "draft"); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	st := p.State()

	if st.Page != 1 {
		t.Errorf("page = %d, want reset to 1", st.Page)
	}
	if len(st.Items) != 1 || st.Items[0]["title"] != "Untitled Draft" {
		t.Errorf("items = %+v, want the single draft", st.Items)
	}

	vals, _, err := env.deps.Filters.Load(context.Background(), env.session, "books", "")
	if err != nil || vals["status"] != "draft" {
		t.Errorf("persisted = %v (%v), want status=draft", vals, err)
	}

	if err := p.SetFilter(context.Background(), "nope", 1); err == nil {
		t.Error("SetFilter with unknown name should fail")
	}
}

func TestListPage_searchDebounce(t *testing.T) {
	env := newTestEnv(t)
	p := env.newList(t, nil)

	before := env.mgr.listCount()
	p.SetSearch("d")
	p.SetSearch("du")
	p.SetSearch("dune")
	time.Sleep(60 * time.Millisecond)

	if got := env.mgr.listCount() - before; got != 1 {
		t.Fatalf("debounced reloads = %d, want exactly 1 for the burst", got)
	}
	if q := env.mgr.query(); q.Search != "dune" {
		t.Errorf("query search = %q, want last term dune", q.Search)
	}
	if st := p.State(); st.Page != 1 {
		t.Errorf("page = %d, want reset to 1", st.Page)
	}

	_, search, err := env.deps.Filters.Load(context.Background(), env.session, "books", "")
	if err != nil || search != "dune" {
		t.Errorf("persisted search = %q (%v), want dune", search, err)
	}
}

func TestListPage_bulkDeletePartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.failDelete["2"] = true

	p := env.newList(t, nil)
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	p.Select([]string{"1", "2", "3"})

	before := env.mgr.listCount()
	if err := p.BulkDelete(context.Background()); err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}

	if len(env.mgr.deletes) != 3 {
		t.Errorf("delete calls = %d, want all 3 attempted", len(env.mgr.deletes))
	}
	if len(env.notes.successes) != 1 || env.notes.successes[0] != "2 deleted" {
		t.Errorf("success toasts = %v, want exactly one: 2 deleted", env.notes.successes)
	}
	if len(env.notes.errors) != 1 || !strings.Contains(env.notes.errors[0], "1") {
		t.Errorf("error toasts = %v, want exactly one mentioning 1", env.notes.errors)
	}
	if got := env.mgr.listCount() - before; got != 1 {
		t.Errorf("reloads = %d, want exactly one forced reload", got)
	}
	st := p.State()
	if len(st.Selected) != 0 {
		t.Errorf("selection = %v, want cleared", st.Selected)
	}
	if st.Total != 1 {
		t.Errorf("total after reload = %d, want 1 survivor", st.Total)
	}
}

func TestListPage_bulkDeleteDeclined(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Confirmer = staticConfirmer{answer: false}

	p := env.newList(t, nil)
	p.Select([]string{"1"})
	if err := p.BulkDelete(context.Background()); err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if len(env.mgr.deletes) != 0 {
		t.Errorf("delete calls = %v, want none after decline", env.mgr.deletes)
	}
}

func TestListPage_pageSize(t *testing.T) {
	env := newTestEnv(t)
	p := env.newList(t, nil)

	if err := p.SetPageSize(context.Background(), 25); err == nil {
		t.Error("SetPageSize(25) should be rejected")
	}
	if err := p.SetPageSize(context.Background(), 50); err != nil {
		t.Fatalf("SetPageSize(50): %v", err)
	}
	if st := p.State(); st.PageSize != 50 || st.Page != 1 {
		t.Errorf("size/page = %d/%d, want 50/1", st.PageSize, st.Page)
	}
}

func TestListPage_configHook(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Hooks.Register("books:list:alter", func(cfg map[string]any) map[string]any {
		cols, _ := cfg["columns"].([]any)
		cfg["columns"] = append(cols, map[string]any{"field": "pages", "label": "Pages"})
		return cfg
	})

	p := env.newList(t, nil)
	st := p.State()
	if len(st.Columns) != 3 || st.Columns[2].Field != "pages" {
		t.Fatalf("columns = %+v, want hook-added pages column last", st.Columns)
	}
}

func newForm(t *testing.T, env *testEnv, id string) *FormPage {
	t.Helper()
	path := "/books/create"
	if id != "" {
		path = "/books/" + id + "/edit"
	}
	p, err := NewFormPage(context.Background(), env.deps, env.def, env.rctx, env.caps, FormParams{
		Path: path,
		ID:   id,
	})
	if err != nil {
		t.Fatalf("NewFormPage: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestFormPage_createFields(t *testing.T) {
	env := newTestEnv(t)
	p := newForm(t, env, "")
	st := p.State()

	if st.Mode != model.ModeCreate || st.Title != "New Book" {
		t.Errorf("mode/title = %s/%q", st.Mode, st.Title)
	}
	byName := map[string]model.FieldState{}
	for _, f := range st.Fields {
		byName[f.Name] = f
	}
	if _, ok := byName["id"]; ok {
		t.Error("id field should not render")
	}
	if f := byName["title"]; !f.Required || f.Type != "text" {
		t.Errorf("title = %+v, want required text", f)
	}
	if f := byName["status"]; f.Type != "select" || len(f.Options) != 2 {
		t.Errorf("status = %+v, want select with two static options", f)
	}
	if f := byName["author_id"]; f.Type != "reference" || f.Reference != "authors" {
		t.Errorf("author_id = %+v, want reference to authors", f)
	}
}

func TestFormPage_validationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := newForm(t, env, "")

	if _, err := p.Submit(context.Background(), false); err == nil {
		t.Fatal("Submit with empty title should fail validation")
	}
	st := p.State()
	if !st.Submitted || st.Errors["title"] == "" {
		t.Fatalf("state after invalid submit = submitted=%v errors=%v", st.Submitted, st.Errors)
	}

	// Still invalid: the error must stay.
	p.SetValue("title", "")
	if st := p.State(); st.Errors["title"] == "" {
		t.Error("error cleared while the value is still invalid")
	}

	p.SetValue("pages", "twelve")
	p.Validate()
	if st := p.State(); st.Errors["pages"] == "" {
		t.Error("non-integer pages should fail the built-in check")
	}

	p.SetValue("pages", 12)
	p.SetValue("title", "Night Shift")
	if st := p.State(); st.Errors["title"] != "" {
		t.Errorf("error = %q, want cleared once valid", st.Errors["title"])
	}

	target, err := p.Submit(context.Background(), false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st = p.State()
	if st.ID == "" || target != "/books/"+st.ID+"/edit" {
		t.Errorf("target = %q, want edit route of new id %q", target, st.ID)
	}
	if st.Dirty {
		t.Error("form should be clean after save")
	}
}

func TestFormPage_customValidationHook(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Hooks.Register("books:form:validate", func(cfg map[string]any) map[string]any {
		values, _ := cfg["values"].(map[string]any)
		errs, _ := cfg["errors"].(map[string]any)
		if values["title"] == "Forbidden" {
			errs["title"] = "That title is taken"
		}
		return cfg
	})

	p := newForm(t, env, "")
	p.SetValue("title", "Forbidden")
	if p.Validate() {
		t.Fatal("custom rule should reject the title")
	}
	if st := p.State(); st.Errors["title"] != "That title is taken" {
		t.Errorf("errors = %v", st.Errors)
	}
}

func TestFormPage_editDirtyAndGuard(t *testing.T) {
	env := newTestEnv(t)
	p := newForm(t, env, "1")

	st := p.State()
	if st.Mode != model.ModeEdit || st.Title != "The Stand" || !st.CanDelete {
		t.Fatalf("edit state = %+v", st)
	}
	if p.Guard() == nil || env.deps.Guards.Active() != p.Guard() {
		t.Fatal("guard not registered as the active slot owner")
	}

	if !p.Guard().Attempt("/authors") {
		t.Fatal("clean form should navigate freely")
	}

	p.SetValue("title", "The Stand (Uncut)")
	if !p.State().Dirty {
		t.Fatal("edit should mark the form dirty")
	}
	if p.Guard().Attempt("/authors") {
		t.Fatal("dirty form must intercept navigation")
	}
	if p.Guard().State() != guard.StateDialogOpen {
		t.Fatalf("guard state = %q", p.Guard().State())
	}

	if err := p.Guard().SaveAndLeave(context.Background()); err != nil {
		t.Fatalf("SaveAndLeave: %v", err)
	}
	if got := p.NavTarget(); got != "/authors" {
		t.Errorf("nav target = %q, want /authors", got)
	}
	if p.State().Dirty {
		t.Error("form should be clean after save-and-leave")
	}

	rec, err := env.mgr.Get(context.Background(), "1")
	if err != nil || rec["title"] != "The Stand (Uncut)" {
		t.Errorf("stored title = %v (%v), want the edit persisted", rec["title"], err)
	}
}

func TestFormPage_redirectModes(t *testing.T) {
	env := newTestEnv(t)

	// andClose always returns to the list.
	p := newForm(t, env, "2")
	p.SetValue("title", "Dune (Deluxe)")
	target, err := p.Submit(context.Background(), true)
	if err != nil || target != "/books" {
		t.Errorf("andClose target = %q (%v), want /books", target, err)
	}

	env.def.Form.Redirect = "list"
	p2 := newForm(t, env, "")
	p2.SetValue("title", "Carrie")
	target, err = p2.Submit(context.Background(), false)
	if err != nil || target != "/books" {
		t.Errorf("redirect=list target = %q (%v), want /books", target, err)
	}

	env.def.Form.Redirect = "reset"
	p3 := newForm(t, env, "")
	p3.SetValue("title", "Misery")
	target, err = p3.Submit(context.Background(), false)
	if err != nil || target != "" {
		t.Errorf("redirect=reset target = %q (%v), want stay", target, err)
	}
	if st := p3.State(); st.Values["title"] != "" || st.Submitted {
		t.Errorf("state after reset = %+v, want blank create form", st.Values)
	}
}

func TestFormPage_delete(t *testing.T) {
	env := newTestEnv(t)
	p := newForm(t, env, "3")

	target, err := p.Delete(context.Background())
	if err != nil || target != "/books" {
		t.Fatalf("Delete = %q (%v), want /books", target, err)
	}
	if _, err := env.mgr.Get(context.Background(), "3"); err == nil {
		t.Error("record should be gone")
	}
}

func TestShowPage(t *testing.T) {
	env := newTestEnv(t)
	p, err := NewShowPage(context.Background(), env.deps, env.def, env.rctx, env.caps, ShowParams{
		Path: "/books/1",
		ID:   "1",
	})
	if err != nil {
		t.Fatalf("NewShowPage: %v", err)
	}
	st := p.State()

	if st.Title != "The Stand" {
		t.Errorf("title = %q", st.Title)
	}
	for _, f := range st.Fields {
		if !f.ReadOnly {
			t.Errorf("field %s not read-only", f.Name)
		}
	}
	if len(st.Actions) < 2 || st.Actions[0].ID != "edit" || st.Actions[1].ID != "delete" {
		t.Fatalf("actions = %+v, want edit then delete", st.Actions)
	}
	if st.Actions[0].NavigateTo != "/books/1/edit" {
		t.Errorf("edit target = %q", st.Actions[0].NavigateTo)
	}
	if st.Actions[1].Confirmation == nil {
		t.Error("delete must carry a confirmation")
	}

	if _, err := NewShowPage(context.Background(), env.deps, env.def, env.rctx, env.caps, ShowParams{ID: "99"}); err == nil {
		t.Error("unknown id should fail")
	}
}
