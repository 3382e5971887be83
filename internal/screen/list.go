package screen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
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

// DefaultSearchDebounce is the delay between the last search keystroke and
// the reload it triggers.
const DefaultSearchDebounce = 300 * time.Millisecond

// Deps bundles the collaborators every page controller needs. A single Deps
// value is built at startup and shared across pages.
type Deps struct {
	Managers  *entity.Registry
	Options   *options.Resolver
	Hooks     *hooks.Registry
	Filters   *session.Filters
	Chain     *nav.ChainBuilder
	Nav       *nav.Table
	Hydrator  *nav.Hydrator
	Guards    *guard.Registry
	Notifier  model.Notifier
	Confirmer model.Confirmer
	Logger    *zap.Logger

	// SearchDebounce overrides DefaultSearchDebounce when positive.
	SearchDebounce time.Duration
}

func (d Deps) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

func (d Deps) debounce() time.Duration {
	if d.SearchDebounce > 0 {
		return d.SearchDebounce
	}
	return DefaultSearchDebounce
}

// ListParams carries the per-request inputs of a list page: the admin route
// path, the session identity, and the raw URL query used for restore.
type ListParams struct {
	// Name distinguishes multiple lists over the same entity; empty uses
	// the entity name for persistence keys.
	Name      string
	Path      string
	SessionID string
	Query     url.Values
	// PageSize is the cookie-restored page size; zero falls back to the
	// definition, then the global default.
	PageSize int
	// Sort, Order, and Page override the definition defaults when set.
	Sort  string
	Order string
	Page  int
}

// ListPage drives one entity list: query assembly, filter persistence,
// selection, and bulk actions.
type ListPage struct {
	deps Deps
	def  model.EntityDefinition
	list model.ListDefinition
	name string
	mgr  model.Manager
	rctx *model.RequestContext
	caps model.CapabilitySet

	path      string
	sessionID string

	mu          sync.Mutex
	state       model.ListState
	searchTimer *time.Timer
}

// NewListPage builds the list controller: config hooks run here, then the
// persisted filter state is restored with URL parameters winning over the
// session. Data is not loaded until Load is called.
func NewListPage(ctx context.Context, deps Deps, def model.EntityDefinition, rctx *model.RequestContext, caps model.CapabilitySet, params ListParams) (*ListPage, error) {
	mgr, ok := deps.Managers.Manager(def.Entity)
	if !ok {
		return nil, fmt.Errorf("no manager registered for entity %q", def.Entity)
	}

	p := &ListPage{
		deps:      deps,
		def:       def,
		list:      alterListConfig(deps.Hooks, def.Entity, def.List, deps.logger()),
		name:      params.Name,
		mgr:       mgr,
		rctx:      rctx,
		caps:      caps,
		path:      params.Path,
		sessionID: params.SessionID,
	}

	st := model.ListState{
		Entity:     def.Entity,
		Title:      mgr.LabelPlural(),
		Page:       1,
		PageSize:   p.pageSize(params.PageSize),
		SortBy:     p.list.DefaultSort,
		SortOrder:  p.list.SortOrder,
		Selectable: p.list.Selectable,
	}

	if params.Sort != "" {
		st.SortBy = params.Sort
		st.SortOrder = "asc"
		if params.Order == "desc" {
			st.SortOrder = "desc"
		}
	}
	if params.Page > 1 {
		st.Page = params.Page
	}

	for _, col := range p.list.Columns {
		if col.Visible == "hidden" {
			continue
		}
		st.Columns = append(st.Columns, model.ColumnState{
			Field:    col.Field,
			Label:    col.Label,
			Type:     col.Type,
			Sortable: col.Sortable,
			Format:   col.Format,
		})
	}

	for _, f := range p.list.Filters {
		st.Filters = append(st.Filters, model.FilterState{
			Name:    f.Name,
			Field:   filterField(f),
			Label:   f.Label,
			Value:   f.Default,
			Persist: f.Persist,
		})
	}

	p.restore(ctx, &st, params.Query)

	st.RowActions = ResolveActions(caps, p.list.RowActions, nil)
	st.HeaderActions = ResolveActions(caps, p.list.HeaderActions, nil)
	st.BulkActions = ResolveActions(caps, p.list.BulkActions, nil)

	if deps.Chain != nil && params.Path != "" {
		st.Breadcrumb = deps.Chain.Chain(params.Path)
		st.NavLinks = deps.Chain.NavLinks(params.Path)
	}

	p.state = st
	return p, nil
}

// alterListConfig round-trips the list config through the hook pipeline
// ("list:alter" then "<entity>:list:alter") so registered transforms can
// add, remove, or reshape columns, filters, and actions before first render.
func alterListConfig(reg *hooks.Registry, entityName string, list model.ListDefinition, logger *zap.Logger) model.ListDefinition {
	if reg == nil || reg.Len("list:alter")+reg.Len(entityName+":list:alter") == 0 {
		return list
	}

	raw, err := json.Marshal(list)
	if err != nil {
		logger.Warn("list config hook skipped", zap.String("entity", entityName), zap.Error(err))
		return list
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		logger.Warn("list config hook skipped", zap.String("entity", entityName), zap.Error(err))
		return list
	}

	cfg = reg.AlterScoped(entityName, "list:alter", cfg)

	altered, err := json.Marshal(cfg)
	if err != nil {
		logger.Warn("list config hook result dropped", zap.String("entity", entityName), zap.Error(err))
		return list
	}
	var out model.ListDefinition
	if err := json.Unmarshal(altered, &out); err != nil {
		logger.Warn("list config hook result dropped", zap.String("entity", entityName), zap.Error(err))
		return list
	}
	return out
}

func (p *ListPage) pageSize(cookie int) int {
	if session.ValidPageSize(cookie) {
		return cookie
	}
	if p.list.PageSize > 0 {
		return p.list.PageSize
	}
	return session.DefaultPageSize
}

// restore merges persisted filter values into the initial state. URL
// parameters win over the session copy, per filter and for the search term.
func (p *ListPage) restore(ctx context.Context, st *model.ListState, query url.Values) {
	names := make([]string, 0, len(st.Filters))
	for _, f := range st.Filters {
		names = append(names, f.Name)
	}

	fromURL, urlSearch := session.FromQuery(query, names)

	var fromSession map[string]any
	var sessionSearch string
	if p.deps.Filters != nil && p.list.Persist && p.sessionID != "" {
		vals, search, err := p.deps.Filters.Load(ctx, p.sessionID, p.def.Entity, p.name)
		if err != nil {
			p.deps.logger().Warn("filter restore failed",
				zap.String("entity", p.def.Entity), zap.Error(err))
		} else {
			fromSession, sessionSearch = vals, search
		}
	}

	values, search := session.Merge(fromURL, fromSession, urlSearch, sessionSearch)
	for i := range st.Filters {
		if v, ok := values[st.Filters[i].Name]; ok {
			st.Filters[i].Value = v
		}
	}
	st.Search = search
}

// Load fetches the current page from the manager, applies local filters,
// refreshes breadcrumb labels, and resolves filter options against the
// loaded result set.
func (p *ListPage) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(ctx)
}

func (p *ListPage) load(ctx context.Context) error {
	p.state.Loading = true

	res, err := p.mgr.List(ctx, p.buildQuery())
	if err != nil {
		p.state.Loading = false
		p.deps.logger().Error("list load failed",
			zap.String("entity", p.def.Entity), zap.Error(err))
		if p.deps.Notifier != nil {
			p.deps.Notifier.Error(fmt.Sprintf("Failed to load %s", p.mgr.LabelPlural()))
		}
		return err
	}

	items := p.applyLocal(res.Items)

	p.state.Items = items
	// Total stays server-reported even when local filters narrow the
	// page; local filtering trades exact totals for fewer round trips.
	p.state.Total = res.Total
	p.state.Loading = false
	p.pruneSelection()

	if p.deps.Hydrator != nil {
		idField := p.mgr.IDField()
		for _, rec := range items {
			if id := rec.ID(idField); id != "" {
				p.deps.Hydrator.Put(p.def.Entity, id, p.mgr.EntityLabel(rec))
			}
		}
	}

	if p.deps.Options != nil && len(p.state.Filters) > 0 {
		states := make([]*model.FilterState, len(p.state.Filters))
		for i := range p.state.Filters {
			states[i] = &p.state.Filters[i]
		}
		p.deps.Options.ResolveAll(ctx, p.rctx, p.def.Entity, p.list.Filters, states, items)
	}
	return nil
}

// buildQuery assembles the manager query from the current state. Local
// filters and local search are excluded; they run over the returned page.
func (p *ListPage) buildQuery() model.ListQuery {
	q := model.ListQuery{
		Page:      p.state.Page,
		PageSize:  p.state.PageSize,
		SortBy:    p.state.SortBy,
		SortOrder: p.state.SortOrder,
	}
	if !p.list.LocalSearch && p.state.Search != "" {
		q.Search = p.state.Search
		q.SearchFields = p.list.SearchFields
	}

	filters := make(map[string]any)
	for i, def := range p.list.Filters {
		if i >= len(p.state.Filters) || def.Local {
			continue
		}
		v := p.state.Filters[i].Value
		if v == nil {
			continue
		}
		key := def.Name
		if def.ToQuery != "" {
			key = def.ToQuery
		}
		filters[key] = v
	}
	if len(filters) > 0 {
		q.Filters = filters
	}
	return q
}

func (p *ListPage) applyLocal(items []model.Record) []model.Record {
	for i, def := range p.list.Filters {
		if !def.Local || i >= len(p.state.Filters) {
			continue
		}
		v := p.state.Filters[i].Value
		if v == nil {
			continue
		}
		want := fmt.Sprint(v)
		field := filterField(def)
		kept := items[:0]
		for _, rec := range items {
			if fv, ok := rec[field]; ok && fmt.Sprint(fv) == want {
				kept = append(kept, rec)
			}
		}
		items = kept
	}

	if p.list.LocalSearch && p.state.Search != "" {
		needle := strings.ToLower(p.state.Search)
		fields := p.list.SearchFields
		kept := items[:0]
		for _, rec := range items {
			if recordMatches(rec, fields, needle) {
				kept = append(kept, rec)
			}
		}
		items = kept
	}
	return items
}

func recordMatches(rec model.Record, fields []string, needle string) bool {
	if len(fields) == 0 {
		for _, v := range rec {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
		return false
	}
	for _, f := range fields {
		if v, ok := rec[f]; ok && strings.Contains(strings.ToLower(fmt.Sprint(v)), needle) {
			return true
		}
	}
	return false
}

// SetFilter sets one filter's value (nil clears it), resets to page one,
// persists, and reloads.
func (p *ListPage) SetFilter(ctx context.Context, name string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	found := false
	for i := range p.state.Filters {
		if p.state.Filters[i].Name == name {
			p.state.Filters[i].Value = value
			found = true
			break
		}
	}
	if !found {
		return model.NewBadRequestError(fmt.Sprintf("unknown filter %q", name))
	}

	p.state.Page = 1
	p.persist(ctx)
	return p.load(ctx)
}

// ClearFilters drops all filter values and the search term, clears the
// session copy, and reloads.
func (p *ListPage) ClearFilters(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.state.Filters {
		p.state.Filters[i].Value = nil
	}
	p.state.Search = ""
	p.state.Page = 1

	if p.deps.Filters != nil && p.list.Persist && p.sessionID != "" {
		if err := p.deps.Filters.Clear(ctx, p.sessionID, p.def.Entity, p.name); err != nil {
			p.deps.logger().Warn("filter clear failed",
				zap.String("entity", p.def.Entity), zap.Error(err))
		}
	}
	return p.load(ctx)
}

// SetSearch updates the search term and schedules a debounced reload. Each
// call cancels the previously scheduled one, so only the last term in a
// typing burst hits the backend.
func (p *ListPage) SetSearch(term string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.Search = term
	p.state.Page = 1

	if p.searchTimer != nil {
		p.searchTimer.Stop()
	}
	p.searchTimer = time.AfterFunc(p.deps.debounce(), func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		ctx := context.Background()
		p.persist(ctx)
		if err := p.load(ctx); err != nil {
			p.deps.logger().Warn("debounced search reload failed",
				zap.String("entity", p.def.Entity), zap.Error(err))
		}
	})
}

// FlushSearch runs a pending debounced search immediately (Enter key).
func (p *ListPage) FlushSearch(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.searchTimer != nil {
		p.searchTimer.Stop()
		p.searchTimer = nil
	}
	p.persist(ctx)
	return p.load(ctx)
}

// SetSort changes the sort column and order and reloads from page one.
func (p *ListPage) SetSort(ctx context.Context, field, order string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.SortBy = field
	if order != "desc" {
		order = "asc"
	}
	p.state.SortOrder = order
	p.state.Page = 1
	return p.load(ctx)
}

// SetPage moves to the given page.
func (p *ListPage) SetPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Page = page
	return p.load(ctx)
}

// SetPageSize changes the page size. Only the allowed sizes are accepted;
// the cookie write is the transport layer's job.
func (p *ListPage) SetPageSize(ctx context.Context, size int) error {
	if !session.ValidPageSize(size) {
		return model.NewBadRequestError(fmt.Sprintf("page size %d not allowed", size))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.PageSize = size
	p.state.Page = 1
	return p.load(ctx)
}

// Select replaces the selection with the given ids.
func (p *ListPage) Select(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Selected = append([]string(nil), ids...)
}

// ToggleSelect flips one id in or out of the selection.
func (p *ListPage) ToggleSelect(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sel := range p.state.Selected {
		if sel == id {
			p.state.Selected = append(p.state.Selected[:i], p.state.Selected[i+1:]...)
			return
		}
	}
	p.state.Selected = append(p.state.Selected, id)
}

// pruneSelection drops selected ids no longer present in the loaded page.
func (p *ListPage) pruneSelection() {
	if len(p.state.Selected) == 0 {
		return
	}
	present := make(map[string]struct{}, len(p.state.Items))
	idField := p.mgr.IDField()
	for _, rec := range p.state.Items {
		present[rec.ID(idField)] = struct{}{}
	}
	kept := p.state.Selected[:0]
	for _, id := range p.state.Selected {
		if _, ok := present[id]; ok {
			kept = append(kept, id)
		}
	}
	p.state.Selected = kept
}

// BulkDelete deletes every selected record, one call per id. Failures do
// not stop the loop; afterwards one success toast and one error toast
// summarize the counts, option caches for the entity are invalidated, and
// exactly one reload runs regardless of the outcome mix.
func (p *ListPage) BulkDelete(ctx context.Context) error {
	p.mu.Lock()
	ids := append([]string(nil), p.state.Selected...)
	p.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	if p.deps.Confirmer != nil {
		ok := p.deps.Confirmer.Confirm(ctx, model.ConfirmationDescriptor{
			Title:   "Delete selected",
			Message: fmt.Sprintf("Delete %d selected %s?", len(ids), strings.ToLower(p.mgr.LabelPlural())),
			Confirm: "Delete",
			Cancel:  "Cancel",
			Style:   "danger",
		})
		if !ok {
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, id := range ids {
		if err := p.mgr.Delete(ctx, id); err != nil {
			failed++
			p.deps.logger().Warn("bulk delete item failed",
				zap.String("entity", p.def.Entity),
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		deleted++
	}

	if p.deps.Notifier != nil {
		if deleted > 0 {
			p.deps.Notifier.Success(fmt.Sprintf("%d deleted", deleted))
		}
		if failed > 0 {
			p.deps.Notifier.Error(fmt.Sprintf("%d could not be deleted", failed))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Selected = nil
	if p.deps.Options != nil {
		p.deps.Options.Invalidate(p.def.Entity)
	}
	return p.load(ctx)
}

// PersistFilters saves the current filter values and search term to the
// session store. Used when the initial query string carried filter state
// that should survive into the next bare load.
func (p *ListPage) PersistFilters(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persist(ctx)
}

// persist saves the current persist-enabled filter values and search term
// under the session key. Must be called with the lock held.
func (p *ListPage) persist(ctx context.Context) {
	if p.deps.Filters == nil || !p.list.Persist || p.sessionID == "" {
		return
	}
	values := make(map[string]any)
	for _, f := range p.state.Filters {
		if f.Persist && f.Value != nil {
			values[f.Name] = f.Value
		}
	}
	if err := p.deps.Filters.Save(ctx, p.sessionID, p.def.Entity, p.name, values, p.state.Search); err != nil {
		p.deps.logger().Warn("filter persist failed",
			zap.String("entity", p.def.Entity), zap.Error(err))
	}
}

// URLQuery renders the persisted filter state as shareable URL parameters.
func (p *ListPage) URLQuery() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()

	values := make(map[string]any)
	for _, f := range p.state.Filters {
		if f.Value != nil {
			values[f.Name] = f.Value
		}
	}
	return session.ToQuery(values, p.state.Search)
}

// State returns a copy of the current list state.
func (p *ListPage) State() model.ListState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state
	st.Columns = append([]model.ColumnState(nil), p.state.Columns...)
	st.Filters = append([]model.FilterState(nil), p.state.Filters...)
	st.Items = append([]model.Record(nil), p.state.Items...)
	st.Selected = append([]string(nil), p.state.Selected...)
	return st
}

// Close stops any pending debounced reload.
func (p *ListPage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.searchTimer != nil {
		p.searchTimer.Stop()
		p.searchTimer = nil
	}
}

// filterField resolves the record field a filter applies to.
func filterField(def model.FilterDefinition) string {
	if def.Field != "" {
		return def.Field
	}
	return def.Name
}
