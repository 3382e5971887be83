// Package options resolves filter controls to concrete option lists. Four
// source modes are supported per filter, in priority order: a static list,
// listing a related entity, an entity-scoped endpoint (defaulting to
// "distinct/<field>"), and distinct values of the loaded result set. Small
// lists render as cached selects, large ones as uncached autocompletes.
package options

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quazardous/qdadm/model"
)

// SelectThreshold is the option count above which a filter falls back to an
// autocomplete widget and resolution results are no longer cached.
const SelectThreshold = 50

// DefaultEndpointPrefix is the path used when a filter asks for endpoint
// options without naming a path.
const DefaultEndpointPrefix = "distinct/"

// ManagerSource looks up the entity manager backing an option source.
type ManagerSource interface {
	Manager(entity string) (model.Manager, bool)
}

// PostProcess rewrites a resolved option list before it reaches the widget.
type PostProcess func([]model.Option) []model.Option

// Resolver resolves filter definitions to option lists with a TTL cache.
type Resolver struct {
	managers   ManagerSource
	logger     *zap.Logger
	defaultTTL time.Duration
	maxEntries int

	mu    sync.RWMutex
	cache map[string]cacheEntry
	post  map[string]PostProcess
}

type cacheEntry struct {
	options   []model.Option
	expiresAt time.Time
}

// NewResolver creates a Resolver over the given manager source.
func NewResolver(managers ManagerSource, logger *zap.Logger, defaultTTL time.Duration, maxEntries int) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Resolver{
		managers:   managers,
		logger:     logger,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		cache:      make(map[string]cacheEntry),
		post:       make(map[string]PostProcess),
	}
}

// RegisterPostProcess installs a rewrite callback for one filter of one
// entity, keyed "<entity>:<filter>".
func (r *Resolver) RegisterPostProcess(entity, filter string, fn PostProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.post[entity+":"+filter] = fn
}

// ResolveAll resolves every filter state in place, sequentially. A failure
// on one filter is logged and leaves that filter without options; it never
// aborts the rest of the page load.
func (r *Resolver) ResolveAll(
	ctx context.Context,
	rctx *model.RequestContext,
	entity string,
	defs []model.FilterDefinition,
	states []*model.FilterState,
	loaded []model.Record,
) {
	for i, def := range defs {
		if i >= len(states) {
			break
		}
		if err := r.Resolve(ctx, rctx, entity, def, states[i], loaded); err != nil {
			r.logger.Warn("filter option resolution failed",
				zap.String("entity", entity),
				zap.String("filter", def.Name),
				zap.Error(err))
		}
	}
}

// Resolve resolves one filter's options into its state: options, widget
// kind, and the cache-source latch.
func (r *Resolver) Resolve(
	ctx context.Context,
	rctx *model.RequestContext,
	entity string,
	def model.FilterDefinition,
	st *model.FilterState,
	loaded []model.Record,
) error {
	opts, fromCacheMode, err := r.sourceOptions(ctx, rctx, entity, def, st, loaded)
	if err != nil {
		return err
	}
	if opts == nil && fromCacheMode {
		// Latch held or the filter has a value: keep the current list.
		r.finishState(def, st, st.Options, false)
		return nil
	}

	opts = withAllSentinel(def.Label, opts)
	if fn := r.postProcessFor(entity, def.Name); fn != nil {
		opts = fn(opts)
	}

	r.finishState(def, st, opts, fromCacheMode)
	return nil
}

// sourceOptions runs the filter's source mode. The second return reports
// the result-set-derived mode so the caller can manage the latch.
func (r *Resolver) sourceOptions(
	ctx context.Context,
	rctx *model.RequestContext,
	entity string,
	def model.FilterDefinition,
	st *model.FilterState,
	loaded []model.Record,
) ([]model.Option, bool, error) {
	switch {
	case len(def.Static) > 0:
		opts := make([]model.Option, 0, len(def.Static))
		for _, s := range def.Static {
			opts = append(opts, model.Option{Label: s.Label, Value: s.Value})
		}
		return opts, false, nil

	case def.OptionsEntity != "":
		opts, err := r.resolveEntity(ctx, rctx, def)
		return opts, false, err

	case endpointEnabled(def.OptionsEndpoint):
		opts, err := r.resolveEndpoint(ctx, rctx, entity, def)
		return opts, false, err

	case def.OptionsFromCache:
		// Resolve only while the filter is empty, and only once, so the
		// list cannot shrink while the user is narrowing results.
		if st.OptionsLoaded || st.Value != nil {
			return nil, true, nil
		}
		return distinctFromRecords(loaded, filterField(def)), true, nil

	default:
		return nil, false, nil
	}
}

// finishState applies widget selection and writes the resolved state.
func (r *Resolver) finishState(def model.FilterDefinition, st *model.FilterState, opts []model.Option, latch bool) {
	st.Options = opts
	if latch {
		st.OptionsLoaded = true
	}

	if def.Type != "" {
		st.Widget = def.Type
		return
	}
	// Count excludes the sentinel when deciding the widget.
	n := len(opts)
	if n > 0 && opts[0].Value == nil {
		n--
	}
	if n > SelectThreshold {
		st.Widget = model.WidgetAutocomplete
		return
	}
	st.Widget = model.WidgetSelect
}

func (r *Resolver) resolveEntity(ctx context.Context, rctx *model.RequestContext, def model.FilterDefinition) ([]model.Option, error) {
	mgr, ok := r.managers.Manager(def.OptionsEntity)
	if !ok {
		return nil, fmt.Errorf("options entity %q is not registered", def.OptionsEntity)
	}

	key := cacheKey("entity", def.OptionsEntity, def.Name, rctx)
	if opts, hit := r.fromCache(key); hit {
		return opts, nil
	}

	res, err := mgr.List(ctx, model.ListQuery{Page: 1, PageSize: 1000})
	if err != nil {
		return nil, fmt.Errorf("listing %q for options: %w", def.OptionsEntity, err)
	}

	opts := make([]model.Option, 0, len(res.Items))
	for _, rec := range res.Items {
		opts = append(opts, model.Option{
			Label: mgr.EntityLabel(rec),
			Value: rec[mgr.IDField()],
		})
	}
	r.maybeCache(key, opts)
	return opts, nil
}

func (r *Resolver) resolveEndpoint(ctx context.Context, rctx *model.RequestContext, entity string, def model.FilterDefinition) ([]model.Option, error) {
	mgr, ok := r.managers.Manager(entity)
	if !ok {
		return nil, fmt.Errorf("entity %q is not registered", entity)
	}

	path := endpointPath(def)
	key := cacheKey("endpoint", entity, def.Name, rctx)
	if opts, hit := r.fromCache(key); hit {
		return opts, nil
	}

	body, err := mgr.Request(ctx, "GET", path, model.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching options from %q: %w", path, err)
	}

	opts := normalizeBody(body)
	r.maybeCache(key, opts)
	return opts, nil
}

func (r *Resolver) postProcessFor(entity, filter string) PostProcess {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.post[entity+":"+filter]
}

// CacheLen returns the number of live cache entries. For testing.
func (r *Resolver) CacheLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Invalidate drops cached option lists for an entity, or all when empty.
func (r *Resolver) Invalidate(entity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.cache {
		if entity == "" || strings.Contains(k, ":"+entity+":") {
			delete(r.cache, k)
		}
	}
}

func (r *Resolver) fromCache(key string) ([]model.Option, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.options, true
}

// maybeCache stores an option list unless it is autocomplete-sized; large
// lists are refetched so the autocomplete always sees fresh data.
func (r *Resolver) maybeCache(key string, opts []model.Option) {
	if len(opts) > SelectThreshold {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) >= r.maxEntries {
		now := time.Now()
		for k, v := range r.cache {
			if now.After(v.expiresAt) {
				delete(r.cache, k)
			}
		}
	}
	r.cache[key] = cacheEntry{options: opts, expiresAt: time.Now().Add(r.defaultTTL)}
}

func cacheKey(mode, entity, filter string, rctx *model.RequestContext) string {
	tenant := ""
	if rctx != nil {
		tenant = rctx.TenantID
	}
	return fmt.Sprintf("options:%s:%s:%s:%s", mode, entity, filter, tenant)
}

// endpointEnabled reports whether the endpoint source is active: either a
// path string or a literal true.
func endpointEnabled(v any) bool {
	switch ep := v.(type) {
	case string:
		return ep != ""
	case bool:
		return ep
	default:
		return false
	}
}

// endpointPath returns the configured path, or "distinct/<field>" when the
// endpoint source was enabled with true.
func endpointPath(def model.FilterDefinition) string {
	if s, ok := def.OptionsEndpoint.(string); ok && s != "" {
		return s
	}
	return DefaultEndpointPrefix + filterField(def)
}

// filterField returns the backing field, defaulting to the filter name.
func filterField(def model.FilterDefinition) string {
	if def.Field != "" {
		return def.Field
	}
	return def.Name
}

// withAllSentinel prepends the nil-valued "All <Label>" entry.
func withAllSentinel(label string, opts []model.Option) []model.Option {
	out := make([]model.Option, 0, len(opts)+1)
	out = append(out, model.Option{Label: "All " + label, Value: nil})
	return append(out, opts...)
}

// normalizeBody coerces the heterogeneous endpoint response shapes into
// options: a bare array, an object wrapping an "items" or "data" array,
// primitive elements, and {label,value}-ish object elements.
func normalizeBody(body any) []model.Option {
	arr := extractArray(body)
	if arr == nil {
		return nil
	}

	opts := make([]model.Option, 0, len(arr))
	for _, item := range arr {
		if opt, ok := normalizeItem(item); ok {
			opts = append(opts, opt)
		}
	}
	return opts
}

func extractArray(body any) []any {
	switch v := body.(type) {
	case []any:
		return v
	case map[string]any:
		if arr, ok := v["items"].([]any); ok {
			return arr
		}
		if arr, ok := v["data"].([]any); ok {
			return arr
		}
	}
	return nil
}

func normalizeItem(item any) (model.Option, bool) {
	switch v := item.(type) {
	case map[string]any:
		label := firstString(v, "label", "name", "title")
		value, hasValue := v["value"]
		if !hasValue {
			value, hasValue = v["id"]
		}
		if label == "" && !hasValue {
			return model.Option{}, false
		}
		if label == "" {
			label = stringify(value)
		}
		if !hasValue {
			value = label
		}
		return model.Option{Label: label, Value: value}, true
	case nil:
		return model.Option{}, false
	default:
		return model.Option{Label: stringify(v), Value: v}, true
	}
}

// distinctFromRecords derives sorted distinct options for a field from the
// loaded result set.
func distinctFromRecords(records []model.Record, field string) []model.Option {
	seen := make(map[string]any)
	for _, rec := range records {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		seen[stringify(v)] = v
	}

	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	opts := make([]model.Option, 0, len(labels))
	for _, label := range labels {
		opts = append(opts, model.Option{Label: label, Value: seen[label]})
	}
	return opts
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
