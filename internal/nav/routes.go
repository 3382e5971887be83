// Package nav derives semantic navigation state from routes: the breadcrumb
// chain, sibling navlinks for child routes, and the admin menu. It is pure
// route-and-registry computation; entity labels are paired in lazily through
// the hydration registry as data arrives.
package nav

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quazardous/qdadm/model"
)

// EntityInfo is the route metadata registered per entity.
type EntityInfo struct {
	Entity      string
	Label       string
	LabelPlural string
	RoutePrefix string
	Parent      *model.ParentRef
	Menu        *model.MenuEntry
}

// Route is a named route pattern registered with the table. Pattern segments
// starting with ':' are params; the segment "create"/"edit"/"show"/"delete"
// in the terminal position marks the route's action.
type Route struct {
	Name    string
	Pattern string
	Entity  string
}

// Table holds registered entities and named routes. Safe for concurrent
// reads after setup; registrations are expected at startup only.
type Table struct {
	mu       sync.RWMutex
	entities map[string]EntityInfo // keyed by route prefix
	byName   map[string]Route
	routes   []Route
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{
		entities: make(map[string]EntityInfo),
		byName:   make(map[string]Route),
	}
}

// RegisterEntity registers entity metadata and its standard routes
// (<prefix>, <prefix>/create, <prefix>/:id, <prefix>/:id/edit).
func (t *Table) RegisterEntity(info EntityInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entities[info.RoutePrefix] = info

	prefix := "/" + info.RoutePrefix
	std := []Route{
		{Name: info.Entity + "-list", Pattern: prefix, Entity: info.Entity},
		{Name: info.Entity + "-create", Pattern: prefix + "/create", Entity: info.Entity},
		{Name: info.Entity + "-show", Pattern: prefix + "/:id", Entity: info.Entity},
		{Name: info.Entity + "-edit", Pattern: prefix + "/:id/edit", Entity: info.Entity},
	}
	for _, r := range std {
		if _, exists := t.byName[r.Name]; exists {
			continue
		}
		t.byName[r.Name] = r
		t.routes = append(t.routes, r)
	}
}

// RegisterRoute adds a custom named route.
func (t *Table) RegisterRoute(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byName[r.Name] = r
	t.routes = append(t.routes, r)
}

// EntityByPrefix returns the entity registered under the given route prefix.
func (t *Table) EntityByPrefix(prefix string) (EntityInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.entities[prefix]
	return info, ok
}

// EntityByName returns the entity registered under the given entity name.
func (t *Table) EntityByName(entity string) (EntityInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, info := range t.entities {
		if info.Entity == entity {
			return info, true
		}
	}
	return EntityInfo{}, false
}

// URL renders the named route with the given params substituted for its
// ':param' segments.
func (t *Table) URL(name string, params map[string]string) (string, error) {
	t.mu.RLock()
	r, ok := t.byName[name]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("nav: unknown route %q", name)
	}

	segs := splitPath(r.Pattern)
	for i, seg := range segs {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		v, exists := params[seg[1:]]
		if !exists {
			return "", fmt.Errorf("nav: route %q missing param %q", name, seg[1:])
		}
		segs[i] = v
	}
	return "/" + strings.Join(segs, "/"), nil
}

// RoutesFor returns every registered route owned by the given entity.
func (t *Table) RoutesFor(entity string) []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Route
	for _, r := range t.routes {
		if r.Entity == entity {
			out = append(out, r)
		}
	}
	return out
}

// Menu builds the admin navigation tree from registered entities with a
// menu entry, filtered by capability set and sorted by menu order.
func (t *Table) Menu(caps model.CapabilitySet) model.NavigationTree {
	t.mu.RLock()
	infos := make([]EntityInfo, 0, len(t.entities))
	for _, info := range t.entities {
		infos = append(infos, info)
	}
	t.mu.RUnlock()

	type ordered struct {
		node  model.NavigationNode
		order int
	}
	var nodes []ordered
	for _, info := range infos {
		if info.Menu == nil {
			continue
		}
		if len(info.Menu.Capabilities) > 0 && !caps.HasAll(info.Menu.Capabilities...) {
			continue
		}
		label := info.Menu.Label
		if label == "" {
			label = info.LabelPlural
		}
		nodes = append(nodes, ordered{
			node: model.NavigationNode{
				Entity: info.Entity,
				Label:  label,
				Icon:   info.Menu.Icon,
				Route:  "/" + info.RoutePrefix,
			},
			order: info.Menu.Order,
		})
	}

	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].order < nodes[j].order })
	items := make([]model.NavigationNode, len(nodes))
	for i, n := range nodes {
		items[i] = n.node
	}
	return model.NavigationTree{Items: items}
}

// splitPath splits a path into non-empty segments.
func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
