package nav

import (
	"strings"

	"github.com/quazardous/qdadm/model"
)

// Action segments recognized while walking a path.
var actionKinds = map[string]string{
	"edit":   model.ChainEntityEdit,
	"create": model.ChainEntityCreate,
	"show":   model.ChainEntityShow,
	"delete": model.ChainEntityDelete,
}

// ChainBuilder computes the breadcrumb chain and sibling navlinks for a
// path, resolving item labels through the hydration registry.
type ChainBuilder struct {
	table    *Table
	hydrator *Hydrator
}

// NewChainBuilder creates a ChainBuilder. The table is required; a nil
// hydrator disables lazy label resolution.
func NewChainBuilder(table *Table, hydrator *Hydrator) *ChainBuilder {
	if table == nil {
		panic("nav: route table is required")
	}
	return &ChainBuilder{table: table, hydrator: hydrator}
}

// Chain tokenizes path into static/param/action segments and walks them
// left to right. A static segment matching a registered entity prefix opens
// an entity-list entry; a following id segment opens a pending item whose
// kind is refined by the next action segment; an unflushed pending id
// becomes an implicit entity-show. Entries are links except the last.
func (b *ChainBuilder) Chain(path string) []model.BreadcrumbEntry {
	segs := splitPath(path)

	var entries []model.BreadcrumbEntry
	var current *EntityInfo
	pendingID := ""
	walked := ""

	flush := func(kind, id, route string) {
		if current == nil {
			return
		}
		entries = append(entries, model.BreadcrumbEntry{
			Kind:   kind,
			Entity: current.Entity,
			ID:     id,
			Route:  route,
			Label:  b.itemLabel(current, kind, id),
			Link:   true,
		})
	}

	for _, seg := range segs {
		walked += "/" + seg

		if kind, isAction := actionKinds[seg]; isAction && current != nil {
			flush(kind, pendingID, walked)
			pendingID = ""
			continue
		}

		if info, ok := b.table.EntityByPrefix(seg); ok {
			// Close out any pending item of the previous entity before
			// descending into a child collection.
			if pendingID != "" {
				flush(model.ChainEntityShow, pendingID, strings.TrimSuffix(walked, "/"+seg))
				pendingID = ""
			}
			current = &info
			entries = append(entries, model.BreadcrumbEntry{
				Kind:   model.ChainEntityList,
				Entity: info.Entity,
				Route:  walked,
				Label:  info.LabelPlural,
				Link:   true,
			})
			continue
		}

		if current != nil {
			// Param segment: the id of the current entity's item.
			pendingID = seg
			continue
		}

		// A static segment outside any entity context.
		entries = append(entries, model.BreadcrumbEntry{
			Kind:  model.ChainRoute,
			Route: walked,
			Label: seg,
			Link:  true,
		})
	}

	// Unmatched trailing id flushes as an implicit show entry.
	if pendingID != "" {
		flush(model.ChainEntityShow, pendingID, walked)
	}

	if n := len(entries); n > 0 {
		entries[n-1].Link = false
	}
	return entries
}

// NavLinks returns the tab-like sibling links for the current path: every
// registered child route of the entity owning the path's deepest item.
func (b *ChainBuilder) NavLinks(path string) []model.NavLink {
	chain := b.Chain(path)

	// Find the deepest item entry; navlinks only make sense with an id.
	var item *model.BreadcrumbEntry
	for i := range chain {
		e := &chain[i]
		if e.ID != "" {
			item = e
		}
	}
	if item == nil {
		return nil
	}

	var links []model.NavLink
	for _, r := range b.table.RoutesFor(item.Entity) {
		if !strings.Contains(r.Pattern, ":id") {
			continue
		}
		url, err := b.table.URL(r.Name, map[string]string{"id": item.ID})
		if err != nil {
			continue
		}
		label := r.Name
		if i := strings.LastIndex(r.Name, "-"); i >= 0 {
			label = r.Name[i+1:]
		}
		links = append(links, model.NavLink{
			Label:  label,
			Route:  url,
			Active: url == path,
		})
	}
	return links
}

// itemLabel resolves a display label for an item entry: the hydration
// registry first, then the raw id. List-style kinds use the plural label.
func (b *ChainBuilder) itemLabel(info *EntityInfo, kind, id string) string {
	if kind == model.ChainEntityCreate {
		return "New " + info.Label
	}
	if id == "" {
		return info.Label
	}
	if b.hydrator != nil {
		if label, ok := b.hydrator.Get(info.Entity, id); ok {
			return label
		}
	}
	return id
}
