// Package search implements global entity search: a capability-filtered
// fan-out over every entity that opts in through its search binding, with
// per-entity timeouts and merged, weighted results.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/definition"
	"github.com/quazardous/qdadm/internal/entity"
	"github.com/quazardous/qdadm/internal/nav"
	"github.com/quazardous/qdadm/model"
)

const (
	// MinQueryLength guards backends from one-character scans.
	MinQueryLength = 2

	defaultTimeout    = 3 * time.Second
	defaultMaxPerHit  = 20
	defaultResultsCap = 50
)

// Provider orchestrates global search across every searchable entity.
type Provider struct {
	defs     *definition.Registry
	managers *entity.Registry
	nav      *nav.Table
	logger   *zap.Logger

	timeout    time.Duration
	maxPerHit  int
	resultsCap int
}

// NewProvider builds the search orchestrator. Zero timeout and limits fall
// back to the defaults.
func NewProvider(defs *definition.Registry, managers *entity.Registry, table *nav.Table, logger *zap.Logger, timeout time.Duration, maxPerEntity int) *Provider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxPerEntity <= 0 {
		maxPerEntity = defaultMaxPerHit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		defs:       defs,
		managers:   managers,
		nav:        table,
		logger:     logger,
		timeout:    timeout,
		maxPerHit:  maxPerEntity,
		resultsCap: defaultResultsCap,
	}
}

// Response is the merged outcome of one search: results sorted by weight,
// plus the per-entity status map ("ok", "timeout", "error").
type Response struct {
	Results  []model.SearchResult `json:"results"`
	Total    int                  `json:"total"`
	Query    string               `json:"query"`
	Statuses map[string]string    `json:"statuses"`
}

type entityResult struct {
	entity  string
	results []model.SearchResult
	status  string
}

// Search fans the query out to every entity the identity may list and that
// carries a search binding. A slow or failing entity reports through the
// status map and never sinks the whole search.
func (p *Provider) Search(ctx context.Context, rctx *model.RequestContext, caps model.CapabilitySet, query string) (Response, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinQueryLength {
		return Response{}, model.NewBadRequestError(
			fmt.Sprintf("search query must be at least %d characters", MinQueryLength))
	}

	var eligible []model.EntityDefinition
	for _, def := range p.defs.All() {
		if def.Search == nil {
			continue
		}
		if len(def.List.Capabilities) > 0 && !caps.HasAll(def.List.Capabilities...) {
			continue
		}
		eligible = append(eligible, def)
	}

	collected := p.fanOut(ctx, rctx, eligible, query)

	statuses := make(map[string]string, len(collected))
	var merged []model.SearchResult
	for _, r := range collected {
		statuses[r.entity] = r.status
		merged = append(merged, r.results...)
	}

	merged = dedupe(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Weight != merged[j].Weight {
			return merged[i].Weight > merged[j].Weight
		}
		return merged[i].Title < merged[j].Title
	})

	total := len(merged)
	if len(merged) > p.resultsCap {
		merged = merged[:p.resultsCap]
	}

	return Response{Results: merged, Total: total, Query: query, Statuses: statuses}, nil
}

func (p *Provider) fanOut(ctx context.Context, rctx *model.RequestContext, defs []model.EntityDefinition, query string) []entityResult {
	if len(defs) == 0 {
		return nil
	}

	ch := make(chan entityResult, len(defs))
	var wg sync.WaitGroup
	for _, def := range defs {
		wg.Add(1)
		go func(d model.EntityDefinition) {
			defer wg.Done()
			ch <- p.searchEntity(ctx, rctx, d, query)
		}(def)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	var results []entityResult
	for r := range ch {
		results = append(results, r)
	}
	return results
}

func (p *Provider) searchEntity(ctx context.Context, rctx *model.RequestContext, def model.EntityDefinition, query string) entityResult {
	mgr, ok := p.managers.Manager(def.Entity)
	if !ok {
		return entityResult{entity: def.Entity, status: "error"}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = model.WithRequestContext(ctx, rctx)

	limit := def.Search.MaxResults
	if limit <= 0 || limit > p.maxPerHit {
		limit = p.maxPerHit
	}

	res, err := mgr.List(ctx, model.ListQuery{
		Page:         1,
		PageSize:     limit,
		Search:       query,
		SearchFields: def.Search.Fields,
	})
	if err != nil {
		status := "error"
		if ctx.Err() == context.DeadlineExceeded {
			status = "timeout"
		}
		p.logger.Warn("entity search failed",
			zap.String("entity", def.Entity),
			zap.String("status", status),
			zap.Error(err))
		return entityResult{entity: def.Entity, status: status}
	}

	out := entityResult{entity: def.Entity, status: "ok"}
	idField := mgr.IDField()
	for _, rec := range res.Items {
		id := rec.ID(idField)
		if id == "" {
			continue
		}
		out.results = append(out.results, model.SearchResult{
			Entity:   def.Entity,
			ID:       id,
			Title:    mgr.EntityLabel(rec),
			Subtitle: subtitle(rec, def.Search.Fields, def.LabelField),
			Route:    p.showRoute(def.Entity, id),
			Weight:   def.Search.Weight,
		})
	}
	return out
}

func (p *Provider) showRoute(entityName, id string) string {
	if p.nav == nil {
		return ""
	}
	u, err := p.nav.URL(entityName+"-show", map[string]string{"id": id})
	if err != nil {
		return ""
	}
	return u
}

// subtitle picks the first searched field that is not already the title.
func subtitle(rec model.Record, fields []string, labelField string) string {
	for _, f := range fields {
		if f == labelField {
			continue
		}
		if v, ok := rec[f]; ok {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// dedupe drops duplicate entity+id pairs, keeping the heavier hit.
func dedupe(results []model.SearchResult) []model.SearchResult {
	byKey := make(map[string]int, len(results))
	var out []model.SearchResult
	for _, r := range results {
		key := r.Entity + "/" + r.ID
		if i, seen := byKey[key]; seen {
			if r.Weight > out[i].Weight {
				out[i] = r
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, r)
	}
	return out
}
