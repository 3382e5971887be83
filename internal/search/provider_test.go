package search

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/definition"
	"github.com/quazardous/qdadm/internal/entity"
	"github.com/quazardous/qdadm/internal/nav"
	"github.com/quazardous/qdadm/model"
)

type slowManager struct {
	model.Manager
	delay time.Duration
}

func (s *slowManager) List(ctx context.Context, q model.ListQuery) (model.ListResult, error) {
	select {
	case <-time.After(s.delay):
		return s.Manager.List(ctx, q)
	case <-ctx.Done():
		return model.ListResult{}, model.NewBackendTimeoutError()
	}
}

func searchableDef(name, label, prefix string, weight int) model.EntityDefinition {
	return model.EntityDefinition{
		Entity:      name,
		Label:       label,
		LabelPlural: label + "s",
		RoutePrefix: prefix,
		LabelField:  "title",
		Search: &model.SearchBinding{
			Fields: []string{"title", "summary"},
			Weight: weight,
		},
	}
}

func newTestProvider(t *testing.T, timeout time.Duration, slow time.Duration) (*Provider, *entity.Registry) {
	t.Helper()

	books := searchableDef("books", "Book", "books", 2)
	authors := searchableDef("authors", "Author", "authors", 1)
	authors.List.Capabilities = []string{"authors:read"}

	bookMgr := entity.NewMemoryManager(books, nil, entity.AllowAll{})
	bookMgr.Seed(
		model.Record{"id": "1", "title": "Dune", "summary": "Desert planet"},
		model.Record{"id": "2", "title": "Dune Messiah", "summary": "Sequel"},
	)
	authorMgr := entity.NewMemoryManager(authors, nil, entity.AllowAll{})
	authorMgr.Seed(model.Record{"id": "a1", "title": "Frank Herbert, Dune author"})

	reg := entity.NewRegistry()
	if err := reg.Register("books", bookMgr); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var authorBackend model.Manager = authorMgr
	if slow > 0 {
		authorBackend = &slowManager{Manager: authorMgr, delay: slow}
	}
	if err := reg.Register("authors", authorBackend); err != nil {
		t.Fatalf("Register: %v", err)
	}

	table := nav.NewTable()
	table.RegisterEntity(nav.EntityInfo{Entity: "books", RoutePrefix: "books"})
	table.RegisterEntity(nav.EntityInfo{Entity: "authors", RoutePrefix: "authors"})

	defs := definition.NewRegistry([]model.EntityDefinition{books, authors})
	return NewProvider(defs, reg, table, zap.NewNop(), timeout, 20), reg
}

func allCaps() model.CapabilitySet { return model.CapabilitySet{"*": true} }

func rctx() *model.RequestContext {
	return &model.RequestContext{SubjectID: "u1", TenantID: "t1"}
}

func TestSearch_mergesAndWeights(t *testing.T) {
	p, _ := newTestProvider(t, time.Second, 0)

	resp, err := p.Search(context.Background(), rctx(), allCaps(), "dune")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Total != 3 {
		t.Fatalf("total = %d, want 3 hits across both entities", resp.Total)
	}
	// Books carry the higher weight and sort first.
	if resp.Results[0].Entity != "books" || resp.Results[2].Entity != "authors" {
		t.Errorf("order = %v, want books before authors", resp.Results)
	}
	if resp.Results[0].Route != "/books/1" {
		t.Errorf("route = %q, want /books/1", resp.Results[0].Route)
	}
	if resp.Results[0].Subtitle != "Desert planet" {
		t.Errorf("subtitle = %q", resp.Results[0].Subtitle)
	}
	if resp.Statuses["books"] != "ok" || resp.Statuses["authors"] != "ok" {
		t.Errorf("statuses = %v", resp.Statuses)
	}
}

func TestSearch_queryTooShort(t *testing.T) {
	p, _ := newTestProvider(t, time.Second, 0)
	if _, err := p.Search(context.Background(), rctx(), allCaps(), " d "); err == nil {
		t.Fatal("one-character query should be rejected")
	}
}

func TestSearch_capabilityFilter(t *testing.T) {
	p, _ := newTestProvider(t, time.Second, 0)

	resp, err := p.Search(context.Background(), rctx(), model.CapabilitySet{"books:*": true}, "dune")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range resp.Results {
		if r.Entity == "authors" {
			t.Fatal("authors requires authors:read and should be skipped")
		}
	}
	if _, ok := resp.Statuses["authors"]; ok {
		t.Error("skipped entities should not report a status")
	}
}

func TestSearch_slowEntityTimesOut(t *testing.T) {
	p, _ := newTestProvider(t, 20*time.Millisecond, 200*time.Millisecond)

	resp, err := p.Search(context.Background(), rctx(), allCaps(), "dune")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Statuses["authors"] != "timeout" {
		t.Errorf("authors status = %q, want timeout", resp.Statuses["authors"])
	}
	if resp.Statuses["books"] != "ok" || len(resp.Results) != 2 {
		t.Errorf("books should still answer: statuses=%v results=%d", resp.Statuses, len(resp.Results))
	}
}

func TestDedupe(t *testing.T) {
	in := []model.SearchResult{
		{Entity: "books", ID: "1", Title: "Dune", Weight: 1},
		{Entity: "books", ID: "1", Title: "Dune", Weight: 5},
		{Entity: "books", ID: "2", Title: "Dune Messiah", Weight: 1},
	}
	out := dedupe(in)
	if len(out) != 2 {
		t.Fatalf("got %d, want 2", len(out))
	}
	if out[0].Weight != 5 {
		t.Errorf("kept weight = %d, want the heavier duplicate", out[0].Weight)
	}
}
