package entity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/quazardous/qdadm/model"
)

func newRestManager(t *testing.T, handler http.HandlerFunc) (*RestManager, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	def := bookDef()
	def.Backend = model.BackendBinding{Driver: "rest", BasePath: "books"}
	m := NewRestManager(def, bookFields(), nil, RestConfig{BaseURL: srv.URL}, nil)
	return m, srv
}

func TestRestManager_listQueryEncoding(t *testing.T) {
	var gotPath, gotQuery string
	m, _ := newRestManager(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"items": []any{map[string]any{"id": "1", "title": "Dune"}},
			"total": 41,
		})
	})

	res, err := m.List(context.Background(), model.ListQuery{
		Page:         2,
		PageSize:     50,
		SortBy:       "title",
		SortOrder:    "desc",
		Search:       "du",
		SearchFields: []string{"title"},
		Filters:      map[string]any{"status": "published", "empty": nil},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotPath != "/books" {
		t.Errorf("path = %q", gotPath)
	}
	q, _ := url.ParseQuery(gotQuery)
	for key, want := range map[string]string{
		"page": "2", "page_size": "50",
		"sort_by": "title", "sort_order": "desc",
		"q": "du", "search_fields": "title",
		"status": "published",
	} {
		if q.Get(key) != want {
			t.Errorf("query[%s] = %q, want %q", key, q.Get(key), want)
		}
	}
	if q.Has("empty") {
		t.Error("nil filter leaked into query")
	}
	if res.Total != 41 || len(res.Items) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestRestManager_listBareArray(t *testing.T) {
	m, _ := newRestManager(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]any{
			map[string]any{"id": "1"},
			map[string]any{"id": "2"},
		})
	})

	res, err := m.List(context.Background(), model.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 2 || len(res.Items) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestRestManager_getUnwrapsDataEnvelope(t *testing.T) {
	m, _ := newRestManager(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/books/7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "7", "title": "It"},
		})
	})

	rec, err := m.Get(context.Background(), "7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec["title"] != "It" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRestManager_notFound(t *testing.T) {
	m, _ := newRestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"detail": "book 9 does not exist"},
		})
	})

	_, err := m.Get(context.Background(), "9")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrNotFound {
		t.Fatalf("err = %v, want NOT_FOUND envelope", err)
	}
	// The backend's nested detail message survives the mapping.
	if env.Message != "book 9 does not exist" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestRestManager_conflictMessageFromFlatDetail(t *testing.T) {
	m, _ := newRestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"detail": "version conflict"})
	})

	_, err := m.Update(context.Background(), "1", model.Record{"title": "x"})
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrConflict || env.Message != "version conflict" {
		t.Fatalf("err = %v", err)
	}
}

func TestRestManager_identityHeadersPropagate(t *testing.T) {
	var gotAuth, gotTenant string
	m, _ := newRestManager(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTenant = r.Header.Get("X-Tenant-Id")
		json.NewEncoder(w).Encode(map[string]any{"id": "1"})
	})

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID: "u1",
		SessionID: "s1",
		TenantID:  "acme",
		Token:     "tok123",
	})
	if _, err := m.Get(ctx, "1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotTenant != "acme" {
		t.Errorf("X-Tenant-Id = %q", gotTenant)
	}
}

func TestRestManager_retriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "1"})
	}))
	defer srv.Close()

	def := bookDef()
	def.Backend = model.BackendBinding{Driver: "rest", BasePath: "books"}
	m := NewRestManager(def, bookFields(), nil, RestConfig{
		BaseURL: srv.URL,
		Retry:   RetryConfig{MaxAttempts: 3, BackoffInitial: 1},
	}, nil)

	if _, err := m.Get(context.Background(), "1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRestManager_breakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	def := bookDef()
	def.Backend = model.BackendBinding{Driver: "rest", BasePath: "books"}
	m := NewRestManager(def, bookFields(), nil, RestConfig{
		BaseURL: srv.URL,
		Breaker: BreakerConfig{FailureThreshold: 2},
	}, nil)

	for i := 0; i < 2; i++ {
		if _, err := m.Get(context.Background(), "1"); err == nil {
			t.Fatal("expected backend error")
		}
	}

	_, err := m.Get(context.Background(), "1")
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrBackendUnavailable {
		t.Fatalf("err = %v, want BACKEND_UNAVAILABLE from open breaker", err)
	}
	if m.BreakerState() != "open" {
		t.Errorf("breaker state = %q", m.BreakerState())
	}
}

func TestRestManager_requestScopedToEntityPath(t *testing.T) {
	var gotPath string
	m, _ := newRestManager(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode([]any{"draft", "published"})
	})

	body, err := m.Request(context.Background(), "GET", "distinct/status", model.RequestOptions{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if gotPath != "/books/distinct/status" {
		t.Errorf("path = %q", gotPath)
	}
	if arr, ok := body.([]any); !ok || len(arr) != 2 {
		t.Errorf("body = %v", body)
	}
}
