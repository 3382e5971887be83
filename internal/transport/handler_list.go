package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/screen"
	"github.com/quazardous/qdadm/internal/session"
	"github.com/quazardous/qdadm/model"
)

// listResponse bundles the page state with the toasts raised while it was
// assembled.
type listResponse struct {
	State  model.ListState `json:"state"`
	Toasts []Toast         `json:"toasts,omitempty"`
}

// handleListPage serves the full list screen state. Query parameters drive
// the load: page, page_size, sort, order, q, and filter[<name>]=<value>.
// A valid page_size is remembered in the page-size cookie.
func (s *server) handleListPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())
		start := time.Now()

		collector := newToastCollector()
		deps := s.screenDeps(collector, &requestConfirmer{})

		pageSize := session.ReadPageSize(r)
		if requested := queryInt(r, "page_size", 0); session.ValidPageSize(requested) {
			pageSize = requested
			if err := session.WritePageSize(w, requested); err != nil {
				s.logger.Warn("page size cookie rejected", zap.Error(err))
			}
		}

		page, err := screen.NewListPage(r.Context(), deps, def, rctx, caps, screen.ListParams{
			Name:      r.URL.Query().Get("view"),
			Path:      uiPath(r, "/"+def.RoutePrefix),
			SessionID: rctx.SessionID,
			Query:     r.URL.Query(),
			PageSize:  pageSize,
			Sort:      r.URL.Query().Get("sort"),
			Order:     r.URL.Query().Get("order"),
			Page:      queryInt(r, "page", 0),
		})
		if err != nil {
			s.recordListLoad(def.Entity, "error", start)
			WriteError(w, err)
			return
		}
		defer page.Close()

		if err := page.Load(r.Context()); err != nil {
			s.recordListLoad(def.Entity, "error", start)
			WriteError(w, err)
			return
		}
		if hasFilterParams(r, def) {
			page.PersistFilters(r.Context())
		}

		s.recordListLoad(def.Entity, "ok", start)
		WriteJSON(w, http.StatusOK, listResponse{
			State:  page.State(),
			Toasts: collector.Toasts(),
		})
	}
}

// handleClearFilters resets all filters and the search term, clears the
// persisted session entry, and returns the reloaded state.
func (s *server) handleClearFilters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())

		collector := newToastCollector()
		deps := s.screenDeps(collector, &requestConfirmer{})

		page, err := screen.NewListPage(r.Context(), deps, def, rctx, caps, screen.ListParams{
			Name:      r.URL.Query().Get("view"),
			Path:      uiPath(r, "/"+def.RoutePrefix),
			SessionID: rctx.SessionID,
			Query:     r.URL.Query(),
			PageSize:  session.ReadPageSize(r),
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		defer page.Close()

		if err := page.ClearFilters(r.Context()); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, listResponse{
			State:  page.State(),
			Toasts: collector.Toasts(),
		})
	}
}

// bulkDeleteRequest is the body of a bulk delete call. The first call
// without confirm set returns the confirmation dialog; the client
// resubmits with confirm=true after the user approves.
type bulkDeleteRequest struct {
	IDs     []string `json:"ids"`
	Confirm bool     `json:"confirm"`
}

type bulkDeleteResponse struct {
	State        model.ListState               `json:"state"`
	Toasts       []Toast                       `json:"toasts,omitempty"`
	Confirmation *model.ConfirmationDescriptor `json:"confirmation,omitempty"`
}

func (s *server) handleBulkDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())

		var req bulkDeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid request body"))
			return
		}
		if len(req.IDs) == 0 {
			WriteError(w, model.NewBadRequestError("no ids selected"))
			return
		}

		collector := newToastCollector()
		confirmer := &requestConfirmer{approved: req.Confirm}
		deps := s.screenDeps(collector, confirmer)

		page, err := screen.NewListPage(r.Context(), deps, def, rctx, caps, screen.ListParams{
			Name:      r.URL.Query().Get("view"),
			Path:      uiPath(r, "/"+def.RoutePrefix),
			SessionID: rctx.SessionID,
			Query:     r.URL.Query(),
			PageSize:  session.ReadPageSize(r),
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		defer page.Close()

		page.Select(req.IDs)
		if err := page.BulkDelete(r.Context()); err != nil {
			WriteError(w, err)
			return
		}

		resp := bulkDeleteResponse{
			State:  page.State(),
			Toasts: collector.Toasts(),
		}
		if confirmer.asked && !confirmer.approved {
			dialog := confirmer.dialog
			resp.Confirmation = &dialog
		}
		if s.metrics != nil && req.Confirm {
			deleted, failed := deleteOutcome(collector.Toasts())
			s.metrics.RecordBulkDelete(def.Entity, deleted, failed)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// deleteOutcome recovers the per-item counts from the outcome toasts.
func deleteOutcome(toasts []Toast) (deleted, failed int) {
	for _, t := range toasts {
		var n int
		if _, err := fmt.Sscanf(t.Message, "%d", &n); err != nil {
			continue
		}
		switch t.Level {
		case "success":
			deleted = n
		case "error":
			failed = n
		}
	}
	return deleted, failed
}

func (s *server) resolveEntity(w http.ResponseWriter, r *http.Request) (model.EntityDefinition, *model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return model.EntityDefinition{}, nil, false
	}

	entity := chi.URLParam(r, "entity")
	def, ok := s.definitions.Get(entity)
	if !ok {
		WriteNotFound(w, "unknown entity "+entity)
		return model.EntityDefinition{}, nil, false
	}
	return def, rctx, true
}

func (s *server) recordListLoad(entity, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordListLoad(entity, status, time.Since(start))
}

// hasFilterParams reports whether the query string carries any filter
// value or search term for the entity.
func hasFilterParams(r *http.Request, def model.EntityDefinition) bool {
	q := r.URL.Query()
	if q.Get("q") != "" {
		return true
	}
	for _, f := range def.List.Filters {
		if q.Get(f.Name) != "" {
			return true
		}
	}
	return false
}

// uiPath returns the client-side path the request renders, used for
// breadcrumb derivation. Clients pass it explicitly; the entity's list
// route is the fallback.
func uiPath(r *http.Request, fallback string) string {
	if p := r.URL.Query().Get("path"); p != "" {
		return p
	}
	return fallback
}

// queryInt extracts an integer query param with a default.
func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
