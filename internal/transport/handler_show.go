package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quazardous/qdadm/internal/screen"
	"github.com/quazardous/qdadm/model"
)

// handleShowPage serves the read-only detail state for one record.
func (s *server) handleShowPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())
		id := chi.URLParam(r, "id")

		deps := s.screenDeps(newToastCollector(), &requestConfirmer{})
		page, err := screen.NewShowPage(r.Context(), deps, def, rctx, caps, screen.ShowParams{
			Path: uiPath(r, "/"+def.RoutePrefix+"/"+id),
			ID:   id,
		})
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, struct {
			State model.ShowState `json:"state"`
		}{State: page.State()})
	}
}
