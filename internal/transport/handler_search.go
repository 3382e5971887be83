package transport

import (
	"net/http"
	"time"

	"github.com/quazardous/qdadm/model"
)

// handleSearch runs the global entity search across all searchable
// entities the subject may list.
func (s *server) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		caps := CapabilitiesFrom(r.Context())
		start := time.Now()

		resp, err := s.search.Search(r.Context(), rctx, caps, r.URL.Query().Get("q"))
		if err != nil {
			WriteError(w, err)
			return
		}

		if s.metrics != nil {
			responded := 0
			for _, status := range resp.Statuses {
				if status == "ok" {
					responded++
				}
			}
			s.metrics.RecordSearch(time.Since(start), responded)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
