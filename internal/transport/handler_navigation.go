package transport

import (
	"net/http"

	"github.com/quazardous/qdadm/internal/nav"
	"github.com/quazardous/qdadm/model"
)

func handleNavigation(table *nav.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		caps := CapabilitiesFrom(r.Context())

		WriteJSON(w, http.StatusOK, table.Menu(caps))
	}
}
