package transport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quazardous/qdadm/model"
)

const autocompleteLimit = 20

// handleFilterOptions serves one filter's option list for autocomplete
// widgets. The q parameter narrows by case-insensitive substring match on
// the option label.
func (s *server) handleFilterOptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}

		name := chi.URLParam(r, "filter")
		var filterDef *model.FilterDefinition
		for i := range def.List.Filters {
			if def.List.Filters[i].Name == name {
				filterDef = &def.List.Filters[i]
				break
			}
		}
		if filterDef == nil {
			WriteNotFound(w, "unknown filter "+name)
			return
		}

		st := model.FilterState{Name: filterDef.Name, Label: filterDef.Label}
		if err := s.options.Resolve(r.Context(), rctx, def.Entity, *filterDef, &st, nil); err != nil {
			WriteError(w, err)
			return
		}

		opts := st.Options
		if q := strings.ToLower(r.URL.Query().Get("q")); q != "" {
			narrowed := opts[:0:0]
			for _, o := range opts {
				if strings.Contains(strings.ToLower(o.Label), q) {
					narrowed = append(narrowed, o)
				}
			}
			opts = narrowed
		}
		if len(opts) > autocompleteLimit {
			opts = opts[:autocompleteLimit]
		}

		WriteJSON(w, http.StatusOK, struct {
			Options []model.Option `json:"options"`
			Widget  string         `json:"widget"`
		}{Options: opts, Widget: st.Widget})
	}
}
