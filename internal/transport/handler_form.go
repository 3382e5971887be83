package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quazardous/qdadm/internal/screen"
	"github.com/quazardous/qdadm/model"
)

type formResponse struct {
	State    model.FormState `json:"state"`
	Redirect string          `json:"redirect,omitempty"`
	Toasts   []Toast         `json:"toasts,omitempty"`
}

// handleGetForm serves the form state for create (no id) or edit mode.
func (s *server) handleGetForm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())

		collector := newToastCollector()
		page, err := s.newFormPage(r, def, rctx, caps, collector, &requestConfirmer{})
		if err != nil {
			WriteError(w, err)
			return
		}
		defer page.Close()

		WriteJSON(w, http.StatusOK, formResponse{
			State:  page.State(),
			Toasts: collector.Toasts(),
		})
	}
}

// submitRequest carries the form values to persist. Close requests the
// save-and-close variant that always redirects to the list.
type submitRequest struct {
	Values map[string]any `json:"values"`
	Close  bool           `json:"close"`
}

// handleSubmitForm applies the submitted values and saves. Validation
// failures come back as a 422 envelope with field details; success returns
// the saved state plus the post-save redirect.
func (s *server) handleSubmitForm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())
		start := time.Now()

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid request body"))
			return
		}

		collector := newToastCollector()
		page, err := s.newFormPage(r, def, rctx, caps, collector, &requestConfirmer{})
		if err != nil {
			WriteError(w, err)
			return
		}
		defer page.Close()

		for name, value := range req.Values {
			page.SetValue(name, value)
		}

		mode := page.State().Mode
		redirect, err := page.Submit(r.Context(), req.Close)
		if err != nil {
			s.recordFormSubmit(def.Entity, mode, "error", start)
			if ee, isEnvelope := err.(*model.ErrorEnvelope); isEnvelope && ee.Code == model.ErrValidationError {
				// Return the annotated form state alongside the envelope
				// so the client can highlight fields without a refetch.
				WriteJSON(w, http.StatusUnprocessableEntity, struct {
					Error *model.ErrorEnvelope `json:"error"`
					State model.FormState      `json:"state"`
				}{Error: ee, State: page.State()})
				return
			}
			WriteError(w, err)
			return
		}

		s.recordFormSubmit(def.Entity, mode, "ok", start)
		WriteJSON(w, http.StatusOK, formResponse{
			State:    page.State(),
			Redirect: redirect,
			Toasts:   collector.Toasts(),
		})
	}
}

// handleDeleteRecord deletes one record. The first call without
// confirm=true returns the confirmation dialog instead of deleting.
func (s *server) handleDeleteRecord() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())

		collector := newToastCollector()
		confirmer := &requestConfirmer{approved: r.URL.Query().Get("confirm") == "true"}
		page, err := s.newFormPage(r, def, rctx, caps, collector, confirmer)
		if err != nil {
			WriteError(w, err)
			return
		}
		defer page.Close()

		redirect, err := page.Delete(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}

		resp := struct {
			Redirect     string                        `json:"redirect,omitempty"`
			Toasts       []Toast                       `json:"toasts,omitempty"`
			Confirmation *model.ConfirmationDescriptor `json:"confirmation,omitempty"`
		}{Redirect: redirect, Toasts: collector.Toasts()}
		if confirmer.asked && !confirmer.approved {
			dialog := confirmer.dialog
			resp.Confirmation = &dialog
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// leaveRequest carries a navigation attempt away from a form. Values are
// the client's current field values so dirtiness is judged server-side.
type leaveRequest struct {
	Target string         `json:"target"`
	Values map[string]any `json:"values"`
	// Decision resolves a pending guard: "save", "discard", or "stay".
	Decision string `json:"decision"`
}

type leaveResponse struct {
	Allowed  bool            `json:"allowed"`
	Redirect string          `json:"redirect,omitempty"`
	State    model.FormState `json:"state"`
	Toasts   []Toast         `json:"toasts,omitempty"`
}

// handleLeaveForm runs the unsaved-changes guard for a navigation attempt.
// A clean form allows the move outright. A dirty form without a decision
// returns GUARD_PENDING; "save" persists then navigates, "discard" drops
// the changes, "stay" cancels the attempt.
func (s *server) handleLeaveForm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, rctx, ok := s.resolveEntity(w, r)
		if !ok {
			return
		}
		caps := CapabilitiesFrom(r.Context())

		var req leaveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid request body"))
			return
		}
		if req.Target == "" {
			WriteError(w, model.NewBadRequestError("missing navigation target"))
			return
		}

		collector := newToastCollector()
		page, err := s.newFormPage(r, def, rctx, caps, collector, &requestConfirmer{})
		if err != nil {
			WriteError(w, err)
			return
		}
		defer page.Close()

		for name, value := range req.Values {
			page.SetValue(name, value)
		}

		g := page.Guard()
		if g == nil || g.Attempt(req.Target) {
			WriteJSON(w, http.StatusOK, leaveResponse{
				Allowed:  true,
				Redirect: req.Target,
				State:    page.State(),
				Toasts:   collector.Toasts(),
			})
			return
		}

		switch req.Decision {
		case "save":
			if err := g.SaveAndLeave(r.Context()); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, leaveResponse{
				Allowed:  true,
				Redirect: page.NavTarget(),
				State:    page.State(),
				Toasts:   collector.Toasts(),
			})
		case "discard":
			if err := g.Leave(); err != nil {
				WriteError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, leaveResponse{
				Allowed:  true,
				Redirect: page.NavTarget(),
				State:    page.State(),
				Toasts:   collector.Toasts(),
			})
		default:
			if err := g.Stay(); err != nil {
				WriteError(w, err)
				return
			}
			WriteError(w, model.NewGuardPendingError("unsaved changes"))
		}
	}
}

func (s *server) newFormPage(r *http.Request, def model.EntityDefinition, rctx *model.RequestContext, caps model.CapabilitySet, notifier model.Notifier, confirmer model.Confirmer) (*screen.FormPage, error) {
	deps := s.screenDeps(notifier, confirmer)
	id := chi.URLParam(r, "id")

	fallback := "/" + def.RoutePrefix + "/new"
	if id != "" {
		fallback = "/" + def.RoutePrefix + "/" + id + "/edit"
	}

	return screen.NewFormPage(r.Context(), deps, def, rctx, caps, screen.FormParams{
		Path: uiPath(r, fallback),
		ID:   id,
	})
}

func (s *server) recordFormSubmit(entity, mode, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordFormSubmit(entity, mode, status, time.Since(start))
}
