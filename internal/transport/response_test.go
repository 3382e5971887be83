package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quazardous/qdadm/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{model.NewBadRequestError("bad"), 400},
		{model.NewUnauthorizedError("no"), 401},
		{model.NewForbiddenError("no"), 403},
		{model.NewNotFoundError("gone"), 404},
		{model.NewConflictError("clash"), 409},
		{model.NewValidationError([]model.FieldError{{Field: "title"}}), 422},
		{model.NewGuardPendingError("dirty"), 409},
		{model.NewBackendUnavailableError(), 502},
		{model.NewBackendTimeoutError(), 504},
		{fmt.Errorf("plain error"), 500},
	}

	for _, tc := range tests {
		w := httptest.NewRecorder()
		WriteError(w, tc.err)
		if w.Code != tc.status {
			t.Errorf("WriteError(%v) status = %d, want %d", tc.err, w.Code, tc.status)
		}
	}
}

func TestWriteError_envelopeBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("record not found"))

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", resp.Error.Code)
	}
	if resp.Error.Message != "record not found" {
		t.Errorf("message = %q", resp.Error.Message)
	}
}
