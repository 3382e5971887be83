package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/config"
	"github.com/quazardous/qdadm/model"
)

func TestRequestID_generatesAndEchoes(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if seen == "" {
		t.Error("no correlation id generated")
	}
	if got := w.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("header = %q, context = %q", got, seen)
	}

	// An inbound id is preserved.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "corr-42" {
		t.Errorf("correlation id = %q, want corr-42", seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORS(t *testing.T) {
	cfg := config.CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         600,
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	// Unknown origins get no CORS headers.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin = %q, want empty", got)
	}

	// Preflight short-circuits.
	req = httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestBuildRequestContext(t *testing.T) {
	claimPaths := map[string]string{
		"subject_id": "sub",
		"tenant_id":  "tenant_id",
		"email":      "email",
		"roles":      "roles",
	}

	var got *model.RequestContext
	handler := BuildRequestContext(claimPaths)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = model.RequestContextFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Language", "fr-FR")
	req.Header.Set("X-Session-Id", "sess-9")
	ctx := WithClaims(req.Context(), map[string]any{
		"sub":       "user-1",
		"tenant_id": "acme",
		"email":     "u@acme.test",
		"roles":     []any{"admin", "editor"},
	})
	ctx = WithToken(ctx, "raw-token")
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	if got == nil {
		t.Fatal("no request context built")
	}
	if got.SubjectID != "user-1" || got.TenantID != "acme" || got.Email != "u@acme.test" {
		t.Errorf("identity = %+v", got)
	}
	if len(got.Roles) != 2 || got.Roles[0] != "admin" {
		t.Errorf("roles = %v", got.Roles)
	}
	if got.Token != "raw-token" {
		t.Errorf("token = %q", got.Token)
	}
	if got.SessionID != "sess-9" {
		t.Errorf("session id = %q, want header fallback sess-9", got.SessionID)
	}
	if got.Locale != "fr-FR" {
		t.Errorf("locale = %q", got.Locale)
	}
}

func TestBuildRequestContext_sessionClaimWins(t *testing.T) {
	var got *model.RequestContext
	handler := BuildRequestContext(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = model.RequestContextFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Session-Id", "header-session")
	ctx := WithClaims(req.Context(), map[string]any{"sid": "claim-session"})
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	if got.SessionID != "claim-session" {
		t.Errorf("session id = %q, claim should win over header", got.SessionID)
	}
}

func TestResolveCapabilities(t *testing.T) {
	resolver := capsResolver{caps: model.CapabilitySet{"books:read": true}}

	var got model.CapabilitySet
	handler := ResolveCapabilities(resolver, zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = CapabilitiesFrom(r.Context())
		}))

	req := httptest.NewRequest("GET", "/", nil)
	ctx := model.WithRequestContext(req.Context(), &model.RequestContext{SubjectID: "u1"})
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	if !got.Has("books:read") {
		t.Errorf("capabilities = %v", got)
	}
}

func TestHandlerTimeout(t *testing.T) {
	handler := HandlerTimeout(10 * time.Millisecond)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); !ok {
				t.Error("no deadline set")
			}
		}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	// Zero disables the wrapper entirely.
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("unexpected deadline")
		}
	})
	HandlerTimeout(0)(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}
