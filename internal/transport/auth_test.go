package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/quazardous/qdadm/internal/config"
)

// jwksFixture serves a JWKS document for a generated RSA key and signs
// tokens with it.
type jwksFixture struct {
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	f := &jwksFixture{key: key, kid: "test-key-1"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		doc := map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": f.kid,
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		}
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func identityConfig(f *jwksFixture) config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://id.example.com",
		Audience:   "qdadm",
		JWKSURL:    f.server.URL,
		Algorithms: []string{"RS256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": "https://id.example.com",
		"aud": "qdadm",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func TestJWKSClient_fetchAndCache(t *testing.T) {
	f := newJWKSFixture(t)
	client := NewJWKSClient(f.server.URL, time.Hour, zap.NewNop())

	if _, err := client.GetKey(f.kid); err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	// A second lookup hits the cache.
	if _, err := client.GetKey(f.kid); err != nil {
		t.Fatalf("GetKey cached: %v", err)
	}
	if n := f.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}

	if _, err := client.GetKey("unknown-kid"); err == nil {
		t.Error("unknown kid should error")
	}
}

func TestJWTAuthenticator_validToken(t *testing.T) {
	f := newJWKSFixture(t)
	jwks := NewJWKSClient(f.server.URL, time.Hour, zap.NewNop())

	var claims map[string]any
	var token string
	handler := JWTAuthenticator(identityConfig(f), jwks)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims = ClaimsFrom(r.Context())
			token = TokenFrom(r.Context())
		}))

	signed := f.sign(t, validClaims())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if claims["sub"] != "user-1" {
		t.Errorf("sub = %v", claims["sub"])
	}
	if token != signed {
		t.Error("raw token not forwarded into context")
	}
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	f := newJWKSFixture(t)
	jwks := NewJWKSClient(f.server.URL, time.Hour, zap.NewNop())
	handler := JWTAuthenticator(identityConfig(f), jwks)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://rogue.example.com"

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.token"},
		{"expired", "Bearer " + f.sign(t, expired)},
		{"wrong issuer", "Bearer " + f.sign(t, wrongIssuer)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != 401 {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestClassifyJWTError(t *testing.T) {
	if got := classifyJWTError(jwt.ErrTokenExpired); got != "Token expired" {
		t.Errorf("classify expired = %q", got)
	}
}
