package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  port: 9090
  read_timeout: 15s
identity:
  issuer: https://auth.example.com
  jwks_url: https://auth.example.com/.well-known/jwks.json
  audience: qdadm
  algorithms: [RS256, ES256]
definitions:
  directories: [./definitions]
  hot_reload: true
specs:
  directory: ./specs
  sources:
    - service_id: catalog-svc
      spec_file: catalog.yaml
services:
  catalog-svc:
    base_url: https://catalog.internal
    timeout: 10s
    circuit_breaker:
      failure_threshold: 5
      success_threshold: 2
      timeout: 30s
session:
  driver: redis
  ttl: 12h
list:
  search_debounce: 150ms
`

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if !cfg.Definitions.HotReload {
		t.Error("Definitions.HotReload = false, want true")
	}
	if len(cfg.Specs.Sources) != 1 || cfg.Specs.Sources[0].ServiceID != "catalog-svc" {
		t.Errorf("Specs.Sources = %+v", cfg.Specs.Sources)
	}

	svc, ok := cfg.Services["catalog-svc"]
	if !ok {
		t.Fatal("Services[catalog-svc] not found")
	}
	if svc.BaseURL != "https://catalog.internal" || svc.Timeout != 10*time.Second {
		t.Errorf("catalog-svc = %+v", svc)
	}
	if svc.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", svc.CircuitBreaker.FailureThreshold)
	}
	if cfg.Session.Driver != "redis" || cfg.Session.TTL != 12*time.Hour {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.List.SearchDebounce != 150*time.Millisecond {
		t.Errorf("List.SearchDebounce = %v, want 150ms", cfg.List.SearchDebounce)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	if err == nil {
		t.Fatal("Load() without identity should return error")
	}
}

func TestLoad_bad_session_driver(t *testing.T) {
	bad := strings.Replace(validYAML, "driver: redis", "driver: etcd", 1)
	_, err := Load(writeConfig(t, bad))
	if err == nil {
		t.Fatal("Load() with unknown session driver should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Capability.Cache.TTL != 5*time.Minute {
		t.Errorf("default Capability.Cache.TTL = %v, want 5m", cfg.Capability.Cache.TTL)
	}
	if cfg.List.SearchDebounce != 300*time.Millisecond {
		t.Errorf("default SearchDebounce = %v, want 300ms", cfg.List.SearchDebounce)
	}
	if cfg.Session.Driver != "memory" {
		t.Errorf("default Session.Driver = %q, want memory", cfg.Session.Driver)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QDADM_SERVER_PORT", "3000")
	t.Setenv("QDADM_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("QDADM_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "qdadm"
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}
