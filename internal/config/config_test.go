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
auth:
  secret: "0123456789abcdef0123"
definitions:
  directories: ["./forms", "./more-forms"]
  hot_reload: true
session:
  default_mode: preview
  autosave_interval: 2s
drafts:
  driver: redis
  redis_addr: "localhost:6379"
submissions:
  driver: remote
backend:
  base_url: "https://forms.internal"
  timeout: 5s
  circuit_breaker:
    failure_threshold: 3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
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
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if !cfg.Definitions.HotReload {
		t.Error("Definitions.HotReload = false, want true")
	}
	if len(cfg.Definitions.Directories) != 2 {
		t.Errorf("Definitions.Directories = %v, want 2 entries", cfg.Definitions.Directories)
	}
	if cfg.Session.DefaultMode != "preview" {
		t.Errorf("Session.DefaultMode = %q, want preview", cfg.Session.DefaultMode)
	}
	if cfg.Session.AutosaveInterval != 2*time.Second {
		t.Errorf("Session.AutosaveInterval = %v, want 2s", cfg.Session.AutosaveInterval)
	}
	if cfg.Session.DraftTTL != 7*24*time.Hour {
		t.Errorf("Session.DraftTTL = %v, want default", cfg.Session.DraftTTL)
	}
	if cfg.Drafts.Driver != "redis" || cfg.Drafts.RedisAddr != "localhost:6379" {
		t.Errorf("Drafts = %+v", cfg.Drafts)
	}
	if cfg.Backend.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("Backend.CircuitBreaker.FailureThreshold = %d, want 3", cfg.Backend.CircuitBreaker.FailureThreshold)
	}
	if cfg.Backend.Retry.MaxAttempts != 3 {
		t.Errorf("Backend.Retry.MaxAttempts = %d, want default 3", cfg.Backend.Retry.MaxAttempts)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_malformed(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	if err == nil {
		t.Fatal("Load() with malformed YAML should return error")
	}
}

func TestLoad_missing_secret(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	if err == nil {
		t.Fatal("Load() without auth.secret should return error")
	}
	if !strings.Contains(err.Error(), "auth.secret") {
		t.Errorf("error = %v, want mention of auth.secret", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Session.AutosaveInterval != time.Second {
		t.Errorf("default Session.AutosaveInterval = %v, want 1s", cfg.Session.AutosaveInterval)
	}
	if cfg.Drafts.Driver != "memory" {
		t.Errorf("default Drafts.Driver = %q, want memory", cfg.Drafts.Driver)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FORMENGINE_SERVER_PORT", "3000")
	t.Setenv("FORMENGINE_AUTH_SECRET", "env-secret-env-secret")
	t.Setenv("FORMENGINE_REDIS_ADDR", "redis:6380")
	t.Setenv("FORMENGINE_BACKEND_URL", "https://env.internal")
	t.Setenv("FORMENGINE_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Auth.Secret != "env-secret-env-secret" {
		t.Errorf("Auth.Secret = %q, want env override", cfg.Auth.Secret)
	}
	if cfg.Drafts.RedisAddr != "redis:6380" {
		t.Errorf("Drafts.RedisAddr = %q, want env override", cfg.Drafts.RedisAddr)
	}
	if cfg.Backend.BaseURL != "https://env.internal" {
		t.Errorf("Backend.BaseURL = %q, want env override", cfg.Backend.BaseURL)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides_definitionsDir(t *testing.T) {
	dirs := "/a" + string(os.PathListSeparator) + "/b"
	t.Setenv("FORMENGINE_DEFINITIONS_DIR", dirs)

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Definitions.Directories) != 2 || cfg.Definitions.Directories[0] != "/a" {
		t.Errorf("Definitions.Directories = %v, want [/a /b]", cfg.Definitions.Directories)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Auth.Secret = "0123456789abcdef"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with secret", mutate: func(*Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "short secret", mutate: func(c *Config) { c.Auth.Secret = "short" }, wantErr: "auth.secret"},
		{name: "unknown mode", mutate: func(c *Config) { c.Session.DefaultMode = "turbo" }, wantErr: "session.default_mode"},
		{name: "unknown draft driver", mutate: func(c *Config) { c.Drafts.Driver = "etcd" }, wantErr: "drafts.driver"},
		{name: "redis without addr", mutate: func(c *Config) { c.Drafts.Driver = "redis" }, wantErr: "drafts.redis_addr"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Drafts.Driver = "sqlite" }, wantErr: "drafts.sqlite_path"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Submissions.Driver = "postgres" }, wantErr: "submissions.dsn"},
		{name: "remote without url", mutate: func(c *Config) { c.Submissions.Driver = "remote" }, wantErr: "backend.base_url"},
		{name: "no definitions", mutate: func(c *Config) { c.Definitions.Directories = nil }, wantErr: "definitions.directories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
