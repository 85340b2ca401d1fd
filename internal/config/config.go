// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Session       SessionConfig       `yaml:"session"`
	Drafts        DraftStoreConfig    `yaml:"drafts"`
	Submissions   SubmissionConfig    `yaml:"submissions"`
	Backend       BackendConfig       `yaml:"backend"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// AuthConfig describes the session tokens issued to hosting surfaces.
type AuthConfig struct {
	Issuer   string        `yaml:"issuer"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// DefinitionsConfig describes where to find form definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	HotReload   bool     `yaml:"hot_reload"`
}

// SessionConfig describes form session behavior.
type SessionConfig struct {
	DefaultMode      string        `yaml:"default_mode"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	DraftTTL         time.Duration `yaml:"draft_ttl"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// DraftStoreConfig selects where local drafts are kept.
type DraftStoreConfig struct {
	Driver     string `yaml:"driver"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	SQLitePath string `yaml:"sqlite_path"`
}

// SubmissionConfig selects the submission store.
type SubmissionConfig struct {
	Driver         string        `yaml:"driver"`
	DSN            string        `yaml:"dsn"`
	MaxConns       int32         `yaml:"max_conns"`
	ExistsCacheTTL time.Duration `yaml:"exists_cache_ttl"`
}

// BackendConfig describes the remote collaborator service used when the
// submission driver is "remote".
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Known driver and mode names.
var (
	draftDrivers      = []string{"memory", "redis", "sqlite", "none"}
	submissionDrivers = []string{"memory", "postgres", "remote"}
	sessionModes      = []string{"default", "preview", "prefill", "read_only", "test"}
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Auth: AuthConfig{
			Issuer:   "formengine",
			TokenTTL: 24 * time.Hour,
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/forms"},
		},
		Session: SessionConfig{
			DefaultMode:      "default",
			AutosaveInterval: time.Second,
			DraftTTL:         7 * 24 * time.Hour,
			IdleTimeout:      2 * time.Hour,
			SweepInterval:    time.Minute,
		},
		Drafts: DraftStoreConfig{
			Driver: "memory",
		},
		Submissions: SubmissionConfig{
			Driver:         "memory",
			MaxConns:       10,
			ExistsCacheTTL: 30 * time.Second,
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if len(c.Auth.Secret) < 16 {
		errs = append(errs, "auth.secret must be at least 16 bytes")
	}
	if len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories is required")
	}
	if !slices.Contains(sessionModes, c.Session.DefaultMode) {
		errs = append(errs, fmt.Sprintf("session.default_mode %q is not one of %v", c.Session.DefaultMode, sessionModes))
	}

	switch {
	case !slices.Contains(draftDrivers, c.Drafts.Driver):
		errs = append(errs, fmt.Sprintf("drafts.driver %q is not one of %v", c.Drafts.Driver, draftDrivers))
	case c.Drafts.Driver == "redis" && c.Drafts.RedisAddr == "":
		errs = append(errs, "drafts.redis_addr is required for the redis driver")
	case c.Drafts.Driver == "sqlite" && c.Drafts.SQLitePath == "":
		errs = append(errs, "drafts.sqlite_path is required for the sqlite driver")
	}

	switch {
	case !slices.Contains(submissionDrivers, c.Submissions.Driver):
		errs = append(errs, fmt.Sprintf("submissions.driver %q is not one of %v", c.Submissions.Driver, submissionDrivers))
	case c.Submissions.Driver == "postgres" && c.Submissions.DSN == "":
		errs = append(errs, "submissions.dsn is required for the postgres driver")
	case c.Submissions.Driver == "remote" && c.Backend.BaseURL == "":
		errs = append(errs, "backend.base_url is required for the remote driver")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads FORMENGINE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORMENGINE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FORMENGINE_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("FORMENGINE_DEFINITIONS_DIR"); v != "" {
		cfg.Definitions.Directories = strings.Split(v, string(os.PathListSeparator))
	}
	if v := os.Getenv("FORMENGINE_REDIS_ADDR"); v != "" {
		cfg.Drafts.RedisAddr = v
	}
	if v := os.Getenv("FORMENGINE_POSTGRES_DSN"); v != "" {
		cfg.Submissions.DSN = v
	}
	if v := os.Getenv("FORMENGINE_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("FORMENGINE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
