package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"agentgate/internal/observability"
)

// Config is the immutable process configuration. It is built once at startup
// from an environment snapshot and passed by injection; request-handling code
// never reads the environment directly.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Agents   AgentsConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host           string
	Port           string
	Environment    string // development, staging, production
	AllowedOrigins []string
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWKSURL        string
	Audience       string
	Algorithm      string // asymmetric JWS algorithm, e.g. RS256
	KeyTTL         time.Duration
	RefreshTimeout time.Duration
}

// BackendConfig describes one wrapped agent backend endpoint.
type BackendConfig struct {
	BaseURL string
	APIKey  string
}

// AgentsConfig configures the orchestrator and its wrapped backends.
type AgentsConfig struct {
	ExecDeadline  time.Duration
	MaxConcurrent int64
	ProbeTimeout  time.Duration
	PraisonAI     BackendConfig
	CrewAI        BackendConfig
	AG2           BackendConfig
}

// DatabaseConfig configures the persistence collaborator.
type DatabaseConfig struct {
	URL string // postgres connection string; empty disables durable storage
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled bool
}

// SnapshotProcessEnv returns a copy of the current process environment.
func SnapshotProcessEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

// Default returns the configuration used when no environment overrides are set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           "8000",
			Environment:    "development",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:19006"},
			ReadTimeout:    30 * time.Second,
			IdleTimeout:    120 * time.Second,
		},
		Auth: AuthConfig{
			Algorithm:      "RS256",
			KeyTTL:         5 * time.Minute,
			RefreshTimeout: 10 * time.Second,
		},
		Agents: AgentsConfig{
			ExecDeadline:  60 * time.Second,
			MaxConcurrent: 8,
			ProbeTimeout:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load builds a Config from the provided environment snapshot, applying
// defaults for anything unset. It validates the handful of values the
// gateway cannot run without sane bounds for.
func Load(env map[string]string) (Config, error) {
	cfg := Default()

	lookup := func(key string) (string, bool) {
		value, ok := env[key]
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	if v, ok := lookup("AGENTGATE_HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookup("AGENTGATE_PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := lookup("AGENTGATE_ENV"); ok {
		cfg.Server.Environment = strings.ToLower(v)
	}
	if v, ok := lookup("AGENTGATE_CORS_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	if v, ok := lookup("AGENTGATE_JWKS_URL"); ok {
		cfg.Auth.JWKSURL = v
	}
	if v, ok := lookup("AGENTGATE_JWT_AUDIENCE"); ok {
		cfg.Auth.Audience = v
	}
	if v, ok := lookup("AGENTGATE_JWT_ALGORITHM"); ok {
		cfg.Auth.Algorithm = v
	}
	if v, ok := lookup("AGENTGATE_JWKS_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid AGENTGATE_JWKS_TTL: %w", err)
		}
		cfg.Auth.KeyTTL = d
	}

	if v, ok := lookup("AGENTGATE_EXEC_DEADLINE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid AGENTGATE_EXEC_DEADLINE: %w", err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("AGENTGATE_EXEC_DEADLINE must be positive, got %s", d)
		}
		cfg.Agents.ExecDeadline = d
	}
	if v, ok := lookup("AGENTGATE_MAX_CONCURRENT"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("AGENTGATE_MAX_CONCURRENT must be a positive integer, got %q", v)
		}
		cfg.Agents.MaxConcurrent = n
	}

	cfg.Agents.PraisonAI = backendFromEnv(lookup, "PRAISONAI")
	cfg.Agents.CrewAI = backendFromEnv(lookup, "CREWAI")
	cfg.Agents.AG2 = backendFromEnv(lookup, "AG2")

	if v, ok := lookup("AGENTGATE_DATABASE_URL"); ok {
		cfg.Database.URL = v
	}

	// An observability file, when configured, sits between the built-in
	// defaults and the AGENTGATE_LOG_*/AGENTGATE_METRICS_* overrides below.
	if v, ok := lookup("AGENTGATE_OBSERVABILITY_CONFIG"); ok {
		obsCfg, err := observability.LoadConfig(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid AGENTGATE_OBSERVABILITY_CONFIG: %w", err)
		}
		cfg.Logging.Level = obsCfg.Logging.Level
		cfg.Logging.Format = obsCfg.Logging.Format
		cfg.Metrics.Enabled = obsCfg.Metrics.Enabled
	}

	if v, ok := lookup("AGENTGATE_LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup("AGENTGATE_LOG_FORMAT"); ok {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v, ok := lookup("AGENTGATE_METRICS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid AGENTGATE_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = enabled
	}

	return cfg, nil
}

func backendFromEnv(lookup func(string) (string, bool), name string) BackendConfig {
	var backend BackendConfig
	if v, ok := lookup("AGENTGATE_" + name + "_URL"); ok {
		backend.BaseURL = v
	}
	if v, ok := lookup("AGENTGATE_" + name + "_API_KEY"); ok {
		backend.APIKey = v
	}
	return backend
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}
