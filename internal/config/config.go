// Package config loads the orchestrator's YAML configuration file, with
// environment-variable overrides for endpoints and secrets locators,
// following the teacher's config-loading shape: a single nested Config
// struct, a tolerant Load that falls back to defaults when the file is
// absent, and no generic config framework (viper etc).
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// ServerConfig configures the REST API listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig configures the Postgres connection used by pkg/store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuditConfig configures the tamper-evident audit chain.
type AuditConfig struct {
	Dir            string `yaml:"dir"`
	SigningKeyPath string `yaml:"signing_key_path"`
}

// SupervisorConfig configures default agent-spawn behavior.
type SupervisorConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	TraceDir       string        `yaml:"trace_dir"`
	TerminateGrace time.Duration `yaml:"terminate_grace"`
}

// EngineDefinition is one named entry in the Engines map: a command
// template (with {ROLE} substitution) and an optional working directory.
type EngineDefinition struct {
	Command []string `yaml:"command"`
	Workdir string   `yaml:"workdir"`
}

// SignalsConfig holds the signals pipeline endpoint settings loaded from the
// config file and environment. The CLI's run command takes its signals
// settings from its own flags and does not read these fields.
type SignalsConfig struct {
	BaseURL          string `yaml:"base_url"`
	DefaultProjectID string `yaml:"default_project_id"`
}

// StreamRegistryConfig configures the optional cross-process mirror for
// live stream sessions (see pkg/streamregistry). An empty RedisURL means
// the registry only serves same-process `attach` lookups.
type StreamRegistryConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// Config is the top-level orchestrator configuration.
type Config struct {
	Server          ServerConfig                `yaml:"server"`
	Database        DatabaseConfig              `yaml:"database"`
	Audit           AuditConfig                 `yaml:"audit"`
	Supervisor      SupervisorConfig            `yaml:"supervisor"`
	Signals         SignalsConfig               `yaml:"signals"`
	Engines         map[string]EngineDefinition `yaml:"engines"`
	Evidence        EvidenceConfig              `yaml:"evidence"`
	StreamRegistry  StreamRegistryConfig        `yaml:"stream_registry"`
}

// EvidenceConfig configures the CI evidence emitter.
type EvidenceConfig struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8000},
		Audit:  AuditConfig{Dir: "data/logs/current/audit"},
		Supervisor: SupervisorConfig{
			DefaultTimeout: 300 * time.Second,
			TraceDir:       "data/logs/current/audit/cli_runs",
			TerminateGrace: 5 * time.Second,
		},
		Signals:        SignalsConfig{BaseURL: "http://127.0.0.1:8000"},
		Engines:        map[string]EngineDefinition{},
		Evidence:       EvidenceConfig{Path: "observability/policy/ci_evidence.jsonl"},
		StreamRegistry: StreamRegistryConfig{TTL: 10 * time.Minute},
	}
}

// Load reads and parses the YAML config file at path, applying environment
// overrides afterward. A missing file is not an error: Load falls back to
// Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "read config file %s", path)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeValidation, "parse config file %s", path)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MISSIONS_HUB_API_BASE"); v != "" {
		cfg.Signals.BaseURL = v
	}
	if v := os.Getenv("MISSIONS_HUB_SIGNALS_BASE"); v != "" {
		cfg.Signals.BaseURL = v
	}
	if v := os.Getenv("MISSIONS_HUB_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MISSIONS_HUB_AUDIT_SIGNING_KEY"); v != "" {
		cfg.Audit.SigningKeyPath = v
	}
	if v := os.Getenv("MISSIONS_HUB_REDIS_URL"); v != "" {
		cfg.StreamRegistry.RedisURL = v
	}
}
