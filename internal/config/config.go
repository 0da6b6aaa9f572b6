// Package config loads the server configuration from a YAML file with
// environment variable expansion and sane defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the chat backend.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	LLM          LLMConfig          `yaml:"llm"`
	Runs         RunsConfig         `yaml:"runs"`
	Artifacts    ArtifactsConfig    `yaml:"artifacts"`
	Continuation ContinuationConfig `yaml:"continuation"`
	Tools        ToolsConfig        `yaml:"tools"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins is the CORS allowlist. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LLMConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// RunsConfig controls run state persistence.
type RunsConfig struct {
	// Backend selects the run store: "memory" or "postgres".
	Backend string `yaml:"backend"`

	// TTLMinutes expires idle runs. Nil disables expiry; zero expires a
	// run on the very next access.
	TTLMinutes *int `yaml:"ttl_minutes"`

	// MaxMessages caps stored history per run, dropping oldest first.
	// Non-positive disables the cap.
	MaxMessages int `yaml:"max_messages"`

	// CleanupInterval is how often the background sweeper runs. Zero
	// disables the sweeper.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ArtifactsConfig controls the tabular result store.
type ArtifactsConfig struct {
	// Backend selects the artifact store: "memory" or "s3".
	Backend string `yaml:"backend"`

	// TTL expires in-memory artifacts. Absent defaults to 30 minutes; an
	// explicit zero disables expiry.
	TTL *time.Duration `yaml:"ttl"`

	// PreviewRows caps stored previews.
	PreviewRows int `yaml:"preview_rows"`

	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	URLExpiry       time.Duration `yaml:"url_expiry"`
}

// ContinuationConfig controls same-connection resumption of suspended runs.
type ContinuationConfig struct {
	// HubWaitEnabled keeps the SSE connection open across a suspension,
	// waiting for human input pushed through the resume endpoint.
	HubWaitEnabled bool `yaml:"hub_wait_enabled"`

	// HubWaitTimeout bounds each wait; a keepalive comment is written on
	// every timeout.
	HubWaitTimeout time.Duration `yaml:"hub_wait_timeout"`
}

type ToolsConfig struct {
	// SQLMaxLimit caps (and backfills) the LIMIT of executed queries.
	SQLMaxLimit int `yaml:"sql_max_limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. An empty path yields the
// defaults with environment overrides applied, so the server can run from
// environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand ${VAR} references before parsing.
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays the well-known environment variables onto unset fields.
func applyEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Runs.Backend == "" {
		cfg.Runs.Backend = "memory"
	}
	if cfg.Runs.MaxMessages == 0 {
		cfg.Runs.MaxMessages = 200
	}
	if cfg.Runs.CleanupInterval == 0 {
		cfg.Runs.CleanupInterval = 5 * time.Minute
	}
	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = "memory"
	}
	if cfg.Artifacts.TTL == nil {
		ttl := 30 * time.Minute
		cfg.Artifacts.TTL = &ttl
	}
	if cfg.Artifacts.PreviewRows == 0 {
		cfg.Artifacts.PreviewRows = 10
	}
	if cfg.Artifacts.S3.Region == "" {
		cfg.Artifacts.S3.Region = "us-east-1"
	}
	if cfg.Artifacts.S3.Prefix == "" {
		cfg.Artifacts.S3.Prefix = "artifacts"
	}
	if cfg.Artifacts.S3.URLExpiry == 0 {
		cfg.Artifacts.S3.URLExpiry = 15 * time.Minute
	}
	if cfg.Continuation.HubWaitTimeout == 0 {
		cfg.Continuation.HubWaitTimeout = 15 * time.Second
	}
	if cfg.Tools.SQLMaxLimit == 0 {
		cfg.Tools.SQLMaxLimit = 1000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Runs.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown runs backend %q", c.Runs.Backend)
	}
	if c.Runs.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("runs backend postgres requires database.url")
	}

	switch c.Artifacts.Backend {
	case "memory":
	case "s3":
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts backend s3 requires artifacts.s3.bucket")
		}
	default:
		return fmt.Errorf("unknown artifacts backend %q", c.Artifacts.Backend)
	}
	return nil
}
