package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all procstream configuration.
type Config struct {
	// Decomposition service endpoints
	Server ServerConfig `yaml:"server"`

	// Reconciliation timing and extraction markers
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Outcome history
	Store StoreConfig `yaml:"store"`

	// Prometheus exporter
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the decomposition service.
type ServerConfig struct {
	BaseURL    string `yaml:"base_url"`
	StreamPath string `yaml:"stream_path"`
	FetchPath  string `yaml:"fetch_path"`
	Timeout    string `yaml:"timeout"` // applies to the JSON refetch only
}

// StoreConfig configures the SQLite outcome history.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// MetricsConfig configures the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:    "http://localhost:8000",
			StreamPath: "/api/decompose/stream",
			FetchPath:  "/api/decompose/json",
			Timeout:    "120s",
		},

		Pipeline: DefaultPipelineConfig(),

		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: "data/procstream.db",
		},

		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
			Path:    "/metrics",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults plus environment
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("PROCSTREAM_SERVER_URL"); u != "" {
		c.Server.BaseURL = u
	}
	if path := os.Getenv("PROCSTREAM_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if lvl := os.Getenv("PROCSTREAM_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if addr := os.Getenv("PROCSTREAM_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
		c.Metrics.Enabled = true
	}
}

// GetServerTimeout returns the refetch timeout as a duration.
func (c *Config) GetServerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// StreamURL returns the absolute SSE endpoint.
func (c *Config) StreamURL() string { return joinURL(c.Server.BaseURL, c.Server.StreamPath) }

// FetchURL returns the absolute JSON endpoint.
func (c *Config) FetchURL() string { return joinURL(c.Server.BaseURL, c.Server.FetchPath) }

func joinURL(base, path string) string {
	u, err := url.JoinPath(base, path)
	if err != nil {
		return base + path
	}
	return u
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server base_url %q", c.Server.BaseURL)
	}
	if c.Server.StreamPath == "" || c.Server.FetchPath == "" {
		return fmt.Errorf("server stream_path and fetch_path are required")
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.Store.Enabled && c.Store.DatabasePath == "" {
		return fmt.Errorf("store enabled but database_path is empty")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics enabled but addr is empty")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
