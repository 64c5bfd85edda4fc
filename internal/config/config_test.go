package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.StreamPath != "/api/decompose/stream" {
		t.Errorf("expected stream path /api/decompose/stream, got %s", cfg.Server.StreamPath)
	}
	if got := cfg.Pipeline.GetQuietThreshold(); got != 450*time.Millisecond {
		t.Errorf("expected 450ms quiet threshold, got %v", got)
	}
	if got := cfg.Pipeline.GetCheckDelay(); got != 500*time.Millisecond {
		t.Errorf("expected 500ms check delay, got %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("PROCSTREAM_SERVER_URL", "")
	t.Setenv("PROCSTREAM_DB", "")

	path := filepath.Join(t.TempDir(), "nested", "procstream.yaml")

	cfg := DefaultConfig()
	cfg.Server.BaseURL = "http://decomposer:9000"
	cfg.Pipeline.CacheMarkers = []string{"from-cache"}
	cfg.Pipeline.IncrementalScan = false

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.BaseURL != "http://decomposer:9000" {
		t.Errorf("expected BaseURL=http://decomposer:9000, got %s", loaded.Server.BaseURL)
	}
	if len(loaded.Pipeline.CacheMarkers) != 1 || loaded.Pipeline.CacheMarkers[0] != "from-cache" {
		t.Errorf("cache markers not round-tripped: %v", loaded.Pipeline.CacheMarkers)
	}
	if loaded.Pipeline.IncrementalScan {
		t.Error("incremental_scan should be false after reload")
	}
	if got := loaded.StreamURL(); got != "http://decomposer:9000/api/decompose/stream" {
		t.Errorf("StreamURL() = %s", got)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.FetchPath != "/api/decompose/json" {
		t.Errorf("expected default fetch path, got %s", cfg.Server.FetchPath)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.Server.BaseURL = "localhost" }},
		{"check delay below threshold", func(c *Config) { c.Pipeline.CheckDelay = "100ms" }},
		{"identical markers", func(c *Config) { c.Pipeline.EndMarker = c.Pipeline.StartMarker }},
		{"store without path", func(c *Config) { c.Store.DatabasePath = "" }},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Timeout = "not-a-duration"
	cfg.Pipeline.QuietThreshold = "-1s"

	if got := cfg.GetServerTimeout(); got != 120*time.Second {
		t.Errorf("GetServerTimeout fallback = %v", got)
	}
	if got := cfg.Pipeline.GetQuietThreshold(); got != 450*time.Millisecond {
		t.Errorf("GetQuietThreshold fallback = %v", got)
	}

	s := cfg.Pipeline.Sentinel()
	if s.Start != "===FINAL_JSON_START===" || s.End != "===FINAL_JSON_END===" {
		t.Errorf("unexpected sentinel %+v", s)
	}
	if !cfg.Pipeline.Auditor().Cached("缓存命中") {
		t.Error("default auditor should recognise the cache marker")
	}

	opts := LoggingConfig{Level: "debug", Format: "json", File: "/tmp/x.log"}.Options()
	if !opts.JSONFormat || len(opts.OutputPaths) != 1 {
		t.Errorf("unexpected logging options %+v", opts)
	}
}
