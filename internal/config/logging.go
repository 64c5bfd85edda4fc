package config

import (
	"fmt"

	"procstream/internal/logging"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, text
	File       string          `yaml:"file" json:"file,omitempty"`             // empty = stderr
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// Options converts the section into logging.Options.
func (c LoggingConfig) Options() logging.Options {
	opts := logging.Options{
		Level:      c.Level,
		Categories: c.Categories,
		JSONFormat: c.Format == "json",
	}
	if c.File != "" {
		opts.OutputPaths = []string{c.File}
	}
	return opts
}

// Validate checks level and format.
func (c LoggingConfig) Validate() error {
	if _, err := logging.ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "", "text", "json":
		return nil
	}
	return fmt.Errorf("unknown log format %q", c.Format)
}
