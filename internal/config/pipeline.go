package config

import (
	"fmt"
	"time"

	"procstream/internal/extract"
	"procstream/internal/reconcile"
)

// PipelineConfig configures reconciliation and completeness auditing.
type PipelineConfig struct {
	QuietThreshold  string   `yaml:"quiet_threshold"` // minimum silence before a reparse
	CheckDelay      string   `yaml:"check_delay"`     // delay of the check scheduled per fragment
	IncrementalScan bool     `yaml:"incremental_scan"`
	StartMarker     string   `yaml:"start_marker"`
	EndMarker       string   `yaml:"end_marker"`
	CacheMarkers    []string `yaml:"cache_markers"`
}

// DefaultPipelineConfig returns the producer's timing and markers.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QuietThreshold:  reconcile.DefaultQuietThreshold.String(),
		CheckDelay:      reconcile.DefaultCheckDelay.String(),
		IncrementalScan: true,
		StartMarker:     extract.DefaultStartMarker,
		EndMarker:       extract.DefaultEndMarker,
		CacheMarkers:    append([]string(nil), extract.DefaultCacheMarkers...),
	}
}

// GetQuietThreshold returns the quiet threshold as a duration.
func (p PipelineConfig) GetQuietThreshold() time.Duration {
	d, err := time.ParseDuration(p.QuietThreshold)
	if err != nil || d <= 0 {
		return reconcile.DefaultQuietThreshold
	}
	return d
}

// GetCheckDelay returns the check delay as a duration.
func (p PipelineConfig) GetCheckDelay() time.Duration {
	d, err := time.ParseDuration(p.CheckDelay)
	if err != nil || d <= 0 {
		return reconcile.DefaultCheckDelay
	}
	return d
}

// Sentinel returns the configured marker pair.
func (p PipelineConfig) Sentinel() extract.Sentinel {
	s := extract.DefaultSentinel()
	if p.StartMarker != "" {
		s.Start = p.StartMarker
	}
	if p.EndMarker != "" {
		s.End = p.EndMarker
	}
	return s
}

// Auditor returns an auditor using the configured cache markers.
func (p PipelineConfig) Auditor() *extract.Auditor {
	return extract.NewAuditor(p.CacheMarkers...)
}

// Validate rejects settings under which no scheduled check could ever fire.
func (p PipelineConfig) Validate() error {
	if p.GetCheckDelay() < p.GetQuietThreshold() {
		return fmt.Errorf("check_delay %v is shorter than quiet_threshold %v", p.GetCheckDelay(), p.GetQuietThreshold())
	}
	s := p.Sentinel()
	if s.Start == s.End {
		return fmt.Errorf("start and end markers must differ")
	}
	return nil
}
