// Package config loads the station's JSON tuning overlay. Every field
// is optional; the Get* accessors supply defaults for anything the
// file leaves out, so a partial config is always safe to run with.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// DefaultConfigPath is the path to the canonical station defaults
// file, the single source of truth for all default tuning values.
const DefaultConfigPath = "config/station.defaults.json"

// StationConfig is the root tuning configuration. The schema matches
// the /api/config endpoint so the same JSON serves startup
// configuration and runtime inspection.
type StationConfig struct {
	// Acquisition params
	SampleRate     *float64 `json:"sample_rate,omitempty"`
	ChannelCount   *int     `json:"channel_count,omitempty"`
	ChannelLabels  []string `json:"channel_labels,omitempty"`
	BufferCapacity *int     `json:"buffer_capacity,omitempty"`
	OverflowPolicy *string  `json:"overflow_policy,omitempty"`
	PollTimeout    *string  `json:"poll_timeout,omitempty"` // duration string like "500ms"
	PollBatch      *int     `json:"poll_batch,omitempty"`

	// Spectral params
	WindowLength      *int    `json:"window_length,omitempty"`
	WindowFunction    *string `json:"window_function,omitempty"`
	ZeroPaddingFactor *int    `json:"zero_padding_factor,omitempty"`
	PlanManifest      *string `json:"plan_manifest,omitempty"`

	// Directional analysis params
	WaterDepthM   *float64             `json:"water_depth_m,omitempty"`
	DirectionBins *int                 `json:"direction_bins,omitempty"`
	Probes        []wave.ProbePosition `json:"probes,omitempty"`

	// Analysis cadence and persistence params
	AnalysisInterval      *string `json:"analysis_interval,omitempty"` // duration string like "2s"
	PersistenceQueueDepth *int    `json:"persistence_queue_depth,omitempty"`
	SessionDir            *string `json:"session_dir,omitempty"`
	MaxSessionDuration    *string `json:"max_session_duration,omitempty"` // "0s" disables the limit
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyStationConfig returns a StationConfig with all fields unset.
// Use LoadStationConfig to load actual values from a file.
func EmptyStationConfig() *StationConfig {
	return &StationConfig{}
}

// LoadStationConfig loads a StationConfig from a JSON file. The file
// must have a .json extension and stay under the size limit. Fields
// omitted from the JSON keep their defaults, so partial configs are
// safe.
func LoadStationConfig(path string) (*StationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyStationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical station defaults from
// DefaultConfigPath, searching upward from the current directory.
// Panics if the file cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *StationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadStationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every field that is set. Unset fields are fine; they
// fall back to defaults.
func (c *StationConfig) Validate() error {
	if c.SampleRate != nil && *c.SampleRate <= 0 {
		return &wave.ValidationError{Field: "sample_rate", Reason: fmt.Sprintf("must be positive, got %v", *c.SampleRate)}
	}
	if c.ChannelCount != nil && *c.ChannelCount < 1 {
		return &wave.ValidationError{Field: "channel_count", Reason: fmt.Sprintf("must be at least 1, got %d", *c.ChannelCount)}
	}
	if c.BufferCapacity != nil && *c.BufferCapacity < 1 {
		return &wave.ValidationError{Field: "buffer_capacity", Reason: fmt.Sprintf("must be at least 1, got %d", *c.BufferCapacity)}
	}
	if c.OverflowPolicy != nil {
		if _, err := wave.ParseOverflowPolicy(*c.OverflowPolicy); err != nil {
			return err
		}
	}
	if c.PollBatch != nil && *c.PollBatch < 1 {
		return &wave.ValidationError{Field: "poll_batch", Reason: fmt.Sprintf("must be at least 1, got %d", *c.PollBatch)}
	}
	if c.WindowLength != nil && *c.WindowLength < 16 {
		return &wave.ValidationError{Field: "window_length", Reason: fmt.Sprintf("must be at least 16 samples, got %d", *c.WindowLength)}
	}
	if c.WindowFunction != nil {
		if _, err := wave.ParseWindowFunction(*c.WindowFunction); err != nil {
			return err
		}
	}
	if c.ZeroPaddingFactor != nil && *c.ZeroPaddingFactor < 1 {
		return &wave.ValidationError{Field: "zero_padding_factor", Reason: fmt.Sprintf("must be at least 1, got %d", *c.ZeroPaddingFactor)}
	}
	if c.WaterDepthM != nil && *c.WaterDepthM <= 0 {
		return &wave.ValidationError{Field: "water_depth_m", Reason: fmt.Sprintf("must be positive, got %v", *c.WaterDepthM)}
	}
	if c.DirectionBins != nil && *c.DirectionBins < 8 {
		return &wave.ValidationError{Field: "direction_bins", Reason: fmt.Sprintf("must be at least 8, got %d", *c.DirectionBins)}
	}
	if len(c.Probes) > 0 {
		if _, err := wave.NewProbeGeometry(c.Probes); err != nil {
			return err
		}
	}
	if c.PersistenceQueueDepth != nil && *c.PersistenceQueueDepth < 1 {
		return &wave.ValidationError{Field: "persistence_queue_depth", Reason: fmt.Sprintf("must be at least 1, got %d", *c.PersistenceQueueDepth)}
	}

	for field, value := range map[string]*string{
		"poll_timeout":         c.PollTimeout,
		"analysis_interval":    c.AnalysisInterval,
		"max_session_duration": c.MaxSessionDuration,
	} {
		if value == nil || *value == "" {
			continue
		}
		d, err := time.ParseDuration(*value)
		if err != nil {
			return &wave.ValidationError{Field: field, Reason: fmt.Sprintf("invalid duration %q: %v", *value, err)}
		}
		if d < 0 {
			return &wave.ValidationError{Field: field, Reason: fmt.Sprintf("must not be negative, got %s", d)}
		}
	}

	return nil
}

// GetSampleRate returns the acquisition rate in Hz.
func (c *StationConfig) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return 50
	}
	return *c.SampleRate
}

// GetChannelCount returns the number of probe channels.
func (c *StationConfig) GetChannelCount() int {
	if c.ChannelCount == nil {
		return 4
	}
	return *c.ChannelCount
}

// GetChannelLabels returns the configured channel labels, possibly
// shorter than the channel count; sources fill in the rest.
func (c *StationConfig) GetChannelLabels() []string {
	return c.ChannelLabels
}

// GetBufferCapacity returns the acquisition ring size in frames.
func (c *StationConfig) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return 4096
	}
	return *c.BufferCapacity
}

// GetOverflowPolicy returns the buffer overflow policy.
func (c *StationConfig) GetOverflowPolicy() wave.OverflowPolicy {
	if c.OverflowPolicy == nil {
		return wave.OverflowBlock
	}
	return wave.OverflowPolicy(*c.OverflowPolicy)
}

// GetPollTimeout returns the per-poll source timeout.
func (c *StationConfig) GetPollTimeout() time.Duration {
	if c.PollTimeout == nil || *c.PollTimeout == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.PollTimeout)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetPollBatch returns the maximum frames pulled per source poll.
func (c *StationConfig) GetPollBatch() int {
	if c.PollBatch == nil {
		return 256
	}
	return *c.PollBatch
}

// GetWindowLength returns the analysis window length in samples.
func (c *StationConfig) GetWindowLength() int {
	if c.WindowLength == nil {
		return 512
	}
	return *c.WindowLength
}

// GetWindowFunction returns the spectral window taper.
func (c *StationConfig) GetWindowFunction() wave.WindowFunction {
	if c.WindowFunction == nil {
		return wave.WindowHann
	}
	return wave.WindowFunction(*c.WindowFunction)
}

// GetZeroPaddingFactor returns the transform padding multiple.
func (c *StationConfig) GetZeroPaddingFactor() int {
	if c.ZeroPaddingFactor == nil {
		return 1
	}
	return *c.ZeroPaddingFactor
}

// GetPlanManifest returns the transform plan manifest path, empty when
// no manifest is preloaded.
func (c *StationConfig) GetPlanManifest() string {
	if c.PlanManifest == nil {
		return ""
	}
	return *c.PlanManifest
}

// GetWaterDepth returns the basin water depth in metres.
func (c *StationConfig) GetWaterDepth() float64 {
	if c.WaterDepthM == nil {
		return 10
	}
	return *c.WaterDepthM
}

// GetDirectionBins returns the directional histogram resolution.
func (c *StationConfig) GetDirectionBins() int {
	if c.DirectionBins == nil {
		return 72
	}
	return *c.DirectionBins
}

// GetProbes returns the probe array layout. The default is a half
// metre square centred on the basin origin, matching the four-channel
// default elsewhere.
func (c *StationConfig) GetProbes() []wave.ProbePosition {
	if len(c.Probes) > 0 {
		return c.Probes
	}
	return []wave.ProbePosition{
		{X: -0.25, Y: -0.25},
		{X: 0.25, Y: -0.25},
		{X: 0.25, Y: 0.25},
		{X: -0.25, Y: 0.25},
	}
}

// GetAnalysisInterval returns the cadence of the analysis worker.
func (c *StationConfig) GetAnalysisInterval() time.Duration {
	if c.AnalysisInterval == nil || *c.AnalysisInterval == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.AnalysisInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetPersistenceQueueDepth returns the bounded persistence queue size.
func (c *StationConfig) GetPersistenceQueueDepth() int {
	if c.PersistenceQueueDepth == nil {
		return 64
	}
	return *c.PersistenceQueueDepth
}

// GetSessionDir returns the directory sealed containers are written
// to.
func (c *StationConfig) GetSessionDir() string {
	if c.SessionDir == nil || *c.SessionDir == "" {
		return "sessions"
	}
	return *c.SessionDir
}

// GetMaxSessionDuration returns the session duration limit; zero
// means unlimited.
func (c *StationConfig) GetMaxSessionDuration() time.Duration {
	if c.MaxSessionDuration == nil || *c.MaxSessionDuration == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.MaxSessionDuration)
	if err != nil {
		return 0
	}
	return d
}
