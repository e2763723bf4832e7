package spectral

import (
	"errors"
	"math"
	"testing"

	"github.com/hydrolab-data/seastate/internal/wave"
)

func sineSamples(n int, freqHz, amplitude, sampleRate float64) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/sampleRate)
	}
	return samples
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig(50).Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"unknown window", func(c *Config) { c.WindowFunction = "kaiser" }},
		{"zero padding factor", func(c *Config) { c.ZeroPaddingFactor = 0 }},
		{"prominence above one", func(c *Config) { c.PeakProminenceRatio = 1.5 }},
		{"negative distance", func(c *Config) { c.MinPeakDistanceHz = -1 }},
		{"zero max peaks", func(c *Config) { c.MaxPeaks = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(50)
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

// TestProcessor_SinePeak tests that a 2 Hz sine sampled at 50 Hz in a
// 256-sample Hann window produces a refined peak within 0.05 Hz.
func TestProcessor_SinePeak(t *testing.T) {
	proc, err := NewProcessor(DefaultConfig(50))
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}

	spec, err := proc.Compute(0, sineSamples(256, 2.0, 0.05, 50))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if math.Abs(spec.PeakFrequency-2.0) > 0.05 {
		t.Errorf("Expected peak within 0.05 Hz of 2.0, got %v", spec.PeakFrequency)
	}
	if len(spec.DominantPeaks) == 0 {
		t.Fatal("Expected at least one dominant peak")
	}
	if spec.DominantPeaks[0].FrequencyHz != spec.PeakFrequency {
		t.Error("Expected PeakFrequency to match the strongest dominant peak")
	}
}

// TestProcessor_PlanReuse tests that windows of the same shape share
// one transform plan.
func TestProcessor_PlanReuse(t *testing.T) {
	proc, err := NewProcessor(DefaultConfig(50))
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}

	samples := sineSamples(256, 2.0, 0.05, 50)
	if _, err := proc.Compute(0, samples); err != nil {
		t.Fatalf("First Compute returned error: %v", err)
	}
	if _, err := proc.Compute(1, samples); err != nil {
		t.Fatalf("Second Compute returned error: %v", err)
	}

	stats := proc.Plans().Stats()
	if stats.Builds != 1 {
		t.Errorf("Expected 1 plan build for identical windows, got %d", stats.Builds)
	}
	if stats.Hits != 1 {
		t.Errorf("Expected second window to hit the plan cache, got %d hits", stats.Hits)
	}
}

// TestProcessor_AmplitudeScale tests that a bin-centered sinusoid
// under a rectangular window recovers its amplitude exactly.
func TestProcessor_AmplitudeScale(t *testing.T) {
	cfg := DefaultConfig(50)
	cfg.WindowFunction = wave.WindowRectangular
	proc, err := NewProcessor(cfg)
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}

	// Exactly 10 cycles in 256 samples.
	freq := 10.0 * 50 / 256
	spec, err := proc.Compute(0, sineSamples(256, freq, 0.05, 50))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if math.Abs(spec.Magnitudes[10]-0.05) > 1e-9 {
		t.Errorf("Expected bin 10 magnitude 0.05, got %v", spec.Magnitudes[10])
	}
	if math.Abs(spec.PeakFrequency-freq) > 1e-9 {
		t.Errorf("Expected exact peak at %v Hz, got %v", freq, spec.PeakFrequency)
	}
}

// TestProcessor_GenericBackendEquivalence tests that the portable
// backend produces the same spectrum as the planned one.
func TestProcessor_GenericBackendEquivalence(t *testing.T) {
	samples := sineSamples(256, 1.3, 0.04, 50)

	planned, err := NewProcessor(DefaultConfig(50))
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}
	genericCfg := DefaultConfig(50)
	genericCfg.GenericTransform = true
	generic, err := NewProcessor(genericCfg)
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}

	a, err := planned.Compute(0, samples)
	if err != nil {
		t.Fatalf("Planned Compute returned error: %v", err)
	}
	b, err := generic.Compute(0, samples)
	if err != nil {
		t.Fatalf("Generic Compute returned error: %v", err)
	}

	if len(a.Magnitudes) != len(b.Magnitudes) {
		t.Fatalf("Backend spectrum lengths differ: %d vs %d", len(a.Magnitudes), len(b.Magnitudes))
	}
	for i := range a.Magnitudes {
		if math.Abs(a.Magnitudes[i]-b.Magnitudes[i]) > 1e-9 {
			t.Fatalf("Bin %d magnitude differs between backends: %v vs %v", i, a.Magnitudes[i], b.Magnitudes[i])
		}
	}
	if math.Abs(a.PeakFrequency-b.PeakFrequency) > 1e-9 {
		t.Errorf("Peak frequency differs between backends: %v vs %v", a.PeakFrequency, b.PeakFrequency)
	}
}

// TestProcessor_TwoComponents tests that both components of a bimodal
// sea appear in the dominant peak list, strongest first.
func TestProcessor_TwoComponents(t *testing.T) {
	proc, err := NewProcessor(DefaultConfig(50))
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}

	samples := make([]float64, 512)
	for i := range samples {
		ti := float64(i) / 50
		samples[i] = 0.05*math.Cos(2*math.Pi*0.5*ti) + 0.012*math.Cos(2*math.Pi*0.9*ti)
	}

	spec, err := proc.Compute(0, samples)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if len(spec.DominantPeaks) < 2 {
		t.Fatalf("Expected 2 dominant peaks, got %d", len(spec.DominantPeaks))
	}
	if math.Abs(spec.DominantPeaks[0].FrequencyHz-0.5) > 0.05 {
		t.Errorf("Expected strongest peak near 0.5 Hz, got %v", spec.DominantPeaks[0].FrequencyHz)
	}
	if math.Abs(spec.DominantPeaks[1].FrequencyHz-0.9) > 0.05 {
		t.Errorf("Expected second peak near 0.9 Hz, got %v", spec.DominantPeaks[1].FrequencyHz)
	}
}

func TestProcessor_ZeroPadding(t *testing.T) {
	cfg := DefaultConfig(50)
	cfg.ZeroPaddingFactor = 4
	proc, err := NewProcessor(cfg)
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}

	spec, err := proc.Compute(0, sineSamples(256, 2.0, 0.05, 50))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if spec.TransformLength != 1024 {
		t.Errorf("Expected transform length 1024, got %d", spec.TransformLength)
	}
	if len(spec.Frequencies) != 513 {
		t.Errorf("Expected 513 one-sided bins, got %d", len(spec.Frequencies))
	}
	if math.Abs(spec.PeakFrequency-2.0) > 0.02 {
		t.Errorf("Expected padded peak within 0.02 Hz of 2.0, got %v", spec.PeakFrequency)
	}
}

func TestProcessor_EmptyWindow(t *testing.T) {
	proc, _ := NewProcessor(DefaultConfig(50))
	_, err := proc.Compute(0, nil)
	var verr *wave.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError for empty window, got %v", err)
	}
}

// TestProcessor_NonFiniteSamples tests that NaN and Inf input surfaces
// a DataIntegrityError naming the channel and sample index.
func TestProcessor_NonFiniteSamples(t *testing.T) {
	proc, _ := NewProcessor(DefaultConfig(50))

	samples := sineSamples(64, 2.0, 0.05, 50)
	samples[17] = math.NaN()

	_, err := proc.Compute(3, samples)
	var derr *wave.DataIntegrityError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected DataIntegrityError, got %v", err)
	}
	if derr.Channel != 3 || derr.Index != 17 {
		t.Errorf("Expected channel 3 index 17, got channel %d index %d", derr.Channel, derr.Index)
	}

	samples[17] = math.Inf(-1)
	if _, err := proc.Compute(3, samples); !errors.As(err, &derr) {
		t.Errorf("Expected DataIntegrityError for Inf, got %v", err)
	}
}

func TestProcessor_SpectrumShape(t *testing.T) {
	proc, _ := NewProcessor(DefaultConfig(50))
	spec, err := proc.Compute(0, sineSamples(256, 2.0, 0.05, 50))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	if len(spec.Frequencies) != 129 {
		t.Errorf("Expected 129 one-sided bins, got %d", len(spec.Frequencies))
	}
	if len(spec.Magnitudes) != 129 || len(spec.Phases) != 129 || len(spec.Coefficients) != 129 {
		t.Error("Expected magnitudes, phases and coefficients to match bin count")
	}
	if spec.Frequencies[0] != 0 {
		t.Errorf("Expected first bin at DC, got %v", spec.Frequencies[0])
	}
	if math.Abs(spec.Frequencies[128]-25) > 1e-12 {
		t.Errorf("Expected last bin at Nyquist 25 Hz, got %v", spec.Frequencies[128])
	}
	if spec.WindowLength != 256 || spec.TransformLength != 256 {
		t.Errorf("Unexpected window/transform lengths %d/%d", spec.WindowLength, spec.TransformLength)
	}
}
