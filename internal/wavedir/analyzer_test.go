package wavedir

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/testutil"
	"github.com/hydrolab-data/seastate/internal/units"
	"github.com/hydrolab-data/seastate/internal/wave"
)

// synthField generates per-probe elevation records for a single
// long-crested wave crossing the array, using the same dispersion
// relation the analyzer solves.
func synthField(t *testing.T, positions []wave.ProbePosition, ampM, freqHz, directionDeg, depth float64, n int, sampleRate float64) [][]float64 {
	t.Helper()
	solver, err := NewDispersionSolver(8)
	if err != nil {
		t.Fatalf("NewDispersionSolver failed: %v", err)
	}
	res, err := solver.Solve(units.HzToRadPerSec(freqHz), depth)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	theta := units.DegToRad(directionDeg)
	omega := units.HzToRadPerSec(freqHz)
	series := make([][]float64, len(positions))
	for ch, p := range positions {
		phase := res.Wavenumber * (p.X*math.Cos(theta) + p.Y*math.Sin(theta))
		samples := make([]float64, n)
		for i := range samples {
			samples[i] = ampM * math.Cos(phase-omega*float64(i)/sampleRate)
		}
		series[ch] = samples
	}
	return series
}

// spectraFor runs each probe record through one spectral processor.
func spectraFor(t *testing.T, series [][]float64, sampleRate float64) []*spectral.Spectrum {
	t.Helper()
	proc, err := spectral.NewProcessor(spectral.DefaultConfig(sampleRate))
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	spectra := make([]*spectral.Spectrum, len(series))
	for ch, samples := range series {
		sp, err := proc.Compute(ch, samples)
		if err != nil {
			t.Fatalf("Compute failed on channel %d: %v", ch, err)
		}
		spectra[ch] = sp
	}
	return spectra
}

// angularDiff returns the absolute difference between two bearings in
// degrees, wrapped onto [0, 180].
func angularDiff(a, b float64) float64 {
	return math.Abs(math.Mod(a-b+540, 360) - 180)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero depth", func(c *Config) { c.WaterDepth = 0 }},
		{"nan depth", func(c *Config) { c.WaterDepth = math.NaN() }},
		{"too few direction bins", func(c *Config) { c.DirectionBins = 4 }},
		{"negative min frequency", func(c *Config) { c.MinFrequencyHz = -1 }},
		{"empty band", func(c *Config) { c.MinFrequencyHz = 2; c.MaxFrequencyHz = 1 }},
		{"threshold ratio above one", func(c *Config) { c.EnergyThresholdRatio = 1.5 }},
		{"zero max bins", func(c *Config) { c.MaxFrequencyBins = 0 }},
		{"condition threshold too low", func(c *Config) { c.ConditionThreshold = 1 }},
		{"zero truncation", func(c *Config) { c.TruncationRatio = 0 }},
		{"truncation at one", func(c *Config) { c.TruncationRatio = 1 }},
		{"zero dispersion cache", func(c *Config) { c.DispersionCacheSize = 0 }},
		{"zero transfer cache", func(c *Config) { c.TransferCacheSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(1.0)
			tt.mutate(&cfg)
			var verr *wave.ValidationError
			if err := cfg.Validate(); !errors.As(err, &verr) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}

	if err := DefaultConfig(1.0).Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestNewAnalyzer_RequiresGeometry(t *testing.T) {
	if _, err := NewAnalyzer(DefaultConfig(1.0), nil); err == nil {
		t.Error("Expected error for nil geometry, got nil")
	}
	if _, err := NewAnalyzer(Config{}, testutil.SquareArrayGeometry(t, 0.5)); err == nil {
		t.Error("Expected error for invalid config, got nil")
	}
}

// TestAnalyzer_RecoversWaveDirection drives a synthetic unidirectional
// field at a known bearing through a square array and checks the
// estimated mean direction, with the layout reported well conditioned.
func TestAnalyzer_RecoversWaveDirection(t *testing.T) {
	geom := testutil.SquareArrayGeometry(t, 0.5)
	an, err := NewAnalyzer(DefaultConfig(1.0), geom)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	series := synthField(t, geom.Positions(), 0.05, 0.5, 45, 1.0, 512, 50)
	analysis, err := an.Analyze(context.Background(), spectraFor(t, series, 50))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(analysis.Estimates) == 0 {
		t.Fatal("Expected at least one directional estimate")
	}
	if len(analysis.DirectionsDeg) != an.Config().DirectionBins {
		t.Errorf("Expected %d direction bins, got %d", an.Config().DirectionBins, len(analysis.DirectionsDeg))
	}
	if analysis.GeometryVersion != 1 {
		t.Errorf("Expected geometry version 1, got %d", analysis.GeometryVersion)
	}
	if d := angularDiff(analysis.MeanDirectionDeg, 45); d > 5 {
		t.Errorf("Expected overall mean direction within 5 degrees of 45, got %.2f (off by %.2f)", analysis.MeanDirectionDeg, d)
	}
	if wave.HasWarning(analysis.Warnings, wave.WarnIllConditionedGeometry) {
		t.Error("Expected no ill-conditioned geometry warning for a square array")
	}

	var peak DirectionalEstimate
	for i, est := range analysis.Estimates {
		if i > 0 && est.FrequencyHz <= analysis.Estimates[i-1].FrequencyHz {
			t.Errorf("Expected estimates in frequency order, got %.4f after %.4f", est.FrequencyHz, analysis.Estimates[i-1].FrequencyHz)
		}
		if d := angularDiff(est.MeanDirectionDeg, 45); d > 5 {
			t.Errorf("Expected mean direction within 5 degrees of 45 at %.3f Hz, got %.2f", est.FrequencyHz, est.MeanDirectionDeg)
		}
		if est.ConditionNumber > 2 {
			t.Errorf("Expected condition number near 1 for a square array, got %.3f", est.ConditionNumber)
		}
		if est.Wavenumber <= 0 {
			t.Errorf("Expected positive wavenumber, got %v", est.Wavenumber)
		}
		if len(est.Energy) != an.Config().DirectionBins {
			t.Errorf("Expected %d energy bins, got %d", an.Config().DirectionBins, len(est.Energy))
		}
		for j, e := range est.Energy {
			if e < 0 || math.IsNaN(e) {
				t.Fatalf("Expected non-negative finite energy, got %v in bin %d", e, j)
			}
		}
		if peak.Energy == nil || math.Abs(est.FrequencyHz-0.5) < math.Abs(peak.FrequencyHz-0.5) {
			peak = est
		}
	}

	if peak.Residual >= 0.5 {
		t.Errorf("Expected low residual at the peak frequency, got %.3f", peak.Residual)
	}
	if peak.Confidence <= 0.5 {
		t.Errorf("Expected confident peak estimate, got confidence %.3f", peak.Confidence)
	}
}

// TestAnalyzer_FlagsCollinearGeometry checks that a degenerate probe
// line trips the geometry warning and visibly reduces confidence.
func TestAnalyzer_FlagsCollinearGeometry(t *testing.T) {
	geom, err := wave.NewProbeGeometry([]wave.ProbePosition{
		{X: 0, Y: 0},
		{X: 0.2, Y: 0},
		{X: 0.4, Y: 0},
		{X: 0.6, Y: 0},
	})
	if err != nil {
		t.Fatalf("NewProbeGeometry failed: %v", err)
	}
	an, err := NewAnalyzer(DefaultConfig(1.0), geom)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	series := synthField(t, geom.Positions(), 0.05, 0.5, 30, 1.0, 512, 50)
	analysis, err := an.Analyze(context.Background(), spectraFor(t, series, 50))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(analysis.Estimates) == 0 {
		t.Fatal("Expected estimates for a collinear array, got none")
	}
	if !wave.HasWarning(analysis.Warnings, wave.WarnIllConditionedGeometry) {
		t.Error("Expected ill-conditioned geometry warning for collinear probes")
	}
	for _, est := range analysis.Estimates {
		if !wave.HasWarning(est.Warnings, wave.WarnIllConditionedGeometry) {
			t.Errorf("Expected warning on estimate at %.3f Hz", est.FrequencyHz)
		}
		if est.ConditionNumber <= an.Config().ConditionThreshold {
			t.Errorf("Expected condition number above %.0f, got %v", an.Config().ConditionThreshold, est.ConditionNumber)
		}
		if est.Confidence >= 0.5 {
			t.Errorf("Expected visibly reduced confidence, got %.3f", est.Confidence)
		}
	}
}

func TestAnalyzer_ContextCancelled(t *testing.T) {
	geom := testutil.SquareArrayGeometry(t, 0.5)
	an, err := NewAnalyzer(DefaultConfig(1.0), geom)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	series := synthField(t, geom.Positions(), 0.05, 0.5, 45, 1.0, 128, 50)
	spectra := spectraFor(t, series, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := an.Analyze(ctx, spectra); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestAnalyzer_InputValidation(t *testing.T) {
	geom := testutil.SquareArrayGeometry(t, 0.5)
	an, err := NewAnalyzer(DefaultConfig(1.0), geom)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	series := synthField(t, geom.Positions(), 0.05, 0.5, 45, 1.0, 256, 50)
	spectra := spectraFor(t, series, 50)

	assertValidation := func(t *testing.T, err error) {
		t.Helper()
		var verr *wave.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Expected ValidationError, got %v", err)
		}
	}

	t.Run("WrongSpectrumCount", func(t *testing.T) {
		_, err := an.Analyze(context.Background(), spectra[:3])
		assertValidation(t, err)
	})

	t.Run("NilSpectrum", func(t *testing.T) {
		damaged := append([]*spectral.Spectrum(nil), spectra...)
		damaged[2] = nil
		_, err := an.Analyze(context.Background(), damaged)
		assertValidation(t, err)
	})

	t.Run("MismatchedBinGrids", func(t *testing.T) {
		short := synthField(t, geom.Positions(), 0.05, 0.5, 45, 1.0, 128, 50)
		damaged := append([]*spectral.Spectrum(nil), spectra...)
		damaged[1] = spectraFor(t, short, 50)[1]
		_, err := an.Analyze(context.Background(), damaged)
		assertValidation(t, err)
	})

	t.Run("TooFewProbes", func(t *testing.T) {
		pair, err := wave.NewProbeGeometry([]wave.ProbePosition{{X: 0, Y: 0}, {X: 0.5, Y: 0}})
		if err != nil {
			t.Fatalf("NewProbeGeometry failed: %v", err)
		}
		small, err := NewAnalyzer(DefaultConfig(1.0), pair)
		if err != nil {
			t.Fatalf("NewAnalyzer failed: %v", err)
		}
		_, err = small.Analyze(context.Background(), spectra[:2])
		assertValidation(t, err)
	})
}

// TestAnalyzer_TransferCacheReuse checks that repeated analysis of the
// same window shape hits the transfer matrix cache and that a geometry
// change invalidates it.
func TestAnalyzer_TransferCacheReuse(t *testing.T) {
	geom := testutil.SquareArrayGeometry(t, 0.5)
	an, err := NewAnalyzer(DefaultConfig(1.0), geom)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	series := synthField(t, geom.Positions(), 0.05, 0.5, 45, 1.0, 512, 50)
	spectra := spectraFor(t, series, 50)

	first, err := an.Analyze(context.Background(), spectra)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if stats := an.TransferCacheStats(); stats.Hits != 0 || stats.Entries != len(first.Estimates) {
		t.Errorf("Expected cold cache with %d entries, got %+v", len(first.Estimates), stats)
	}

	if _, err := an.Analyze(context.Background(), spectra); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if stats := an.TransferCacheStats(); stats.Hits != uint64(len(first.Estimates)) {
		t.Errorf("Expected %d transfer cache hits, got %+v", len(first.Estimates), stats)
	}
	if stats := an.DispersionCacheStats(); stats.Hits == 0 {
		t.Errorf("Expected dispersion cache hits on the second pass, got %+v", stats)
	}

	if err := geom.SetPositions([]wave.ProbePosition{
		{X: -0.3, Y: -0.3},
		{X: 0.3, Y: -0.3},
		{X: 0.3, Y: 0.3},
		{X: -0.3, Y: 0.3},
	}); err != nil {
		t.Fatalf("SetPositions failed: %v", err)
	}

	third, err := an.Analyze(context.Background(), spectra)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if third.GeometryVersion != 2 {
		t.Errorf("Expected geometry version 2, got %d", third.GeometryVersion)
	}
	if stats := an.TransferCacheStats(); stats.Entries != len(third.Estimates) {
		t.Errorf("Expected cache rebuilt with %d entries after geometry change, got %+v", len(third.Estimates), stats)
	}
}

func TestAnalyzer_QuietSea(t *testing.T) {
	geom := testutil.SquareArrayGeometry(t, 0.5)
	an, err := NewAnalyzer(DefaultConfig(1.0), geom)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}

	flat := make([][]float64, 4)
	for ch := range flat {
		flat[ch] = make([]float64, 256)
	}
	analysis, err := an.Analyze(context.Background(), spectraFor(t, flat, 50))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(analysis.Estimates) != 0 {
		t.Errorf("Expected no estimates for a flat record, got %d", len(analysis.Estimates))
	}
}

func TestGeometryCondition(t *testing.T) {
	square := testutil.SquareArrayGeometry(t, 0.5)
	positions := square.Positions()
	if cond := geometryCondition(positions); math.Abs(cond-1) > 1e-9 {
		t.Errorf("Expected condition number 1 for a square array, got %v", cond)
	}

	line := []wave.ProbePosition{{X: 0, Y: 0}, {X: 0.2, Y: 0}, {X: 0.4, Y: 0}}
	if cond := geometryCondition(line); cond < 1e6 {
		t.Errorf("Expected huge condition number for collinear probes, got %v", cond)
	}

	nearLine := []wave.ProbePosition{{X: 0, Y: 0}, {X: 0.2, Y: 1e-4}, {X: 0.4, Y: 0}}
	if cond := geometryCondition(nearLine); cond < 100 {
		t.Errorf("Expected condition number above the default threshold, got %v", cond)
	}
}
