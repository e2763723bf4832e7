package probe

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/hydrolab-data/seastate/internal/wave"
	"github.com/hydrolab-data/seastate/internal/wavedir"
)

// WaveComponent is one regular wave in the synthetic field.
type WaveComponent struct {
	// AmplitudeM is the component amplitude in metres.
	AmplitudeM float64 `json:"amplitude_m"`

	// FrequencyHz is the component frequency.
	FrequencyHz float64 `json:"frequency_hz"`

	// DirectionDeg is the propagation direction, degrees
	// counter-clockwise from the basin +X axis.
	DirectionDeg float64 `json:"direction_deg"`

	// PhaseRad is the component phase offset at the origin.
	PhaseRad float64 `json:"phase_rad"`
}

// SimulatedConfig configures the deterministic demo source.
type SimulatedConfig struct {
	SampleRate  float64         `json:"sample_rate"`
	WaterDepth  float64         `json:"water_depth"`
	Components  []WaveComponent `json:"components"`
	NoiseStdDev float64         `json:"noise_std_dev"`
	Seed        int64           `json:"seed"`
	Labels      []string        `json:"labels,omitempty"`
}

// DefaultSimulatedConfig returns a sea state suitable for demos: a
// dominant 0.5 Hz swell from 45 degrees with a weaker secondary
// component, sampled at 50 Hz in a metre of water.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		SampleRate: 50,
		WaterDepth: 1.0,
		Components: []WaveComponent{
			{AmplitudeM: 0.05, FrequencyHz: 0.5, DirectionDeg: 45},
			{AmplitudeM: 0.012, FrequencyHz: 0.9, DirectionDeg: 70, PhaseRad: 1.1},
		},
		NoiseStdDev: 0.001,
		Seed:        1,
	}
}

// Validate rejects a config that cannot produce a physical wave field.
func (c SimulatedConfig) Validate() error {
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return &wave.ValidationError{Field: "sampleRate", Reason: fmt.Sprintf("must be positive and finite, got %v", c.SampleRate)}
	}
	if c.WaterDepth <= 0 || math.IsNaN(c.WaterDepth) || math.IsInf(c.WaterDepth, 0) {
		return &wave.ValidationError{Field: "waterDepth", Reason: fmt.Sprintf("must be positive and finite, got %v", c.WaterDepth)}
	}
	if len(c.Components) == 0 {
		return &wave.ValidationError{Field: "components", Reason: "at least one wave component required"}
	}
	for i, comp := range c.Components {
		if comp.AmplitudeM < 0 || math.IsNaN(comp.AmplitudeM) || math.IsInf(comp.AmplitudeM, 0) {
			return &wave.ValidationError{Field: "components", Reason: fmt.Sprintf("component %d amplitude must be non-negative and finite", i)}
		}
		if comp.FrequencyHz <= 0 || math.IsNaN(comp.FrequencyHz) || math.IsInf(comp.FrequencyHz, 0) {
			return &wave.ValidationError{Field: "components", Reason: fmt.Sprintf("component %d frequency must be positive and finite", i)}
		}
	}
	if c.NoiseStdDev < 0 || math.IsNaN(c.NoiseStdDev) || math.IsInf(c.NoiseStdDev, 0) {
		return &wave.ValidationError{Field: "noiseStdDev", Reason: "must be non-negative and finite"}
	}
	return nil
}

// Simulated generates a deterministic multi-probe directional wave
// field. Each component's wavenumber comes from the same dispersion
// relation the analyzer solves, so analysis of the synthetic field
// recovers the configured directions.
type Simulated struct {
	cfg      SimulatedConfig
	geometry *wave.ProbeGeometry

	mu        sync.Mutex
	started   bool
	stopped   bool
	positions []wave.ProbePosition
	waveNums  []float64
	rng       *rand.Rand
	nextSeq   uint64
	baseTime  time.Time
}

// NewSimulated builds a simulated source over the given probe layout.
func NewSimulated(cfg SimulatedConfig, geometry *wave.ProbeGeometry) (*Simulated, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if geometry == nil || geometry.Count() == 0 {
		return nil, &wave.ValidationError{Field: "probeGeometry", Reason: "geometry with at least one probe required"}
	}
	return &Simulated{cfg: cfg, geometry: geometry}, nil
}

// Describe returns the stream properties.
func (s *Simulated) Describe() Info {
	return Info{
		Name:          "simulated",
		ChannelCount:  s.geometry.Count(),
		SampleRate:    s.cfg.SampleRate,
		ChannelLabels: defaultLabels(s.cfg.Labels, s.geometry.Count()),
	}
}

// Start freezes the probe layout and solves the component wavenumbers.
func (s *Simulated) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.stopped {
		return nil
	}

	solver, err := wavedir.NewDispersionSolver(len(s.cfg.Components) + 8)
	if err != nil {
		return err
	}
	s.positions = s.geometry.Positions()
	s.waveNums = make([]float64, len(s.cfg.Components))
	for i, comp := range s.cfg.Components {
		res, err := solver.Solve(2*math.Pi*comp.FrequencyHz, s.cfg.WaterDepth)
		if err != nil {
			return fmt.Errorf("dispersion solve for component %d: %w", i, err)
		}
		s.waveNums[i] = res.Wavenumber
	}
	s.rng = rand.New(rand.NewSource(s.cfg.Seed))
	s.nextSeq = 0
	s.baseTime = time.Unix(0, 0)
	s.started = true
	s.stopped = false
	return ctx.Err()
}

// PullSamples synthesizes the next max frames. The generator is free
// running; pacing is the caller's concern.
func (s *Simulated) PullSamples(ctx context.Context, max int) ([]wave.Frame, error) {
	if max <= 0 {
		return nil, &wave.ValidationError{Field: "max", Reason: "must be positive"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrSourceClosed
	}
	if !s.started {
		return nil, fmt.Errorf("probe: simulated source not started")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames := make([]wave.Frame, 0, max)
	dt := 1 / s.cfg.SampleRate
	for i := 0; i < max; i++ {
		t := float64(s.nextSeq) * dt
		samples := make([]float64, len(s.positions))
		for p, pos := range s.positions {
			samples[p] = s.elevationAt(pos, t)
		}
		frames = append(frames, wave.Frame{
			Seq:       s.nextSeq,
			Timestamp: s.baseTime.Add(time.Duration(t * float64(time.Second))),
			Samples:   samples,
		})
		s.nextSeq++
	}
	return frames, nil
}

// elevationAt evaluates the component sum at one probe position. Called
// with the source lock held.
func (s *Simulated) elevationAt(pos wave.ProbePosition, t float64) float64 {
	var eta float64
	for c, comp := range s.cfg.Components {
		theta := comp.DirectionDeg * math.Pi / 180
		k := s.waveNums[c]
		omega := 2 * math.Pi * comp.FrequencyHz
		phase := k*(pos.X*math.Cos(theta)+pos.Y*math.Sin(theta)) - omega*t + comp.PhaseRad
		eta += comp.AmplitudeM * math.Cos(phase)
	}
	if s.cfg.NoiseStdDev > 0 {
		eta += s.rng.NormFloat64() * s.cfg.NoiseStdDev
	}
	return eta
}

// Stop halts generation. A stopped source reports ErrSourceClosed.
func (s *Simulated) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
