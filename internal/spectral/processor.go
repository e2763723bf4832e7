package spectral

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// Config tunes spectrum computation and peak detection.
type Config struct {
	// SampleRate is the acquisition rate in Hz.
	SampleRate float64 `json:"sample_rate"`

	// WindowFunction tapers each window before the transform.
	WindowFunction wave.WindowFunction `json:"window_function"`

	// ZeroPaddingFactor multiplies the transform length. 1 disables
	// padding; higher values interpolate the spectrum for finer peak
	// localization.
	ZeroPaddingFactor int `json:"zero_padding_factor"`

	// PeakProminenceRatio rejects local maxima whose prominence falls
	// below this fraction of the strongest non-DC magnitude.
	PeakProminenceRatio float64 `json:"peak_prominence_ratio"`

	// MinPeakDistanceHz collapses peaks closer than this, keeping the
	// stronger one. Zero allows adjacent-bin peaks.
	MinPeakDistanceHz float64 `json:"min_peak_distance_hz"`

	// MaxPeaks caps the dominant peak list.
	MaxPeaks int `json:"max_peaks"`

	// GenericTransform forces the portable backend instead of planned
	// transforms.
	GenericTransform bool `json:"generic_transform"`
}

// DefaultConfig returns the processing defaults: Hann window, no
// padding, 5% prominence, up to 5 reported peaks.
func DefaultConfig(sampleRate float64) Config {
	return Config{
		SampleRate:          sampleRate,
		WindowFunction:      wave.WindowHann,
		ZeroPaddingFactor:   1,
		PeakProminenceRatio: 0.05,
		MinPeakDistanceHz:   0,
		MaxPeaks:            5,
	}
}

// Validate rejects an unusable processing config.
func (c Config) Validate() error {
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return &wave.ValidationError{Field: "sampleRate", Reason: fmt.Sprintf("must be positive and finite, got %v", c.SampleRate)}
	}
	if !c.WindowFunction.IsValid() {
		return &wave.ValidationError{Field: "windowFunction", Reason: fmt.Sprintf("unknown window %q", c.WindowFunction)}
	}
	if c.ZeroPaddingFactor < 1 {
		return &wave.ValidationError{Field: "zeroPaddingFactor", Reason: fmt.Sprintf("must be at least 1, got %d", c.ZeroPaddingFactor)}
	}
	if c.PeakProminenceRatio < 0 || c.PeakProminenceRatio > 1 || math.IsNaN(c.PeakProminenceRatio) {
		return &wave.ValidationError{Field: "peakProminenceRatio", Reason: "must be in [0, 1]"}
	}
	if c.MinPeakDistanceHz < 0 || math.IsNaN(c.MinPeakDistanceHz) {
		return &wave.ValidationError{Field: "minPeakDistanceHz", Reason: "must be non-negative"}
	}
	if c.MaxPeaks <= 0 {
		return &wave.ValidationError{Field: "maxPeaks", Reason: fmt.Sprintf("must be positive, got %d", c.MaxPeaks)}
	}
	return nil
}

// Peak is one detected spectral peak, refined to sub-bin accuracy.
type Peak struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Magnitude   float64 `json:"magnitude"`
	Bin         int     `json:"bin"`
}

// Spectrum is the one-sided amplitude spectrum of a sample window.
// Magnitudes are corrected for window attenuation, so a pure sinusoid
// of amplitude A shows a peak magnitude near A.
type Spectrum struct {
	Frequencies []float64 `json:"frequencies"`
	Magnitudes  []float64 `json:"magnitudes"`
	Phases      []float64 `json:"phases"`

	// PeakFrequency is the parabolic-refined frequency of the
	// strongest detected peak, 0 when the spectrum has none.
	PeakFrequency float64 `json:"peak_frequency"`

	// DominantPeaks lists detected peaks strongest first.
	DominantPeaks []Peak `json:"dominant_peaks"`

	WindowLength    int                 `json:"window_length"`
	TransformLength int                 `json:"transform_length"`
	WindowFunction  wave.WindowFunction `json:"window_function"`

	// Coefficients are the amplitude-normalized one-sided complex
	// coefficients, kept for cross-spectral analysis. Not serialized.
	Coefficients []complex128 `json:"-"`
}

// Processor computes spectra for one acquisition configuration,
// reusing transform plans across windows of the same shape.
type Processor struct {
	cfg   Config
	plans *PlanCache
}

// NewProcessor builds a processor with its own plan cache.
func NewProcessor(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{cfg: cfg, plans: NewPlanCache(cfg.GenericTransform)}, nil
}

// Config returns the processing configuration.
func (p *Processor) Config() Config { return p.cfg }

// Plans exposes the plan cache, for manifest save/load and stats.
func (p *Processor) Plans() *PlanCache { return p.plans }

// Compute transforms one channel's sample window into a spectrum.
// Empty windows are a ValidationError; non-finite samples are a
// DataIntegrityError naming the offending channel and index.
func (p *Processor) Compute(channel int, samples []float64) (*Spectrum, error) {
	if len(samples) == 0 {
		return nil, &wave.ValidationError{Field: "window", Reason: "sample window is empty"}
	}
	for i, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, &wave.DataIntegrityError{Channel: channel, Index: i, Reason: "non-finite sample"}
		}
	}

	key := PlanKey{
		WindowLength:  len(samples),
		Window:        p.cfg.WindowFunction,
		PaddingFactor: p.cfg.ZeroPaddingFactor,
	}
	plan, err := p.plans.Plan(key)
	if err != nil {
		return nil, err
	}

	padded := make([]float64, key.transformLength())
	for i, s := range samples {
		padded[i] = s * plan.coeffs[i]
	}

	raw := plan.coefficients(padded)
	n := len(raw)
	df := p.cfg.SampleRate / float64(len(padded))

	spec := &Spectrum{
		Frequencies:     make([]float64, n),
		Magnitudes:      make([]float64, n),
		Phases:          make([]float64, n),
		Coefficients:    make([]complex128, n),
		WindowLength:    key.WindowLength,
		TransformLength: key.transformLength(),
		WindowFunction:  key.Window,
	}

	// One-sided amplitude scaling: interior bins carry both halves of
	// the symmetric transform, DC and Nyquist only one.
	nyquist := len(padded)%2 == 0
	for i, c := range raw {
		scale := 2 / plan.gain
		if i == 0 || (nyquist && i == n-1) {
			scale = 1 / plan.gain
		}
		norm := c * complex(scale, 0)
		spec.Coefficients[i] = norm
		spec.Frequencies[i] = float64(i) * df
		spec.Magnitudes[i] = cmplx.Abs(norm)
		spec.Phases[i] = cmplx.Phase(norm)
	}

	spec.DominantPeaks = p.findPeaks(spec.Magnitudes, df)
	if len(spec.DominantPeaks) > 0 {
		spec.PeakFrequency = spec.DominantPeaks[0].FrequencyHz
	}
	return spec, nil
}

// findPeaks locates interior local maxima, keeps those prominent
// enough, separates near-coincident peaks, and refines the survivors
// to sub-bin frequencies. The DC bin is never a peak candidate.
func (p *Processor) findPeaks(mags []float64, df float64) []Peak {
	if len(mags) < 3 {
		return nil
	}

	var refMax float64
	for _, m := range mags[1:] {
		refMax = math.Max(refMax, m)
	}
	if refMax == 0 {
		return nil
	}
	minProminence := p.cfg.PeakProminenceRatio * refMax
	minDistanceBins := 1
	if p.cfg.MinPeakDistanceHz > 0 {
		if b := int(p.cfg.MinPeakDistanceHz / df); b > 1 {
			minDistanceBins = b
		}
	}

	var peaks []Peak
	for i := 1; i < len(mags)-1; i++ {
		if mags[i] <= mags[i-1] || mags[i] <= mags[i+1] {
			continue
		}
		if prominence(mags, i) < minProminence {
			continue
		}

		keep := true
		for j := 0; j < len(peaks); j++ {
			if abs(peaks[j].Bin-i) >= minDistanceBins {
				continue
			}
			if mags[i] > peaks[j].Magnitude {
				peaks = append(peaks[:j], peaks[j+1:]...)
				j--
				continue
			}
			keep = false
			break
		}
		if keep {
			peaks = append(peaks, Peak{FrequencyHz: float64(i) * df, Magnitude: mags[i], Bin: i})
		}
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Magnitude > peaks[j].Magnitude })
	if len(peaks) > p.cfg.MaxPeaks {
		peaks = peaks[:p.cfg.MaxPeaks]
	}
	for i := range peaks {
		peaks[i] = refinePeak(mags, peaks[i], df)
	}
	return peaks
}

// prominence measures how far a local maximum rises above the higher
// of the valley floors separating it from taller spectrum regions.
func prominence(mags []float64, idx int) float64 {
	leftFloor := mags[idx]
	for i := idx - 1; i >= 0; i-- {
		if mags[i] > mags[idx] {
			break
		}
		leftFloor = math.Min(leftFloor, mags[i])
	}
	rightFloor := mags[idx]
	for i := idx + 1; i < len(mags); i++ {
		if mags[i] > mags[idx] {
			break
		}
		rightFloor = math.Min(rightFloor, mags[i])
	}
	return mags[idx] - math.Max(leftFloor, rightFloor)
}

// refinePeak fits a parabola through the peak bin and its neighbors
// for sub-bin frequency and magnitude estimates.
func refinePeak(mags []float64, peak Peak, df float64) Peak {
	i := peak.Bin
	if i <= 0 || i >= len(mags)-1 {
		return peak
	}
	y1, y2, y3 := mags[i-1], mags[i], mags[i+1]
	denom := 2 * (2*y2 - y1 - y3)
	if math.Abs(denom) < 1e-12 {
		return peak
	}
	offset := (y3 - y1) / denom
	a := 0.5 * (y1 - 2*y2 + y3)
	b := 0.5 * (y3 - y1)
	peak.FrequencyHz = (float64(i) + offset) * df
	peak.Magnitude = y2 + a*offset*offset + b*offset
	return peak
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
