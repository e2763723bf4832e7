package wavedir

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/units"
	"github.com/hydrolab-data/seastate/internal/wave"
)

// Config tunes directional estimation.
type Config struct {
	// WaterDepth is the still-water depth at the array, metres.
	WaterDepth float64 `json:"water_depth_m"`

	// DirectionBins is the angular resolution of the estimated energy
	// distribution; 72 bins gives 5 degree spacing.
	DirectionBins int `json:"direction_bins"`

	// MinFrequencyHz and MaxFrequencyHz bound the analysis band. Zero
	// means no bound on that side; the DC bin is never analyzed.
	MinFrequencyHz float64 `json:"min_frequency_hz"`
	MaxFrequencyHz float64 `json:"max_frequency_hz"`

	// EnergyThresholdRatio selects which frequency bins are analyzed:
	// those whose mean auto-power reaches this fraction of the
	// strongest bin's.
	EnergyThresholdRatio float64 `json:"energy_threshold_ratio"`

	// MaxFrequencyBins caps the bins analyzed per window, strongest
	// kept.
	MaxFrequencyBins int `json:"max_frequency_bins"`

	// ConditionThreshold is the geometry condition number above which
	// estimates are flagged ill-conditioned and their confidence
	// reduced.
	ConditionThreshold float64 `json:"condition_threshold"`

	// TruncationRatio drops singular values below this fraction of the
	// largest when inverting the transfer matrix. It bounds how deep
	// into the weakly observed harmonics the solve reaches.
	TruncationRatio float64 `json:"truncation_ratio"`

	DispersionCacheSize int `json:"dispersion_cache_size"`
	TransferCacheSize   int `json:"transfer_cache_size"`
}

// DefaultConfig returns analysis defaults for the given water depth.
func DefaultConfig(waterDepth float64) Config {
	return Config{
		WaterDepth:           waterDepth,
		DirectionBins:        72,
		EnergyThresholdRatio: 0.1,
		MaxFrequencyBins:     8,
		ConditionThreshold:   100,
		TruncationRatio:      1e-3,
		DispersionCacheSize:  512,
		TransferCacheSize:    256,
	}
}

// Validate rejects an unusable analysis config.
func (c Config) Validate() error {
	if c.WaterDepth <= 0 || math.IsNaN(c.WaterDepth) || math.IsInf(c.WaterDepth, 0) {
		return &wave.ValidationError{Field: "waterDepth", Reason: fmt.Sprintf("must be positive and finite, got %v", c.WaterDepth)}
	}
	if c.DirectionBins < 8 {
		return &wave.ValidationError{Field: "directionBins", Reason: fmt.Sprintf("need at least 8 bins, got %d", c.DirectionBins)}
	}
	if c.MinFrequencyHz < 0 || math.IsNaN(c.MinFrequencyHz) {
		return &wave.ValidationError{Field: "minFrequencyHz", Reason: "must be non-negative"}
	}
	if c.MaxFrequencyHz < 0 || math.IsNaN(c.MaxFrequencyHz) {
		return &wave.ValidationError{Field: "maxFrequencyHz", Reason: "must be non-negative"}
	}
	if c.MaxFrequencyHz > 0 && c.MaxFrequencyHz <= c.MinFrequencyHz {
		return &wave.ValidationError{Field: "maxFrequencyHz", Reason: "band is empty"}
	}
	if c.EnergyThresholdRatio < 0 || c.EnergyThresholdRatio > 1 || math.IsNaN(c.EnergyThresholdRatio) {
		return &wave.ValidationError{Field: "energyThresholdRatio", Reason: "must be in [0, 1]"}
	}
	if c.MaxFrequencyBins <= 0 {
		return &wave.ValidationError{Field: "maxFrequencyBins", Reason: fmt.Sprintf("must be positive, got %d", c.MaxFrequencyBins)}
	}
	if c.ConditionThreshold <= 1 || math.IsNaN(c.ConditionThreshold) {
		return &wave.ValidationError{Field: "conditionThreshold", Reason: "must exceed 1"}
	}
	if c.TruncationRatio <= 0 || c.TruncationRatio >= 1 || math.IsNaN(c.TruncationRatio) {
		return &wave.ValidationError{Field: "truncationRatio", Reason: "must be in (0, 1)"}
	}
	if c.DispersionCacheSize <= 0 {
		return &wave.ValidationError{Field: "dispersionCacheSize", Reason: fmt.Sprintf("must be positive, got %d", c.DispersionCacheSize)}
	}
	if c.TransferCacheSize <= 0 {
		return &wave.ValidationError{Field: "transferCacheSize", Reason: fmt.Sprintf("must be positive, got %d", c.TransferCacheSize)}
	}
	return nil
}

// DirectionalEstimate is the directional energy distribution at one
// frequency. ConditionNumber and Residual are always populated so a
// consumer can judge the estimate even when no warning fired.
type DirectionalEstimate struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Wavenumber  float64 `json:"wavenumber"`

	// Energy is relative wave energy per direction bin, clamped
	// non-negative. Bin centers are in Analysis.DirectionsDeg.
	Energy []float64 `json:"energy"`

	MeanDirectionDeg float64 `json:"mean_direction_deg"`
	SpreadDeg        float64 `json:"spread_deg"`

	// ConditionNumber is the singular value ratio of the probe pair
	// separation matrix. Near 1 for a layout spanning both plan
	// dimensions evenly; it grows without bound as the probes approach
	// a line and direction becomes unresolvable across it.
	ConditionNumber float64 `json:"condition_number"`

	// Residual is the relative misfit between observed cross-spectra
	// and those reconstructed from the estimate.
	Residual float64 `json:"residual"`

	// Confidence is a 0..1 quality score, reduced by residual and by
	// ill conditioning.
	Confidence float64 `json:"confidence"`

	Warnings []wave.Warning `json:"warnings,omitempty"`
}

// Analysis is one window's directional result across the analyzed
// frequency bins.
type Analysis struct {
	Estimates []DirectionalEstimate `json:"estimates"`

	// DirectionsDeg holds the shared direction bin centers.
	DirectionsDeg []float64 `json:"directions_deg"`

	// MeanDirectionDeg and SpreadDeg aggregate the per-frequency
	// estimates weighted by their total energy.
	MeanDirectionDeg float64 `json:"mean_direction_deg"`
	SpreadDeg        float64 `json:"spread_deg"`

	GeometryVersion uint64         `json:"geometry_version"`
	Warnings        []wave.Warning `json:"warnings,omitempty"`
}

// Analyzer estimates directional wave energy from the per-probe
// spectra of one acquisition window. It owns a dispersion solver and a
// transfer matrix cache; both survive across windows.
type Analyzer struct {
	cfg        Config
	geometry   *wave.ProbeGeometry
	dispersion *DispersionSolver
	transfers  *transferCache
	directions []float64
}

// NewAnalyzer validates the config and binds the analyzer to a probe
// geometry. Layout changes through the geometry are picked up on the
// next Analyze call.
func NewAnalyzer(cfg Config, geometry *wave.ProbeGeometry) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if geometry == nil {
		return nil, &wave.ValidationError{Field: "probeGeometry", Reason: "geometry is required"}
	}
	solver, err := NewDispersionSolver(cfg.DispersionCacheSize)
	if err != nil {
		return nil, err
	}
	directions := make([]float64, cfg.DirectionBins)
	for j := range directions {
		directions[j] = 2 * math.Pi * float64(j) / float64(cfg.DirectionBins)
	}
	return &Analyzer{
		cfg:        cfg,
		geometry:   geometry,
		dispersion: solver,
		transfers:  newTransferCache(cfg.TransferCacheSize),
		directions: directions,
	}, nil
}

// Config returns the analysis configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Geometry returns the probe geometry the analyzer reads from.
func (a *Analyzer) Geometry() *wave.ProbeGeometry { return a.geometry }

// DispersionCacheStats returns the wavenumber cache counters.
func (a *Analyzer) DispersionCacheStats() CacheStats { return a.dispersion.CacheStats() }

// TransferCacheStats returns the transfer matrix cache counters.
func (a *Analyzer) TransferCacheStats() CacheStats { return a.transfers.stats() }

// Analyze estimates the directional energy distribution for every
// energetic frequency bin of one window, given one spectrum per probe
// in array order. Cancellation is honored between frequency bins; a
// cancelled call leaves both caches consistent and returns ctx.Err().
func (a *Analyzer) Analyze(ctx context.Context, spectra []*spectral.Spectrum) (*Analysis, error) {
	positions, version := a.geometry.Snapshot()
	if len(positions) < 3 {
		return nil, &wave.ValidationError{Field: "probeGeometry", Reason: fmt.Sprintf("directional estimation needs at least 3 probes, got %d", len(positions))}
	}
	if len(spectra) != len(positions) {
		return nil, &wave.ValidationError{Field: "spectra", Reason: fmt.Sprintf("got %d spectra for %d probes", len(spectra), len(positions))}
	}
	for i, sp := range spectra {
		if sp == nil {
			return nil, &wave.ValidationError{Field: "spectra", Reason: fmt.Sprintf("spectrum %d is nil", i)}
		}
		if len(sp.Coefficients) != len(spectra[0].Coefficients) {
			return nil, &wave.ValidationError{Field: "spectra", Reason: fmt.Sprintf("spectrum %d has %d bins, spectrum 0 has %d", i, len(sp.Coefficients), len(spectra[0].Coefficients))}
		}
	}

	result := &Analysis{
		DirectionsDeg:   a.directionsDeg(),
		GeometryVersion: version,
	}
	cond := geometryCondition(positions)
	for _, bin := range a.selectBins(spectra) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		est, err := a.estimateBin(positions, version, cond, spectra, bin)
		if err != nil {
			return nil, err
		}
		result.Estimates = append(result.Estimates, est)
		for _, w := range est.Warnings {
			if !wave.HasWarning(result.Warnings, w) {
				result.Warnings = append(result.Warnings, w)
			}
		}
	}

	result.MeanDirectionDeg, result.SpreadDeg = a.aggregateDirection(result.Estimates)
	return result, nil
}

func (a *Analyzer) directionsDeg() []float64 {
	deg := make([]float64, len(a.directions))
	for j, theta := range a.directions {
		deg[j] = units.RadToDeg(theta)
	}
	return deg
}

// selectBins picks the frequency bins worth a directional solve: those
// inside the configured band whose mean auto-power reaches the energy
// threshold, strongest first when capped, returned in frequency order.
func (a *Analyzer) selectBins(spectra []*spectral.Spectrum) []int {
	freqs := spectra[0].Frequencies
	power := make([]float64, len(freqs))
	var maxPower float64
	for i := 1; i < len(freqs); i++ {
		if freqs[i] < a.cfg.MinFrequencyHz {
			continue
		}
		if a.cfg.MaxFrequencyHz > 0 && freqs[i] > a.cfg.MaxFrequencyHz {
			break
		}
		var sum float64
		for _, sp := range spectra {
			c := sp.Coefficients[i]
			sum += real(c)*real(c) + imag(c)*imag(c)
		}
		power[i] = sum / float64(len(spectra))
		maxPower = math.Max(maxPower, power[i])
	}
	if maxPower == 0 {
		return nil
	}

	var bins []int
	for i := 1; i < len(power); i++ {
		if power[i] >= a.cfg.EnergyThresholdRatio*maxPower && power[i] > 0 {
			bins = append(bins, i)
		}
	}
	if len(bins) > a.cfg.MaxFrequencyBins {
		sort.Slice(bins, func(x, y int) bool { return power[bins[x]] > power[bins[y]] })
		bins = bins[:a.cfg.MaxFrequencyBins]
		sort.Ints(bins)
	}
	return bins
}

// estimateBin solves one frequency bin: wavenumber from dispersion,
// transfer matrix from the cache, directional distribution from a
// truncated SVD of the cross-spectral system.
func (a *Analyzer) estimateBin(positions []wave.ProbePosition, version uint64, cond float64, spectra []*spectral.Spectrum, bin int) (DirectionalEstimate, error) {
	freq := spectra[0].Frequencies[bin]
	disp, err := a.dispersion.Solve(units.HzToRadPerSec(freq), a.cfg.WaterDepth)
	if err != nil {
		return DirectionalEstimate{}, err
	}
	var warnings []wave.Warning
	if !disp.Converged {
		warnings = append(warnings, wave.WarnConvergence)
	}

	m := a.transfers.get(freq, version)
	if m == nil {
		m = buildTransferMatrix(positions, disp.Wavenumber, a.directions)
		a.transfers.put(freq, version, m)
	}

	b := crossSpectralVector(spectra, bin)
	energy, residual, err := solveDirectional(m, b, a.cfg.TruncationRatio)
	if err != nil {
		return DirectionalEstimate{}, err
	}

	meanDeg, spreadDeg := circularMoments(a.directions, energy)
	confidence := 1 - math.Min(residual, 1)
	if cond > a.cfg.ConditionThreshold {
		warnings = append(warnings, wave.WarnIllConditionedGeometry)
		confidence *= a.cfg.ConditionThreshold / cond
	}

	return DirectionalEstimate{
		FrequencyHz:      freq,
		Wavenumber:       disp.Wavenumber,
		Energy:           energy,
		MeanDirectionDeg: meanDeg,
		SpreadDeg:        spreadDeg,
		ConditionNumber:  cond,
		Residual:         residual,
		Confidence:       confidence,
		Warnings:         warnings,
	}, nil
}

// crossSpectralVector stacks the observed cross-spectra at one bin:
// real and imaginary parts per probe pair, then the mean auto-power.
func crossSpectralVector(spectra []*spectral.Spectrum, bin int) []float64 {
	n := len(spectra)
	pairs := n * (n - 1) / 2
	b := make([]float64, 2*pairs+1)

	row := 0
	for m := 0; m < n; m++ {
		for p := m + 1; p < n; p++ {
			cross := spectra[m].Coefficients[bin] * cmplx.Conj(spectra[p].Coefficients[bin])
			b[row] = real(cross)
			b[row+1] = imag(cross)
			row += 2
		}
	}
	var auto float64
	for _, sp := range spectra {
		c := sp.Coefficients[bin]
		auto += real(c)*real(c) + imag(c)*imag(c)
	}
	b[2*pairs] = auto / float64(n)
	return b
}

// solveDirectional computes the minimum-norm least squares directional
// distribution through a truncated SVD pseudo-inverse and reports the
// relative residual of the clamped solution, so degraded solves are
// visible even below the warning threshold.
func solveDirectional(a *mat.Dense, b []float64, truncation float64) (energy []float64, residual float64, err error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, 0, errors.New("seastate: directional svd failed to converge")
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rows, _ := a.Dims()
	var utb mat.VecDense
	utb.MulVec(u.T(), mat.NewVecDense(rows, b))

	w := make([]float64, len(s))
	floor := truncation * s[0]
	for i, sv := range s {
		if sv > floor {
			w[i] = utb.AtVec(i) / sv
		}
	}
	var e mat.VecDense
	e.MulVec(&v, mat.NewVecDense(len(w), w))

	energy = make([]float64, e.Len())
	for i := range energy {
		energy[i] = math.Max(0, e.AtVec(i))
	}

	var recon mat.VecDense
	recon.MulVec(a, mat.NewVecDense(len(energy), energy))
	var num, den float64
	for i := 0; i < rows; i++ {
		d := recon.AtVec(i) - b[i]
		num += d * d
		den += b[i] * b[i]
	}
	if den > 0 {
		residual = math.Sqrt(num / den)
	} else {
		residual = math.Sqrt(num)
	}
	return energy, residual, nil
}

// geometryCondition measures how evenly the probe pair separations
// span the basin plan, as the condition number of the separation
// matrix. A layout collapsing towards a line sends it to infinity.
func geometryCondition(positions []wave.ProbePosition) float64 {
	n := len(positions)
	d := mat.NewDense(n*(n-1)/2, 2, nil)
	row := 0
	for m := 0; m < n; m++ {
		for p := m + 1; p < n; p++ {
			d.Set(row, 0, positions[m].X-positions[p].X)
			d.Set(row, 1, positions[m].Y-positions[p].Y)
			row++
		}
	}

	var svd mat.SVD
	if !svd.Factorize(d, mat.SVDThin) {
		return math.MaxFloat64
	}
	s := svd.Values(nil)
	last := s[len(s)-1]
	if last <= 0 || s[0]/last >= math.MaxFloat64 {
		return math.MaxFloat64
	}
	return s[0] / last
}

// circularMoments reduces a directional distribution to its circular
// mean direction and standard deviation, in degrees.
func circularMoments(directions, energy []float64) (meanDeg, spreadDeg float64) {
	var sx, sy, total float64
	for j, theta := range directions {
		sx += energy[j] * math.Cos(theta)
		sy += energy[j] * math.Sin(theta)
		total += energy[j]
	}
	if total == 0 {
		return 0, 0
	}
	meanDeg = units.NormalizeDegrees(units.RadToDeg(math.Atan2(sy, sx)))
	r := math.Min(1, math.Hypot(sx, sy)/total)
	spreadDeg = units.RadToDeg(math.Sqrt(2 * (1 - r)))
	return meanDeg, spreadDeg
}

// aggregateDirection merges the per-frequency estimates into a single
// sea-state direction, each frequency weighted by its total energy.
func (a *Analyzer) aggregateDirection(estimates []DirectionalEstimate) (meanDeg, spreadDeg float64) {
	merged := make([]float64, len(a.directions))
	for _, est := range estimates {
		for j, e := range est.Energy {
			merged[j] += e
		}
	}
	return circularMoments(a.directions, merged)
}
