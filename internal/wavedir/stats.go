package wavedir

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/units"
	"github.com/hydrolab-data/seastate/internal/wave"
)

// WaveStatistics summarizes one elevation record as the scalar numbers
// operators read off a sea state: crossing-based heights and periods,
// spectral heights and periods, and a Rayleigh height-distribution fit.
// All lengths are metres, all periods seconds.
type WaveStatistics struct {
	// Zero-down-crossing wave statistics.
	WaveCount         int     `json:"wave_count"`
	SignificantHeight float64 `json:"significant_height_m"`
	MaxHeight         float64 `json:"max_height_m"`
	MeanPeriod        float64 `json:"mean_period_s"`

	// Spectral statistics. Hm0 comes from the elevation variance;
	// the mean periods come from spectral moment ratios.
	Hm0            float64 `json:"hm0_m"`
	MeanPeriodTm01 float64 `json:"mean_period_tm01_s"`
	MeanPeriodTm02 float64 `json:"mean_period_tm02_s"`
	PeakPeriod     float64 `json:"peak_period_s"`

	// Rayleigh fit over the individual wave heights. Goodness is
	// 1 minus the Kolmogorov-Smirnov distance, so 1 is a perfect fit.
	RayleighSigma    float64 `json:"rayleigh_sigma_m"`
	RayleighGoodness float64 `json:"rayleigh_goodness"`
}

// zeroCrossingWave is one wave between consecutive down-crossings.
type zeroCrossingWave struct {
	height float64
	period float64
}

// ComputeStatistics reduces one channel's elevation record to scalar
// sea-state statistics. The spectrum is the same window's, used for
// the moment-based periods; pass nil to skip those. A record too short
// to hold a single wave yields zero crossing statistics, never NaN.
func ComputeStatistics(elevation []float64, sampleRate float64, spectrum *spectral.Spectrum) (*WaveStatistics, error) {
	if len(elevation) < 4 {
		return nil, &wave.ValidationError{Field: "elevation", Reason: fmt.Sprintf("record too short for statistics, got %d samples", len(elevation))}
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, &wave.ValidationError{Field: "sampleRate", Reason: fmt.Sprintf("must be positive and finite, got %v", sampleRate)}
	}
	for i, s := range elevation {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, &wave.DataIntegrityError{Channel: 0, Index: i, Reason: "non-finite sample"}
		}
	}

	mean := stat.Mean(elevation, nil)
	centered := make([]float64, len(elevation))
	for i, s := range elevation {
		centered[i] = s - mean
	}

	stats := &WaveStatistics{
		Hm0: 4 * math.Sqrt(stat.Variance(elevation, nil)),
	}

	waves := detectWaves(centered, sampleRate)
	stats.WaveCount = len(waves)
	if len(waves) > 0 {
		heights := make([]float64, len(waves))
		var periodSum float64
		for i, w := range waves {
			heights[i] = w.height
			periodSum += w.period
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(heights)))

		// Significant height is the mean of the highest third.
		top := (len(heights) + 2) / 3
		stats.SignificantHeight = stat.Mean(heights[:top], nil)
		stats.MaxHeight = heights[0]
		stats.MeanPeriod = periodSum / float64(len(waves))

		stats.RayleighSigma, stats.RayleighGoodness = fitRayleigh(heights)
	}

	if spectrum != nil {
		m0, m1, m2 := spectralMoments(spectrum)
		if m1 > 0 {
			stats.MeanPeriodTm01 = m0 / m1
		}
		if m2 > 0 {
			stats.MeanPeriodTm02 = math.Sqrt(m0 / m2)
		}
		stats.PeakPeriod = units.FrequencyToPeriod(spectrum.PeakFrequency)
	}
	return stats, nil
}

// detectWaves splits a demeaned record at zero down-crossings. Each
// wave's height is its crest-to-trough excursion; its period spans
// interpolated crossing times.
func detectWaves(centered []float64, sampleRate float64) []zeroCrossingWave {
	type crossing struct {
		index int
		t     float64
	}
	var crossings []crossing
	for i := 1; i < len(centered); i++ {
		if centered[i-1] >= 0 && centered[i] < 0 {
			// Interpolate the crossing instant between the samples.
			frac := centered[i-1] / (centered[i-1] - centered[i])
			crossings = append(crossings, crossing{
				index: i,
				t:     (float64(i-1) + frac) / sampleRate,
			})
		}
	}
	if len(crossings) < 2 {
		return nil
	}

	waves := make([]zeroCrossingWave, 0, len(crossings)-1)
	for k := 0; k+1 < len(crossings); k++ {
		lo, hi := centered[crossings[k].index], centered[crossings[k].index]
		for i := crossings[k].index; i < crossings[k+1].index; i++ {
			lo = math.Min(lo, centered[i])
			hi = math.Max(hi, centered[i])
		}
		waves = append(waves, zeroCrossingWave{
			height: hi - lo,
			period: crossings[k+1].t - crossings[k].t,
		})
	}
	return waves
}

// fitRayleigh fits the reference height distribution to the observed
// waves and scores the fit. Fewer than three waves is too little to
// judge, reported as a zero fit.
func fitRayleigh(heights []float64) (sigma, goodness float64) {
	if len(heights) < 3 {
		return 0, 0
	}
	var sumSq float64
	for _, h := range heights {
		sumSq += h * h
	}
	sigma = math.Sqrt(sumSq / (2 * float64(len(heights))))
	if sigma == 0 {
		return 0, 0
	}

	dist := distuv.Rayleigh{Sigma: sigma}
	sorted := append([]float64(nil), heights...)
	sort.Float64s(sorted)

	// Kolmogorov-Smirnov distance between the empirical and fitted
	// distributions.
	n := float64(len(sorted))
	var d float64
	for i, h := range sorted {
		f := dist.CDF(h)
		d = math.Max(d, math.Max(f-float64(i)/n, float64(i+1)/n-f))
	}
	return sigma, math.Max(0, 1-d)
}

// spectralMoments sums the relative moments m0, m1, m2 over the
// non-DC bins. The absolute scale cancels in the period ratios, which
// keeps the periods independent of zero padding.
func spectralMoments(spectrum *spectral.Spectrum) (m0, m1, m2 float64) {
	for i := 1; i < len(spectrum.Magnitudes); i++ {
		f := spectrum.Frequencies[i]
		e := spectrum.Magnitudes[i] * spectrum.Magnitudes[i] / 2
		m0 += e
		m1 += e * f
		m2 += e * f * f
	}
	return m0, m1, m2
}
