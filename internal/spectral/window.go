// Package spectral turns windows of surface-elevation samples into
// frequency spectra. Transform state is planned once per configuration
// and cached; a portable generic backend stands in when the planned
// backend is disabled.
package spectral

import (
	"math"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// windowCoefficients generates symmetric window coefficients of the
// given length. Length 1 degenerates to a single unity coefficient for
// every shape.
func windowCoefficients(fn wave.WindowFunction, n int) []float64 {
	coeffs := make([]float64, n)
	if n == 1 {
		coeffs[0] = 1
		return coeffs
	}
	den := float64(n - 1)

	switch fn {
	case wave.WindowHann:
		for i := range coeffs {
			coeffs[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/den))
		}
	case wave.WindowHamming:
		for i := range coeffs {
			coeffs[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/den)
		}
	case wave.WindowBlackman:
		for i := range coeffs {
			arg := 2 * math.Pi * float64(i) / den
			coeffs[i] = 0.42 - 0.5*math.Cos(arg) + 0.08*math.Cos(2*arg)
		}
	default: // rectangular
		for i := range coeffs {
			coeffs[i] = 1
		}
	}
	return coeffs
}

// coherentGain is the sum of the window coefficients, the factor a
// windowed transform attenuates a coherent sinusoid by.
func coherentGain(coeffs []float64) float64 {
	var sum float64
	for _, c := range coeffs {
		sum += c
	}
	return sum
}
