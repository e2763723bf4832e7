package spectral

import "github.com/mjibson/go-dsp/fft"

// genericCoefficients is the portable transform backend. It produces
// the same unnormalized one-sided coefficients as a planned transform
// for any input length, trading the precomputed factorizations for
// per-call setup.
func genericCoefficients(src []float64) []complex128 {
	full := fft.FFTReal(src)
	return full[:len(src)/2+1]
}
