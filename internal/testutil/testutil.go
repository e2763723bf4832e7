// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// SineFrames builds n single-channel frames carrying a sine of the
// given frequency and amplitude sampled at sampleRate, starting at the
// epoch. Handy for spectral tests that need a known peak.
func SineFrames(n int, freqHz, amplitude, sampleRate float64) []wave.Frame {
	frames := make([]wave.Frame, n)
	for i := 0; i < n; i++ {
		ts := float64(i) / sampleRate
		frames[i] = wave.Frame{
			Seq:       uint64(i),
			Timestamp: time.Unix(0, 0).Add(time.Duration(ts * float64(time.Second))),
			Samples:   []float64{amplitude * math.Sin(2*math.Pi*freqHz*ts)},
		}
	}
	return frames
}

// SquareArrayGeometry returns a four-probe square array with the given
// side length in metres, centred on the origin.
func SquareArrayGeometry(t *testing.T, side float64) *wave.ProbeGeometry {
	t.Helper()
	half := side / 2
	g, err := wave.NewProbeGeometry([]wave.ProbePosition{
		{X: -half, Y: -half},
		{X: half, Y: -half},
		{X: half, Y: half},
		{X: -half, Y: half},
	})
	if err != nil {
		t.Fatalf("square array geometry: %v", err)
	}
	return g
}
