// Package wave holds the shared domain types for wave-probe acquisition
// and analysis: sample frames, probe geometry, configuration enums, and
// the error taxonomy used across the service.
package wave

import (
	"math"
	"time"
)

// Frame is one timestamped vector of per-channel probe samples, in
// metres of surface elevation. A Frame is immutable once written to a
// buffer: producers must not reuse the Samples slice after handing the
// frame off.
type Frame struct {
	// Seq is the source-assigned sequence number, monotonic per source.
	Seq uint64 `json:"seq"`

	// Timestamp is the acquisition time of the sample vector.
	Timestamp time.Time `json:"timestamp"`

	// Samples holds one surface elevation per probe channel.
	Samples []float64 `json:"samples"`
}

// Clone returns a deep copy whose Samples slice shares no storage with
// the receiver.
func (f Frame) Clone() Frame {
	out := f
	out.Samples = make([]float64, len(f.Samples))
	copy(out.Samples, f.Samples)
	return out
}

// Finite reports whether every sample in the frame is a finite number.
func (f Frame) Finite() bool {
	for _, s := range f.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return false
		}
	}
	return true
}
