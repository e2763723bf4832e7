package wave

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the acquisition and persistence layers.
// Callers check them with errors.Is.
var (
	// ErrBufferClosed is returned when writing to or waiting on a
	// closed acquisition buffer.
	ErrBufferClosed = errors.New("seastate: buffer closed")

	// ErrReadTimeout is returned when a blocking batch read expires
	// before any frame arrives.
	ErrReadTimeout = errors.New("seastate: read timed out")

	// ErrIntegrityViolation is returned when a sealed container's
	// content hash does not match its seal. The data stays readable for
	// forensic inspection but must not be trusted.
	ErrIntegrityViolation = errors.New("seastate: container content hash mismatch")

	// ErrIntegrityUnknown is returned when a container carries no seal,
	// typically a legacy or truncated recording.
	ErrIntegrityUnknown = errors.New("seastate: container has no seal")

	// ErrInvalidTransition is returned when an operator command is not
	// legal in the pipeline's current state.
	ErrInvalidTransition = errors.New("seastate: invalid state transition")

	// ErrNoResult is returned when a latest-result query arrives before
	// any analysis has completed.
	ErrNoResult = errors.New("seastate: no result available yet")
)

// ValidationError reports configuration rejected at the boundary,
// before any part of it takes effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("seastate: invalid %s: %s", e.Field, e.Reason)
}

// DataIntegrityError reports corrupt or non-finite samples. The
// offending window is skipped and the error surfaced; acquisition
// itself continues.
type DataIntegrityError struct {
	Channel int
	Index   int
	Reason  string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("seastate: corrupt sample on channel %d at index %d: %s", e.Channel, e.Index, e.Reason)
}

// Warning flags a non-fatal numerical degradation. Warnings travel
// embedded in the result they describe so consumers can decide how to
// react; they never abort the pipeline.
type Warning string

const (
	// WarnConvergence marks a dispersion solve that stopped short of
	// tolerance; the attached wavenumber is an asymptotic fallback.
	WarnConvergence Warning = "dispersion_convergence"

	// WarnIllConditionedGeometry marks a directional estimate produced
	// from a near-degenerate probe layout; confidence is reduced.
	WarnIllConditionedGeometry Warning = "ill_conditioned_geometry"

	// WarnPersistenceBackpressure marks a session whose persistence
	// queue filled during acquisition and throttled the analysis side.
	WarnPersistenceBackpressure Warning = "persistence_backpressure"
)

// String returns the string representation of the warning.
func (w Warning) String() string {
	return string(w)
}

// HasWarning reports whether w appears in warnings.
func HasWarning(warnings []Warning, w Warning) bool {
	for _, have := range warnings {
		if have == w {
			return true
		}
	}
	return false
}
