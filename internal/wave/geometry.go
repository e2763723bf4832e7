package wave

import (
	"fmt"
	"math"
	"sync"
)

// ProbePosition locates one wave probe in basin coordinates, metres.
// X and Y span the basin plan; Z is height above the still-water line
// and is ignored by the surface-piercing array math.
type ProbePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ProbeGeometry is the ordered probe array layout. Every change bumps a
// version counter so downstream caches keyed on the layout can tell a
// stale transfer matrix from a current one.
type ProbeGeometry struct {
	mu        sync.RWMutex
	positions []ProbePosition
	version   uint64
}

// NewProbeGeometry validates the layout and returns a geometry at
// version 1. At least one probe is required and all coordinates must be
// finite; directional estimation additionally needs three or more
// probes, which the analyzer checks at analysis time.
func NewProbeGeometry(positions []ProbePosition) (*ProbeGeometry, error) {
	if err := validatePositions(positions); err != nil {
		return nil, err
	}
	g := &ProbeGeometry{
		positions: append([]ProbePosition(nil), positions...),
		version:   1,
	}
	return g, nil
}

func validatePositions(positions []ProbePosition) error {
	if len(positions) == 0 {
		return &ValidationError{Field: "probeGeometry", Reason: "at least one probe position required"}
	}
	for i, p := range positions {
		for _, c := range [3]float64{p.X, p.Y, p.Z} {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return &ValidationError{
					Field:  "probeGeometry",
					Reason: fmt.Sprintf("probe %d has a non-finite coordinate", i),
				}
			}
		}
	}
	return nil
}

// Positions returns a copy of the probe layout in array order.
func (g *ProbeGeometry) Positions() []ProbePosition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]ProbePosition(nil), g.positions...)
}

// Count returns the number of probes in the array.
func (g *ProbeGeometry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.positions)
}

// Version returns the current layout version. Versions start at 1 and
// only ever increase.
func (g *ProbeGeometry) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// SetPositions replaces the layout and bumps the version. The previous
// layout stays in effect when validation fails.
func (g *ProbeGeometry) SetPositions(positions []ProbePosition) error {
	if err := validatePositions(positions); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions = append([]ProbePosition(nil), positions...)
	g.version++
	return nil
}

// Snapshot returns the positions and the version they belong to in one
// consistent read.
func (g *ProbeGeometry) Snapshot() ([]ProbePosition, uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]ProbePosition(nil), g.positions...), g.version
}
