// Package wavedir estimates how wave energy is distributed over
// frequency and direction from an array of spatially separated probes,
// and derives the scalar sea-state statistics reported to operators.
package wavedir

import (
	"container/list"
	"fmt"
	"math"
	"sync"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// Standard gravity, m/s^2.
const gravity = 9.80665

// Newton iteration limits for the dispersion solve.
const (
	dispersionMaxIter = 50
	dispersionRelTol  = 1e-12
)

// DispersionResult is a solved wavenumber for one (angular frequency,
// depth) pair. Converged is false when the iteration stopped short of
// tolerance; the wavenumber is then the asymptotic seed, never NaN.
type DispersionResult struct {
	Wavenumber float64
	Converged  bool
}

// CacheStats counts hits, misses and evictions for one of the analyzer
// caches.
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

type dispersionKey struct {
	omegaBits uint64
	depthBits uint64
}

type dispersionEntry struct {
	key    dispersionKey
	result DispersionResult
}

// DispersionSolver solves the water-wave dispersion relation
//
//	omega^2 = g k tanh(k d)
//
// for the wavenumber k, memoizing results in a bounded LRU cache keyed
// by (angular frequency, depth). Entries are immutable once inserted;
// an insert happens only after the solve completes.
type DispersionSolver struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[dispersionKey]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewDispersionSolver creates a solver whose cache holds at most
// cacheSize entries. cacheSize must be positive.
func NewDispersionSolver(cacheSize int) (*DispersionSolver, error) {
	if cacheSize <= 0 {
		return nil, &wave.ValidationError{Field: "dispersionCacheSize", Reason: fmt.Sprintf("must be positive, got %d", cacheSize)}
	}
	return &DispersionSolver{
		cap:   cacheSize,
		order: list.New(),
		items: make(map[dispersionKey]*list.Element),
	}, nil
}

// Solve returns the wavenumber for angular frequency omega (rad/s) in
// water of the given depth (m). Non-positive or non-finite inputs are
// rejected. A non-convergent iteration is reported through the
// Converged flag together with the asymptotic fallback wavenumber.
func (s *DispersionSolver) Solve(omega, depth float64) (DispersionResult, error) {
	if omega <= 0 || math.IsNaN(omega) || math.IsInf(omega, 0) {
		return DispersionResult{}, &wave.ValidationError{Field: "omega", Reason: fmt.Sprintf("angular frequency must be positive and finite, got %v", omega)}
	}
	if depth <= 0 || math.IsNaN(depth) || math.IsInf(depth, 0) {
		return DispersionResult{}, &wave.ValidationError{Field: "waterDepth", Reason: fmt.Sprintf("depth must be positive and finite, got %v", depth)}
	}

	key := dispersionKey{math.Float64bits(omega), math.Float64bits(depth)}

	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		s.order.MoveToFront(el)
		s.hits++
		res := el.Value.(*dispersionEntry).result
		s.mu.Unlock()
		return res, nil
	}
	s.misses++
	s.mu.Unlock()

	// Solve outside the lock; a racing solve for the same key lands on
	// the identical value.
	res := solveDispersion(omega, depth)

	s.mu.Lock()
	if _, ok := s.items[key]; !ok {
		if s.order.Len() >= s.cap {
			oldest := s.order.Back()
			if oldest != nil {
				s.order.Remove(oldest)
				delete(s.items, oldest.Value.(*dispersionEntry).key)
				s.evictions++
			}
		}
		s.items[key] = s.order.PushFront(&dispersionEntry{key: key, result: res})
	}
	s.mu.Unlock()
	return res, nil
}

// CacheStats returns a snapshot of the cache counters.
func (s *DispersionSolver) CacheStats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CacheStats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Entries:   s.order.Len(),
	}
}

// solveDispersion runs Newton iteration seeded by the deep- or
// shallow-water asymptote, picked by the regime parameter
// x = omega^2 d / g.
func solveDispersion(omega, depth float64) DispersionResult {
	x := omega * omega * depth / gravity

	var k float64
	if x >= 3 {
		// Deep water: tanh(kd) ~ 1, k ~ omega^2/g.
		k = omega * omega / gravity
	} else {
		// Shallow water: tanh(kd) ~ kd, k ~ omega/sqrt(g d).
		k = omega / math.Sqrt(gravity*depth)
	}
	seed := k

	for i := 0; i < dispersionMaxIter; i++ {
		kd := k * depth
		tanh := math.Tanh(kd)
		f := gravity*k*tanh - omega*omega
		// d/dk [g k tanh(kd)] = g tanh(kd) + g k d sech^2(kd)
		cosh := math.Cosh(kd)
		fp := gravity*tanh + gravity*kd/(cosh*cosh)
		if fp == 0 {
			break
		}
		next := k - f/fp
		if next <= 0 || math.IsNaN(next) || math.IsInf(next, 0) {
			break
		}
		if math.Abs(next-k) <= dispersionRelTol*next {
			return DispersionResult{Wavenumber: next, Converged: true}
		}
		k = next
	}
	return DispersionResult{Wavenumber: seed, Converged: false}
}
