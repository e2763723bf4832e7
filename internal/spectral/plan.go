package spectral

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/hydrolab-data/seastate/internal/monitoring"
	"github.com/hydrolab-data/seastate/internal/wave"
)

// PlanKey identifies one transform configuration. Plans are shared by
// every window with the same key.
type PlanKey struct {
	WindowLength  int                 `json:"window_length"`
	Window        wave.WindowFunction `json:"window_function"`
	PaddingFactor int                 `json:"padding_factor"`
}

// Validate rejects a key that cannot produce a transform.
func (k PlanKey) Validate() error {
	if k.WindowLength <= 0 {
		return &wave.ValidationError{Field: "windowLength", Reason: fmt.Sprintf("must be positive, got %d", k.WindowLength)}
	}
	if !k.Window.IsValid() {
		return &wave.ValidationError{Field: "windowFunction", Reason: fmt.Sprintf("unknown window %q", k.Window)}
	}
	if k.PaddingFactor < 1 {
		return &wave.ValidationError{Field: "paddingFactor", Reason: fmt.Sprintf("must be at least 1, got %d", k.PaddingFactor)}
	}
	return nil
}

// transformLength is the padded length the transform runs at.
func (k PlanKey) transformLength() int {
	return k.WindowLength * k.PaddingFactor
}

// TransformPlan holds the precomputed state for one configuration:
// window coefficients, their coherent gain, and the planned transform.
// A plan is immutable after construction apart from the transform's
// internal scratch, which is serialized by the plan mutex.
type TransformPlan struct {
	key     PlanKey
	coeffs  []float64
	gain    float64
	generic bool

	mu  sync.Mutex
	fft *fourier.FFT
}

// Key returns the configuration this plan was built for.
func (p *TransformPlan) Key() PlanKey { return p.key }

// Generic reports whether the plan uses the portable fallback backend.
func (p *TransformPlan) Generic() bool { return p.generic }

// coefficients runs the forward real transform of src, which must have
// the plan's padded length, returning len/2+1 one-sided coefficients.
func (p *TransformPlan) coefficients(src []float64) []complex128 {
	if p.generic {
		return genericCoefficients(src)
	}
	dst := make([]complex128, len(src)/2+1)
	p.mu.Lock()
	p.fft.Coefficients(dst, src)
	p.mu.Unlock()
	return dst
}

// buildPlan constructs the transform state for a key. The planned
// backend precomputes factorizations sized to the padded length; the
// generic build skips that and transforms on demand.
func buildPlan(key PlanKey, generic bool) *TransformPlan {
	p := &TransformPlan{
		key:     key,
		coeffs:  windowCoefficients(key.Window, key.WindowLength),
		generic: generic,
	}
	p.gain = coherentGain(p.coeffs)
	if !generic {
		p.fft = fourier.NewFFT(key.transformLength())
	}
	return p
}

// PlanCacheStats counts plan cache traffic. Builds tracks how many
// times the costly construction actually ran.
type PlanCacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Builds uint64 `json:"builds"`
	Plans  int    `json:"plans"`
}

// PlanCache hands out transform plans, constructing each configuration
// once per process. Entries are inserted only after construction
// completes, so a cancelled or failed caller never leaves a partial
// plan behind.
type PlanCache struct {
	mu      sync.Mutex
	plans   map[PlanKey]*TransformPlan
	generic bool

	hits   uint64
	misses uint64
	builds uint64
}

// NewPlanCache creates an empty cache. When generic is true every plan
// it builds uses the portable transform backend.
func NewPlanCache(generic bool) *PlanCache {
	return &PlanCache{
		plans:   make(map[PlanKey]*TransformPlan),
		generic: generic,
	}
}

// Plan returns the cached plan for key, constructing it on first use.
// Both callers of a racing first use receive the same plan value.
func (c *PlanCache) Plan(key PlanKey) (*TransformPlan, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if p, ok := c.plans[key]; ok {
		c.hits++
		c.mu.Unlock()
		return p, nil
	}
	c.misses++
	c.mu.Unlock()

	built := buildPlan(key, c.generic)

	c.mu.Lock()
	if p, ok := c.plans[key]; ok {
		// Lost the construction race; keep the first plan.
		c.mu.Unlock()
		return p, nil
	}
	c.builds++
	c.plans[key] = built
	c.mu.Unlock()
	return built, nil
}

// Stats returns a snapshot of the cache counters.
func (c *PlanCache) Stats() PlanCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PlanCacheStats{
		Hits:   c.hits,
		Misses: c.misses,
		Builds: c.builds,
		Plans:  len(c.plans),
	}
}

// Keys returns the cached configurations, for the manifest.
func (c *PlanCache) Keys() []PlanKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]PlanKey, 0, len(c.plans))
	for k := range c.plans {
		keys = append(keys, k)
	}
	return keys
}

// SaveManifest writes the cached configurations to a JSON file so a
// later run can rebuild its plans up front.
func (c *PlanCache) SaveManifest(path string) error {
	data, err := json.MarshalIndent(c.Keys(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by SaveManifest and constructs
// every plan it names. Unknown or invalid entries are skipped with a
// log line; a missing file is not an error.
func (c *PlanCache) LoadManifest(path string) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("plan manifest must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read plan manifest: %w", err)
	}

	var keys []PlanKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("failed to parse plan manifest: %w", err)
	}
	for _, key := range keys {
		if _, err := c.Plan(key); err != nil {
			monitoring.Logf("spectral: skipping invalid manifest entry %+v: %v", key, err)
		}
	}
	return nil
}
