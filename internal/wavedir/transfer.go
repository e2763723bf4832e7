package wavedir

import (
	"container/list"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/hydrolab-data/seastate/internal/wave"
)

type transferKey struct {
	freqBits uint64
	version  uint64
}

type transferEntry struct {
	key    transferKey
	matrix *mat.Dense
}

// transferCache memoizes probe transfer matrices per frequency. A
// geometry version change invalidates the whole cache; within one
// version the cache is bounded LRU. Entries are immutable and inserted
// only after construction completes.
type transferCache struct {
	mu          sync.Mutex
	cap         int
	order       *list.List
	items       map[transferKey]*list.Element
	lastVersion uint64

	hits      uint64
	misses    uint64
	evictions uint64
}

func newTransferCache(capacity int) *transferCache {
	return &transferCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[transferKey]*list.Element),
	}
}

// get returns the cached matrix for (freq, version), or nil on miss.
// Seeing a new geometry version drops every entry of the old one.
func (c *transferCache) get(freq float64, version uint64) *mat.Dense {
	key := transferKey{math.Float64bits(freq), version}

	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.lastVersion {
		c.order.Init()
		c.items = make(map[transferKey]*list.Element)
		c.lastVersion = version
	}
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		c.hits++
		return el.Value.(*transferEntry).matrix
	}
	c.misses++
	return nil
}

// put inserts a freshly built matrix. A racing insert for the same key
// keeps the first entry; an insert for a stale version is dropped.
func (c *transferCache) put(freq float64, version uint64, m *mat.Dense) {
	key := transferKey{math.Float64bits(freq), version}

	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.lastVersion {
		return
	}
	if _, ok := c.items[key]; ok {
		return
	}
	if c.order.Len() >= c.cap {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*transferEntry).key)
			c.evictions++
		}
	}
	c.items[key] = c.order.PushFront(&transferEntry{key: key, matrix: m})
}

func (c *transferCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.order.Len(),
	}
}

// buildTransferMatrix relates a directional energy distribution to the
// observable cross-spectra for one wavenumber. For each probe pair the
// matrix carries the real and imaginary parts of the propagation phase
// across the pair separation per direction bin; a final row of ones
// ties the distribution's total to the mean auto-spectrum.
func buildTransferMatrix(positions []wave.ProbePosition, k float64, directions []float64) *mat.Dense {
	n := len(positions)
	pairs := n * (n - 1) / 2
	rows := 2*pairs + 1
	a := mat.NewDense(rows, len(directions), nil)

	row := 0
	for m := 0; m < n; m++ {
		for p := m + 1; p < n; p++ {
			dx := positions[m].X - positions[p].X
			dy := positions[m].Y - positions[p].Y
			for j, theta := range directions {
				// Forward transform convention: a wave travelling along
				// +u shows phase -k r.u in the coefficients, so the
				// cross-spectrum picks up exp(-i k (r_m - r_p).u).
				alpha := -k * (dx*math.Cos(theta) + dy*math.Sin(theta))
				a.Set(row, j, math.Cos(alpha))
				a.Set(row+1, j, math.Sin(alpha))
			}
			row += 2
		}
	}
	for j := range directions {
		a.Set(rows-1, j, 1)
	}
	return a
}
