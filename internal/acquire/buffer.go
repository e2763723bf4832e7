// Package acquire provides the fixed-capacity ring buffer that absorbs
// probe frames at the sampling cadence and hands them to analysis
// consumers in timestamp order.
package acquire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// Buffer is a mutex-guarded ring of frame slots. One producer writes at
// the sampling cadence; any number of consumers drain batches. The
// capacity and overflow policy are fixed at construction.
//
// The buffer is deliberately not lock-free: every index update happens
// inside one critical section, so a reader can never observe a frame
// assembled from two write generations.
type Buffer struct {
	mu     sync.Mutex
	slots  []slot
	head   int // oldest unread slot
	size   int // unread frame count
	policy wave.OverflowPolicy
	closed bool

	totalWritten  uint64
	totalRead     uint64
	overflowCount uint64
	highWater     int

	// Broadcast channels, closed to wake waiters and then replaced.
	// After Close both stay closed for good.
	notEmpty chan struct{}
	notFull  chan struct{}
}

// slot owns its sample storage so producer-side slice reuse can never
// tear a frame a consumer is about to read.
type slot struct {
	seq     uint64
	ts      time.Time
	samples []float64
}

func (s *slot) store(f wave.Frame) {
	s.seq = f.Seq
	s.ts = f.Timestamp
	if cap(s.samples) < len(f.Samples) {
		s.samples = make([]float64, len(f.Samples))
	}
	s.samples = s.samples[:len(f.Samples)]
	copy(s.samples, f.Samples)
}

func (s *slot) frame() wave.Frame {
	out := wave.Frame{Seq: s.seq, Timestamp: s.ts, Samples: make([]float64, len(s.samples))}
	copy(out.Samples, s.samples)
	return out
}

// Stats is a point-in-time snapshot of buffer counters.
type Stats struct {
	TotalWritten  uint64 `json:"total_written"`
	TotalRead     uint64 `json:"total_read"`
	OverflowCount uint64 `json:"overflow_count"`
	FillLevel     int    `json:"fill_level"`
	HighWaterMark int    `json:"high_water_mark"`
	Capacity      int    `json:"capacity"`
	Closed        bool   `json:"closed"`
}

// New constructs a buffer with the given slot capacity and overflow
// policy. Capacity must be positive and the policy one of the known
// values.
func New(capacity int, policy wave.OverflowPolicy) (*Buffer, error) {
	if capacity <= 0 {
		return nil, &wave.ValidationError{Field: "capacity", Reason: fmt.Sprintf("must be positive, got %d", capacity)}
	}
	if !policy.IsValid() {
		return nil, &wave.ValidationError{Field: "overflowPolicy", Reason: fmt.Sprintf("unknown policy %q", policy)}
	}
	return &Buffer{
		slots:    make([]slot, capacity),
		policy:   policy,
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
	}, nil
}

// Capacity returns the fixed slot count.
func (b *Buffer) Capacity() int { return len(b.slots) }

// Policy returns the overflow policy fixed at construction.
func (b *Buffer) Policy() wave.OverflowPolicy { return b.policy }

// Len returns the number of unread frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Write appends one frame. Under the block policy a full buffer parks
// the caller until a consumer frees a slot or the buffer closes; under
// overwrite-oldest the oldest unread frame is evicted and counted.
// Writing to a closed buffer returns ErrBufferClosed.
func (b *Buffer) Write(f wave.Frame) error {
	return b.WriteContext(context.Background(), f)
}

// WriteContext is Write with cancellation while parked on a full
// buffer.
func (b *Buffer) WriteContext(ctx context.Context, f wave.Frame) error {
	b.mu.Lock()
	for {
		if b.closed {
			b.mu.Unlock()
			return wave.ErrBufferClosed
		}
		if b.size < len(b.slots) {
			break
		}
		if b.policy == wave.OverflowOverwriteOldest {
			b.head = (b.head + 1) % len(b.slots)
			b.size--
			b.overflowCount++
			break
		}
		wait := b.notFull
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
		b.mu.Lock()
	}

	tail := (b.head + b.size) % len(b.slots)
	b.slots[tail].store(f)
	b.size++
	b.totalWritten++
	if b.size > b.highWater {
		b.highWater = b.size
	}
	b.wakeReadersLocked()
	b.mu.Unlock()
	return nil
}

// ReadBatch drains up to max oldest unread frames in timestamp order.
// It never blocks; with nothing unread it returns an empty batch, even
// after Close.
func (b *Buffer) ReadBatch(max int) []wave.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked(max)
}

// ReadBatchWait drains like ReadBatch but parks the caller until at
// least one frame is available, the timeout expires (ErrReadTimeout),
// the context is canceled, or the buffer closes while empty
// (ErrBufferClosed).
func (b *Buffer) ReadBatchWait(ctx context.Context, max int, timeout time.Duration) ([]wave.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	b.mu.Lock()
	for {
		if b.size > 0 {
			batch := b.drainLocked(max)
			b.mu.Unlock()
			return batch, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, wave.ErrBufferClosed
		}
		wait := b.notEmpty
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, wave.ErrReadTimeout
		case <-wait:
		}
		b.mu.Lock()
	}
}

func (b *Buffer) drainLocked(max int) []wave.Frame {
	if max <= 0 || b.size == 0 {
		return nil
	}
	n := b.size
	if n > max {
		n = max
	}
	batch := make([]wave.Frame, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, b.slots[b.head].frame())
		b.head = (b.head + 1) % len(b.slots)
		b.size--
		b.totalRead++
	}
	if n > 0 {
		b.wakeWritersLocked()
	}
	return batch
}

// Stats returns a consistent snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		TotalWritten:  b.totalWritten,
		TotalRead:     b.totalRead,
		OverflowCount: b.overflowCount,
		FillLevel:     b.size,
		HighWaterMark: b.highWater,
		Capacity:      len(b.slots),
		Closed:        b.closed,
	}
}

// Close stops further writes and wakes every parked writer and reader.
// Unread frames stay drainable through ReadBatch. Close is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notEmpty)
	close(b.notFull)
}

func (b *Buffer) wakeReadersLocked() {
	if b.closed {
		return
	}
	close(b.notEmpty)
	b.notEmpty = make(chan struct{})
}

func (b *Buffer) wakeWritersLocked() {
	if b.closed {
		return
	}
	close(b.notFull)
	b.notFull = make(chan struct{})
}
