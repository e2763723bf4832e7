// Package probe defines the data-source abstraction that feeds the
// acquisition pipeline, with simulated, serial, UDP, and capture-replay
// implementations behind one interface.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// ErrSourceClosed is returned by PullSamples once a source has stopped
// and its remaining frames are drained. For file-backed sources this is
// the normal end of the recording.
var ErrSourceClosed = errors.New("probe: source closed")

// Info describes a source's static stream properties.
type Info struct {
	Name          string   `json:"name"`
	ChannelCount  int      `json:"channel_count"`
	SampleRate    float64  `json:"sample_rate"`
	ChannelLabels []string `json:"channel_labels"`
}

// Source abstracts a wave-probe acquisition device. Implementations are
// interchangeable: the demo-capable simulated source satisfies the same
// contract as the hardware-backed ones.
type Source interface {
	// Describe returns static stream properties. Valid before Start.
	Describe() Info

	// Start begins producing samples. The context bounds startup only;
	// production ends with Stop.
	Start(ctx context.Context) error

	// PullSamples returns between 1 and max frames in timestamp order,
	// blocking until data arrives, the context ends, or the source is
	// exhausted (ErrSourceClosed).
	PullSamples(ctx context.Context, max int) ([]wave.Frame, error)

	// Stop halts production and releases resources. Idempotent.
	Stop() error
}

// defaultLabels fills channel labels up to count, generating wp1..wpN
// names for any the config leaves blank.
func defaultLabels(labels []string, count int) []string {
	out := make([]string, count)
	for i := 0; i < count; i++ {
		if i < len(labels) && labels[i] != "" {
			out[i] = labels[i]
		} else {
			out[i] = fmt.Sprintf("wp%d", i+1)
		}
	}
	return out
}

// intake buffers decoded frames between a device reader goroutine and
// PullSamples. When the reader outruns the consumer the oldest frames
// are dropped so the device read loop never stalls.
type intake struct {
	mu      sync.Mutex
	frames  []wave.Frame
	cap     int
	dropped uint64
	closed  bool
	failure error
	wake    chan struct{}
}

func newIntake(capacity int) *intake {
	if capacity <= 0 {
		capacity = 1024
	}
	return &intake{cap: capacity, wake: make(chan struct{}, 1)}
}

// push appends one frame, evicting the oldest when at capacity. Frames
// pushed after close are dropped silently.
func (q *intake) push(f wave.Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.frames) >= q.cap {
		q.frames = q.frames[1:]
		q.dropped++
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pull returns up to max frames, blocking until at least one arrives,
// ctx ends, or the intake closes with nothing left.
func (q *intake) pull(ctx context.Context, max int) ([]wave.Frame, error) {
	if max <= 0 {
		return nil, &wave.ValidationError{Field: "max", Reason: "must be positive"}
	}
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			n := len(q.frames)
			if n > max {
				n = max
			}
			batch := make([]wave.Frame, n)
			copy(batch, q.frames[:n])
			q.frames = append(q.frames[:0], q.frames[n:]...)
			q.mu.Unlock()
			return batch, nil
		}
		if q.closed {
			err := q.failure
			q.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, ErrSourceClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// close marks the intake finished. A non-nil failure is reported to the
// consumer once the remaining frames drain.
func (q *intake) close(failure error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.failure = failure
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *intake) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
