package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// DatagramReader yields recorded probe datagrams in capture order. The
// gopacket-backed implementation lives behind the pcap build tag;
// MockDatagramReader serves tests.
type DatagramReader interface {
	// Next returns the next datagram payload and its capture time, or
	// io.EOF when the recording is exhausted.
	Next() (payload []byte, captured time.Time, err error)

	// Close releases the underlying capture handle.
	Close() error
}

// ReplayConfig configures playback of a captured acquisition run.
type ReplayConfig struct {
	// Path is the capture file to replay.
	Path string `json:"path"`

	// UDPPort filters the capture to the probe datagram stream.
	UDPPort int `json:"udp_port"`

	ChannelCount int      `json:"channel_count"`
	SampleRate   float64  `json:"sample_rate"`
	Labels       []string `json:"labels,omitempty"`

	// OpenReader defaults to OpenPcap. Injectable for tests.
	OpenReader func(path string, udpPort int) (DatagramReader, error) `json:"-"`
}

// Validate rejects an unusable replay config.
func (c ReplayConfig) Validate() error {
	if c.Path == "" {
		return &wave.ValidationError{Field: "pcapPath", Reason: "required"}
	}
	if c.ChannelCount <= 0 || c.ChannelCount > maxChannels {
		return &wave.ValidationError{Field: "channelCount", Reason: fmt.Sprintf("must be in 1..%d, got %d", maxChannels, c.ChannelCount)}
	}
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return &wave.ValidationError{Field: "sampleRate", Reason: "must be positive and finite"}
	}
	return nil
}

// Replay plays a recorded datagram stream back through the source
// interface. Reads are synchronous pulls from the capture file, so no
// frame is ever dropped; pacing is the caller's concern. Exhausting the
// recording surfaces ErrSourceClosed, the signal for a clean end of
// session.
type Replay struct {
	cfg ReplayConfig

	mu        sync.Mutex
	reader    DatagramReader
	started   bool
	exhausted bool

	decodeErrors uint64
}

// NewReplay builds a replay source.
func NewReplay(cfg ReplayConfig) (*Replay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OpenReader == nil {
		cfg.OpenReader = OpenPcap
	}
	return &Replay{cfg: cfg}, nil
}

// Describe returns the stream properties.
func (r *Replay) Describe() Info {
	return Info{
		Name:          "replay:" + r.cfg.Path,
		ChannelCount:  r.cfg.ChannelCount,
		SampleRate:    r.cfg.SampleRate,
		ChannelLabels: defaultLabels(r.cfg.Labels, r.cfg.ChannelCount),
	}
}

// Start opens the capture file.
func (r *Replay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	reader, err := r.cfg.OpenReader(r.cfg.Path, r.cfg.UDPPort)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", r.cfg.Path, err)
	}
	r.reader = reader
	r.started = true
	r.exhausted = false
	return ctx.Err()
}

// PullSamples decodes up to max recorded datagrams. Undecodable or
// wrong-channel datagrams are skipped and counted.
func (r *Replay) PullSamples(ctx context.Context, max int) ([]wave.Frame, error) {
	if max <= 0 {
		return nil, &wave.ValidationError{Field: "max", Reason: "must be positive"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, fmt.Errorf("probe: replay source not started")
	}
	if r.exhausted {
		return nil, ErrSourceClosed
	}

	frames := make([]wave.Frame, 0, max)
	for len(frames) < max {
		if err := ctx.Err(); err != nil {
			if len(frames) > 0 {
				return frames, nil
			}
			return nil, err
		}
		payload, _, err := r.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.exhausted = true
				if len(frames) > 0 {
					return frames, nil
				}
				return nil, ErrSourceClosed
			}
			return frames, fmt.Errorf("probe: capture read: %w", err)
		}
		frame, err := DecodeDatagram(payload)
		if err != nil || len(frame.Samples) != r.cfg.ChannelCount {
			r.decodeErrors++
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// DecodeErrors reports how many recorded datagrams were skipped.
func (r *Replay) DecodeErrors() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decodeErrors
}

// Stop closes the capture handle.
func (r *Replay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false
	r.exhausted = true
	return r.reader.Close()
}

// MockDatagramReader implements DatagramReader over an in-memory packet
// list for testing replay without capture files.
type MockDatagramReader struct {
	mu      sync.Mutex
	packets [][]byte
	stamps  []time.Time
	index   int
	closed  bool
}

// NewMockDatagramReader creates a reader over the given payloads.
func NewMockDatagramReader(packets [][]byte) *MockDatagramReader {
	stamps := make([]time.Time, len(packets))
	base := time.Unix(0, 0)
	for i := range stamps {
		stamps[i] = base.Add(time.Duration(i) * 20 * time.Millisecond)
	}
	return &MockDatagramReader{packets: packets, stamps: stamps}
}

// Next pops the next payload, then io.EOF.
func (m *MockDatagramReader) Next() ([]byte, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, time.Time{}, errors.New("reader closed")
	}
	if m.index >= len(m.packets) {
		return nil, time.Time{}, io.EOF
	}
	p, ts := m.packets[m.index], m.stamps[m.index]
	m.index++
	return p, ts, nil
}

// Close marks the reader closed.
func (m *MockDatagramReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
