package probe

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydrolab-data/seastate/internal/monitoring"
	"github.com/hydrolab-data/seastate/internal/wave"
)

// UDPConfig configures a datagram-fed source.
type UDPConfig struct {
	// ListenAddr is the UDP host:port to bind, e.g. ":5599".
	ListenAddr string `json:"listen_addr"`

	// ChannelCount is the expected probe count; datagrams carrying a
	// different count are rejected and counted as decode errors.
	ChannelCount int `json:"channel_count"`

	// SampleRate is the nominal acquisition rate in Hz.
	SampleRate float64 `json:"sample_rate"`

	// ReadBufferBytes sizes the socket receive buffer. Zero keeps the
	// system default.
	ReadBufferBytes int `json:"read_buffer_bytes"`

	Labels []string `json:"labels,omitempty"`
}

// Validate rejects an unusable UDP source config.
func (c UDPConfig) Validate() error {
	if c.ListenAddr == "" {
		return &wave.ValidationError{Field: "listenAddr", Reason: "required"}
	}
	if c.ChannelCount <= 0 || c.ChannelCount > maxChannels {
		return &wave.ValidationError{Field: "channelCount", Reason: fmt.Sprintf("must be in 1..%d, got %d", maxChannels, c.ChannelCount)}
	}
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return &wave.ValidationError{Field: "sampleRate", Reason: "must be positive and finite"}
	}
	return nil
}

// UDPStats counts datagram traffic for the debug surfaces.
type UDPStats struct {
	Packets      uint64 `json:"packets"`
	Bytes        uint64 `json:"bytes"`
	DecodeErrors uint64 `json:"decode_errors"`
	Dropped      uint64 `json:"dropped"`
}

// UDP receives probe datagrams from the acquisition frontend over a
// UDP socket. The read loop uses short deadlines so shutdown is prompt,
// and never stalls on a slow consumer.
type UDP struct {
	cfg UDPConfig

	mu      sync.Mutex
	conn    *net.UDPConn
	queue   *intake
	started bool
	done    chan struct{}

	packets      atomic.Uint64
	bytes        atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewUDP builds a UDP source.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &UDP{cfg: cfg}, nil
}

// Describe returns the stream properties.
func (u *UDP) Describe() Info {
	return Info{
		Name:          "udp:" + u.cfg.ListenAddr,
		ChannelCount:  u.cfg.ChannelCount,
		SampleRate:    u.cfg.SampleRate,
		ChannelLabels: defaultLabels(u.cfg.Labels, u.cfg.ChannelCount),
	}
}

// Start binds the socket and launches the read loop.
func (u *UDP) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", u.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if u.cfg.ReadBufferBytes > 0 {
		if err := conn.SetReadBuffer(u.cfg.ReadBufferBytes); err != nil {
			monitoring.Logf("warning: failed to set UDP receive buffer to %d: %v", u.cfg.ReadBufferBytes, err)
		}
	}

	u.conn = conn
	u.queue = newIntake(4096)
	u.done = make(chan struct{})
	u.started = true
	monitoring.Logf("probe: UDP source listening on %s", conn.LocalAddr())

	go u.readLoop(conn, u.queue, u.done)
	return ctx.Err()
}

func (u *UDP) readLoop(conn *net.UDPConn, queue *intake, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 2048)
	for {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			// Closed socket ends the loop cleanly; anything else is a
			// source failure surfaced to the consumer.
			u.mu.Lock()
			started := u.started
			u.mu.Unlock()
			if !started {
				queue.close(nil)
				return
			}
			queue.close(fmt.Errorf("probe: UDP read: %w", err))
			return
		}

		u.packets.Add(1)
		u.bytes.Add(uint64(n))

		frame, err := DecodeDatagram(buf[:n])
		if err != nil {
			if u.decodeErrors.Add(1)%1000 == 1 {
				monitoring.Logf("probe: dropping undecodable datagram: %v", err)
			}
			continue
		}
		if len(frame.Samples) != u.cfg.ChannelCount {
			if u.decodeErrors.Add(1)%1000 == 1 {
				monitoring.Logf("probe: datagram channel count %d, expected %d", len(frame.Samples), u.cfg.ChannelCount)
			}
			continue
		}
		queue.push(frame)
	}
}

// PullSamples drains decoded frames from the intake queue.
func (u *UDP) PullSamples(ctx context.Context, max int) ([]wave.Frame, error) {
	u.mu.Lock()
	queue := u.queue
	u.mu.Unlock()
	if queue == nil {
		return nil, fmt.Errorf("probe: UDP source not started")
	}
	return queue.pull(ctx, max)
}

// LocalAddr reports the bound socket address, or nil before Start.
// Useful when the config used port 0.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Stats returns a snapshot of the traffic counters.
func (u *UDP) Stats() UDPStats {
	var dropped uint64
	u.mu.Lock()
	if u.queue != nil {
		dropped = u.queue.droppedCount()
	}
	u.mu.Unlock()
	return UDPStats{
		Packets:      u.packets.Load(),
		Bytes:        u.bytes.Load(),
		DecodeErrors: u.decodeErrors.Load(),
		Dropped:      dropped,
	}
}

// Stop closes the socket and waits for the read loop to exit.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		return nil
	}
	u.started = false
	conn := u.conn
	done := u.done
	queue := u.queue
	u.mu.Unlock()

	err := conn.Close()
	<-done
	queue.close(nil)
	return err
}
