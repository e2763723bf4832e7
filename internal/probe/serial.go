package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/hydrolab-data/seastate/internal/monitoring"
	"github.com/hydrolab-data/seastate/internal/wave"
)

// Porter is the minimal serial port surface the source needs. The
// abstraction enables unit testing without probe hardware attached.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens a serial port at the given path. Injectable so tests
// can substitute a mock port.
type PortOpener func(path string, baudRate int) (Porter, error)

// OpenSerialPort is the hardware-backed PortOpener, 8N1 at the given
// baud rate.
func OpenSerialPort(path string, baudRate int) (Porter, error) {
	return serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// SerialConfig configures a serial-line source. The frontend streams
// one JSON object per line:
//
//	{"seq":123,"t_ns":1700000000000000000,"v":[0.012,-0.003,0.008,0.001]}
type SerialConfig struct {
	// Path is the serial device, e.g. /dev/ttyUSB0.
	Path string `json:"path"`

	// BaudRate defaults to 115200.
	BaudRate int `json:"baud_rate"`

	ChannelCount int      `json:"channel_count"`
	SampleRate   float64  `json:"sample_rate"`
	Labels       []string `json:"labels,omitempty"`

	// Opener defaults to OpenSerialPort.
	Opener PortOpener `json:"-"`
}

// Validate rejects an unusable serial source config.
func (c SerialConfig) Validate() error {
	if c.Path == "" {
		return &wave.ValidationError{Field: "serialPath", Reason: "required"}
	}
	if c.ChannelCount <= 0 || c.ChannelCount > maxChannels {
		return &wave.ValidationError{Field: "channelCount", Reason: fmt.Sprintf("must be in 1..%d, got %d", maxChannels, c.ChannelCount)}
	}
	if c.SampleRate <= 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return &wave.ValidationError{Field: "sampleRate", Reason: "must be positive and finite"}
	}
	return nil
}

// serialLine is the wire shape of one frame on the serial link.
type serialLine struct {
	Seq       uint64    `json:"seq"`
	UnixNanos int64     `json:"t_ns"`
	Values    []float64 `json:"v"`
}

// Serial reads probe frames from a serial-attached acquisition
// frontend, one JSON line per frame.
type Serial struct {
	cfg SerialConfig

	mu      sync.Mutex
	port    Porter
	queue   *intake
	started bool
	done    chan struct{}

	lines       atomic.Uint64
	parseErrors atomic.Uint64
}

// NewSerial builds a serial source.
func NewSerial(cfg SerialConfig) (*Serial, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenSerialPort
	}
	return &Serial{cfg: cfg}, nil
}

// Describe returns the stream properties.
func (s *Serial) Describe() Info {
	return Info{
		Name:          "serial:" + s.cfg.Path,
		ChannelCount:  s.cfg.ChannelCount,
		SampleRate:    s.cfg.SampleRate,
		ChannelLabels: defaultLabels(s.cfg.Labels, s.cfg.ChannelCount),
	}
}

// Start opens the port and launches the line reader.
func (s *Serial) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	port, err := s.cfg.Opener(s.cfg.Path, s.cfg.BaudRate)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.cfg.Path, err)
	}
	s.port = port
	s.queue = newIntake(4096)
	s.done = make(chan struct{})
	s.started = true
	monitoring.Logf("probe: serial source reading %s at %d baud", s.cfg.Path, s.cfg.BaudRate)

	go s.readLoop(port, s.queue, s.done)
	return ctx.Err()
}

func (s *Serial) readLoop(port Porter, queue *intake, done chan struct{}) {
	defer close(done)
	scan := bufio.NewScanner(port)
	for scan.Scan() {
		s.lines.Add(1)
		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg serialLine
		if err := json.Unmarshal(line, &msg); err != nil {
			if s.parseErrors.Add(1)%1000 == 1 {
				monitoring.Logf("probe: dropping unparseable serial line: %v", err)
			}
			continue
		}
		if len(msg.Values) != s.cfg.ChannelCount {
			if s.parseErrors.Add(1)%1000 == 1 {
				monitoring.Logf("probe: serial frame carries %d channels, expected %d", len(msg.Values), s.cfg.ChannelCount)
			}
			continue
		}
		queue.push(wave.Frame{
			Seq:       msg.Seq,
			Timestamp: time.Unix(0, msg.UnixNanos),
			Samples:   msg.Values,
		})
	}

	if err := scan.Err(); err != nil {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			queue.close(fmt.Errorf("probe: serial read: %w", err))
			return
		}
	}
	queue.close(nil)
}

// PullSamples drains parsed frames from the intake queue.
func (s *Serial) PullSamples(ctx context.Context, max int) ([]wave.Frame, error) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return nil, fmt.Errorf("probe: serial source not started")
	}
	return queue.pull(ctx, max)
}

// Stop closes the port and waits for the reader to exit.
func (s *Serial) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	port := s.port
	done := s.done
	queue := s.queue
	s.mu.Unlock()

	err := port.Close()
	<-done
	queue.close(nil)
	return err
}
