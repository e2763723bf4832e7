package probe

import (
	"bytes"
	"io"
	"sync"
)

// MockPort implements Porter for testing the serial source without
// hardware. Tests feed frame lines in; anything the source writes is
// captured.
type MockPort struct {
	reader *io.PipeReader
	writer *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

// NewMockPort creates a connected mock port.
func NewMockPort() *MockPort {
	r, w := io.Pipe()
	return &MockPort{reader: r, writer: w}
}

// FeedLine delivers one line (newline appended) to the source's
// reader. Blocks until the reader consumes it.
func (m *MockPort) FeedLine(line string) error {
	_, err := m.writer.Write([]byte(line + "\n"))
	return err
}

// FailReads makes subsequent reads fail with err, simulating a
// disconnected device.
func (m *MockPort) FailReads(err error) {
	m.writer.CloseWithError(err)
}

// EndInput closes the feed side cleanly; the source sees EOF.
func (m *MockPort) EndInput() {
	m.writer.Close()
}

func (m *MockPort) Read(p []byte) (int, error) {
	return m.reader.Read(p)
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// Written returns everything the source wrote to the port.
func (m *MockPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// Close closes both pipe ends.
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.writer.Close()
	return m.reader.Close()
}
