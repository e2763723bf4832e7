// Package sealstore reads and writes sealed session containers: a
// self-describing single-file format holding raw sample blocks and
// analysis blocks behind a JSON attribute header, closed with a
// SHA-256 seal over everything before it. The hash is maintained
// incrementally while writing, so sealing never re-reads the file, and
// verification streams the content back through the hash in chunks.
package sealstore

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hydrolab-data/seastate/internal/version"
	"github.com/hydrolab-data/seastate/internal/wave"
)

// FileExtension is the extension for sealed session containers.
const FileExtension = ".ssc"

// FormatVersion is the container layout version written into the
// attribute header.
const FormatVersion = 1

var containerMagic = [4]byte{'S', 'S', 'C', '1'}
var sealMagic = [4]byte{'S', 'E', 'A', 'L'}

// Seal trailer: magic, content length, SHA-256 digest.
const trailerSize = 4 + 8 + sha256.Size

// maxAttributeBytes bounds the attribute header a reader will accept.
const maxAttributeBytes = 1 << 20

// BlockType tags one data block. Readers skip types they do not know.
type BlockType string

const (
	// BlockRawSamples holds a batch of frames, encoded by EncodeFrames.
	BlockRawSamples BlockType = "RAWS"

	// BlockAnalysis holds one JSON analysis record.
	BlockAnalysis BlockType = "ANLY"

	// BlockStatistics holds one JSON scalar statistics record.
	BlockStatistics BlockType = "STAT"
)

// Attributes describe the session a container belongs to. They are
// stored as JSON right after the magic so any reader can interpret the
// file without external schema.
type Attributes struct {
	FormatVersion int    `json:"format_version"`
	AppVersion    string `json:"app_version"`
	SessionID     string `json:"session_id"`
	CreatedNs     int64  `json:"created_ns"`

	SampleRate    float64              `json:"sample_rate,omitempty"`
	ChannelCount  int                  `json:"channel_count,omitempty"`
	ChannelLabels []string             `json:"channel_labels,omitempty"`
	Probes        []wave.ProbePosition `json:"probes,omitempty"`
	WaterDepthM   float64              `json:"water_depth_m,omitempty"`
	Notes         string               `json:"notes,omitempty"`
}

// Writer appends blocks to a new container and seals it. Content bytes
// pass through the seal hash as they are written.
type Writer struct {
	mu   sync.Mutex
	path string

	f    *os.File
	bufw *bufio.Writer
	out  io.Writer
	hash hash.Hash

	offset   uint64
	blocks   uint64
	writeErr error
	sealed   bool
	closed   bool
}

// Create opens a new container at path and writes its attribute
// header. Missing bookkeeping attributes are filled in: format
// version, application version and creation time.
func Create(path string, attrs Attributes) (*Writer, error) {
	attrs.FormatVersion = FormatVersion
	if attrs.AppVersion == "" {
		attrs.AppVersion = version.String()
	}
	if attrs.CreatedNs == 0 {
		attrs.CreatedNs = time.Now().UnixNano()
	}

	attrData, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal container attributes: %w", err)
	}
	if len(attrData) > maxAttributeBytes {
		return nil, &wave.ValidationError{Field: "attributes", Reason: fmt.Sprintf("attribute header too large: %d bytes", len(attrData))}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	w := &Writer{
		path: path,
		f:    f,
		bufw: bufio.NewWriter(f),
		hash: sha256.New(),
	}
	w.out = io.MultiWriter(w.hash, w.bufw)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(attrData)))
	w.write(containerMagic[:])
	w.write(lenBuf[:])
	w.write(attrData)
	if w.writeErr != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write container header: %w", w.writeErr)
	}
	return w, nil
}

// write sends content bytes through the hash and the buffered file.
// The first failure sticks; a writer with a failed write refuses to
// seal.
func (w *Writer) write(p []byte) {
	if w.writeErr != nil {
		return
	}
	n, err := w.out.Write(p)
	if err != nil {
		w.writeErr = err
		return
	}
	w.offset += uint64(n)
}

// WriteBlock appends one typed block. The type must be exactly four
// bytes.
func (w *Writer) WriteBlock(blockType BlockType, payload []byte) error {
	if len(blockType) != 4 {
		return &wave.ValidationError{Field: "blockType", Reason: fmt.Sprintf("must be 4 bytes, got %q", blockType)}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("sealstore: writer is closed")
	}
	if w.sealed {
		return fmt.Errorf("sealstore: container already sealed")
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	w.write([]byte(blockType))
	w.write(lenBuf[:])
	w.write(payload)
	if w.writeErr != nil {
		return fmt.Errorf("failed to write %s block: %w", blockType, w.writeErr)
	}
	w.blocks++
	return nil
}

// WriteFrames appends a batch of frames as one raw samples block.
func (w *Writer) WriteFrames(frames []wave.Frame) error {
	payload, err := EncodeFrames(frames)
	if err != nil {
		return err
	}
	return w.WriteBlock(BlockRawSamples, payload)
}

// WriteJSONBlock marshals v and appends it under the given type.
func (w *Writer) WriteJSONBlock(blockType BlockType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s block: %w", blockType, err)
	}
	return w.WriteBlock(blockType, payload)
}

// Seal flushes the content, appends the seal trailer and syncs the
// file. The digest covers every byte before the trailer. A writer
// seals at most once; writing after Seal is rejected.
func (w *Writer) Seal() ([sha256.Size]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var digest [sha256.Size]byte
	if w.closed {
		return digest, fmt.Errorf("sealstore: writer is closed")
	}
	if w.sealed {
		return digest, fmt.Errorf("sealstore: container already sealed")
	}
	if w.writeErr != nil {
		return digest, fmt.Errorf("sealstore: cannot seal after write failure: %w", w.writeErr)
	}

	copy(digest[:], w.hash.Sum(nil))

	var trailer [trailerSize]byte
	copy(trailer[0:4], sealMagic[:])
	binary.LittleEndian.PutUint64(trailer[4:12], w.offset)
	copy(trailer[12:], digest[:])
	if _, err := w.bufw.Write(trailer[:]); err != nil {
		return digest, fmt.Errorf("failed to write seal: %w", err)
	}
	if err := w.bufw.Flush(); err != nil {
		return digest, fmt.Errorf("failed to flush container: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return digest, fmt.Errorf("failed to sync container: %w", err)
	}

	w.sealed = true
	return digest, nil
}

// Close releases the file. An unsealed container is flushed as is and
// stays readable; its verification reports the seal as missing.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.bufw.Flush(); err != nil && w.writeErr == nil {
		w.writeErr = err
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close container: %w", err)
	}
	return w.writeErr
}

// Path returns the container file path.
func (w *Writer) Path() string { return w.path }

// Sealed reports whether Seal has completed.
func (w *Writer) Sealed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sealed
}

// Offset returns the content length written so far, excluding any
// trailer.
func (w *Writer) Offset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// BlockCount returns the number of blocks written.
func (w *Writer) BlockCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocks
}
