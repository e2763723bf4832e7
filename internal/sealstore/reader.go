package sealstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// Reader reads a container's attributes and blocks, and verifies its
// seal. A container that fails verification stays fully readable; the
// violation travels as the Verify error only.
type Reader struct {
	mu   sync.Mutex
	path string
	f    *os.File

	attrs      Attributes
	firstBlock uint64
	contentEnd uint64

	sealed bool
	seal   [sha256.Size]byte
	next   uint64
}

// Open reads the container header and probes for a seal trailer. A
// trailer is recognized only at the exact end of the file; a truncated
// or never-sealed container reads as unsealed.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	r := &Reader{path: path, f: f}
	if err := r.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.probeSeal(); err != nil {
		f.Close()
		return nil, err
	}
	r.next = r.firstBlock
	return r, nil
}

func (r *Reader) readHeader() error {
	var hdr [8]byte
	if _, err := io.ReadFull(r.f, hdr[:]); err != nil {
		return fmt.Errorf("failed to read container header: %w", err)
	}
	if [4]byte(hdr[0:4]) != containerMagic {
		return fmt.Errorf("sealstore: %s is not a sealed session container", r.path)
	}
	attrLen := binary.LittleEndian.Uint32(hdr[4:8])
	if attrLen > maxAttributeBytes {
		return fmt.Errorf("sealstore: attribute header of %d bytes exceeds limit", attrLen)
	}

	attrData := make([]byte, attrLen)
	if _, err := io.ReadFull(r.f, attrData); err != nil {
		return fmt.Errorf("failed to read container attributes: %w", err)
	}
	if err := json.Unmarshal(attrData, &r.attrs); err != nil {
		return fmt.Errorf("failed to parse container attributes: %w", err)
	}
	r.firstBlock = 8 + uint64(attrLen)
	return nil
}

func (r *Reader) probeSeal() error {
	info, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat container: %w", err)
	}
	size := uint64(info.Size())
	r.contentEnd = size
	if size < r.firstBlock {
		return fmt.Errorf("sealstore: container truncated inside its header")
	}
	if size < r.firstBlock+trailerSize {
		return nil
	}

	var trailer [trailerSize]byte
	if _, err := r.f.ReadAt(trailer[:], int64(size-trailerSize)); err != nil {
		return fmt.Errorf("failed to read container trailer: %w", err)
	}
	if [4]byte(trailer[0:4]) != sealMagic {
		return nil
	}
	if binary.LittleEndian.Uint64(trailer[4:12]) != size-trailerSize {
		return nil
	}

	r.sealed = true
	copy(r.seal[:], trailer[12:])
	r.contentEnd = size - trailerSize
	return nil
}

// Attributes returns the container's attribute header.
func (r *Reader) Attributes() Attributes { return r.attrs }

// Path returns the container file path.
func (r *Reader) Path() string { return r.path }

// Sealed reports whether the container carries a seal trailer.
func (r *Reader) Sealed() bool { return r.sealed }

// Seal returns the recorded digest and whether one is present.
func (r *Reader) Seal() ([sha256.Size]byte, bool) { return r.seal, r.sealed }

// NextBlock returns the next block in file order, io.EOF after the
// last one. Corrupt block framing is an error; the blocks before it
// remain readable.
func (r *Reader) NextBlock() (BlockType, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= r.contentEnd {
		return "", nil, io.EOF
	}
	if r.next+8 > r.contentEnd {
		return "", nil, fmt.Errorf("sealstore: block header at offset %d overruns the container", r.next)
	}

	var hdr [8]byte
	if err := r.readAt(hdr[:], r.next); err != nil {
		return "", nil, fmt.Errorf("failed to read block header: %w", err)
	}
	blockType := BlockType(hdr[0:4])
	length := uint64(binary.LittleEndian.Uint32(hdr[4:8]))
	if r.next+8+length > r.contentEnd {
		return "", nil, fmt.Errorf("sealstore: %s block at offset %d overruns the container", blockType, r.next)
	}

	payload := make([]byte, length)
	if err := r.readAt(payload, r.next+8); err != nil {
		return "", nil, fmt.Errorf("failed to read %s block: %w", blockType, err)
	}
	r.next += 8 + length
	return blockType, payload, nil
}

// Rewind restarts block iteration at the first block.
func (r *Reader) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = r.firstBlock
}

func (r *Reader) readAt(p []byte, off uint64) error {
	n, err := r.f.ReadAt(p, int64(off))
	if n == len(p) {
		return nil
	}
	return err
}

// Verify re-hashes the sealed content in fixed-size chunks and compares
// it against the recorded seal. The content is streamed straight from
// the file; no copy of it is made on disk or in memory. A container
// without a seal reports ErrIntegrityUnknown, a digest mismatch
// ErrIntegrityViolation; both leave the reader usable.
func (r *Reader) Verify() error {
	if !r.sealed {
		return fmt.Errorf("%w: %s", wave.ErrIntegrityUnknown, r.path)
	}

	h := sha256.New()
	section := io.NewSectionReader(r.f, 0, int64(r.contentEnd))
	if _, err := io.Copy(h, section); err != nil {
		return fmt.Errorf("failed to hash container content: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), r.seal[:]) {
		return fmt.Errorf("%w: %s: content hashes to %s, seal records %s",
			wave.ErrIntegrityViolation, r.path,
			hex.EncodeToString(h.Sum(nil)[:8]), hex.EncodeToString(r.seal[:8]))
	}
	return nil
}

// Close releases the file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// VerifyFile opens, verifies and closes the container at path.
func VerifyFile(path string) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Verify()
}
