package sealstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// Raw samples block layout, little-endian:
//
//	frame count   uint32
//	per frame:
//	  sequence    uint64
//	  timestamp   int64 unix nanoseconds
//	  channels    uint16
//	  samples     channels x float64 bits
const (
	frameHeadSize    = 8 + 8 + 2
	maxFrameChannels = 4096
)

// EncodeFrames packs a frame batch into a raw samples payload.
func EncodeFrames(frames []wave.Frame) ([]byte, error) {
	size := 4
	for _, f := range frames {
		if len(f.Samples) > maxFrameChannels {
			return nil, &wave.ValidationError{Field: "frame", Reason: fmt.Sprintf("%d channels exceeds limit %d", len(f.Samples), maxFrameChannels)}
		}
		size += frameHeadSize + 8*len(f.Samples)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(frames)))
	off := 4
	for _, f := range frames {
		binary.LittleEndian.PutUint64(buf[off:], f.Seq)
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(f.Timestamp.UnixNano()))
		binary.LittleEndian.PutUint16(buf[off+16:], uint16(len(f.Samples)))
		off += frameHeadSize
		for _, s := range f.Samples {
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(s))
			off += 8
		}
	}
	return buf, nil
}

// DecodeFrames unpacks a raw samples payload. Framing errors are
// structural; sample values pass through unchecked.
func DecodeFrames(payload []byte) ([]wave.Frame, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("sealstore: raw samples payload of %d bytes is too short", len(payload))
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	if uint64(count)*frameHeadSize > uint64(len(payload)) {
		return nil, fmt.Errorf("sealstore: raw samples payload claims %d frames in %d bytes", count, len(payload))
	}

	frames := make([]wave.Frame, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+frameHeadSize > len(payload) {
			return nil, fmt.Errorf("sealstore: frame %d truncated", i)
		}
		seq := binary.LittleEndian.Uint64(payload[off:])
		ns := int64(binary.LittleEndian.Uint64(payload[off+8:]))
		channels := int(binary.LittleEndian.Uint16(payload[off+16:]))
		off += frameHeadSize
		if channels > maxFrameChannels {
			return nil, fmt.Errorf("sealstore: frame %d claims %d channels", i, channels)
		}
		if off+8*channels > len(payload) {
			return nil, fmt.Errorf("sealstore: frame %d samples truncated", i)
		}

		samples := make([]float64, channels)
		for c := range samples {
			samples[c] = math.Float64frombits(binary.LittleEndian.Uint64(payload[off:]))
			off += 8
		}
		frames = append(frames, wave.Frame{
			Seq:       seq,
			Timestamp: time.Unix(0, ns),
			Samples:   samples,
		})
	}
	if off != len(payload) {
		return nil, fmt.Errorf("sealstore: %d trailing bytes after frame %d", len(payload)-off, count)
	}
	return frames, nil
}
