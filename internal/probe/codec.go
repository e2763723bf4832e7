package probe

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// Probe datagram layout, little endian:
//
//	offset 0  magic   "WPRB"
//	offset 4  version uint8
//	offset 5  channels uint8
//	offset 6  seq     uint64
//	offset 14 unix nanoseconds int64
//	offset 22 samples float32 x channels
//
// Samples travel as float32; acquisition widens to float64.
const (
	datagramVersion    = 1
	datagramHeaderSize = 22
	maxChannels        = 64
)

var datagramMagic = [4]byte{'W', 'P', 'R', 'B'}

// EncodeDatagram packs a frame into the wire format.
func EncodeDatagram(f wave.Frame) ([]byte, error) {
	if len(f.Samples) == 0 || len(f.Samples) > maxChannels {
		return nil, fmt.Errorf("probe: channel count %d outside 1..%d", len(f.Samples), maxChannels)
	}
	buf := make([]byte, datagramHeaderSize+4*len(f.Samples))
	copy(buf[0:4], datagramMagic[:])
	buf[4] = datagramVersion
	buf[5] = byte(len(f.Samples))
	binary.LittleEndian.PutUint64(buf[6:14], f.Seq)
	binary.LittleEndian.PutUint64(buf[14:22], uint64(f.Timestamp.UnixNano()))
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint32(buf[datagramHeaderSize+4*i:], math.Float32bits(float32(s)))
	}
	return buf, nil
}

// DecodeDatagram unpacks one wire datagram into a frame. Structural
// problems (short packet, bad magic, wrong version, length mismatch)
// are errors; sample values pass through untouched, finite or not, and
// are screened later by analysis.
func DecodeDatagram(b []byte) (wave.Frame, error) {
	if len(b) < datagramHeaderSize {
		return wave.Frame{}, fmt.Errorf("probe: datagram too short: %d bytes", len(b))
	}
	if [4]byte(b[0:4]) != datagramMagic {
		return wave.Frame{}, fmt.Errorf("probe: bad datagram magic %q", b[0:4])
	}
	if b[4] != datagramVersion {
		return wave.Frame{}, fmt.Errorf("probe: unsupported datagram version %d", b[4])
	}
	channels := int(b[5])
	if channels == 0 || channels > maxChannels {
		return wave.Frame{}, fmt.Errorf("probe: channel count %d outside 1..%d", channels, maxChannels)
	}
	want := datagramHeaderSize + 4*channels
	if len(b) != want {
		return wave.Frame{}, fmt.Errorf("probe: datagram length %d, want %d for %d channels", len(b), want, channels)
	}

	f := wave.Frame{
		Seq:       binary.LittleEndian.Uint64(b[6:14]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(b[14:22]))),
		Samples:   make([]float64, channels),
	}
	for i := 0; i < channels; i++ {
		bits := binary.LittleEndian.Uint32(b[datagramHeaderSize+4*i:])
		f.Samples[i] = float64(math.Float32frombits(bits))
	}
	return f, nil
}
