package sealstore

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hydrolab-data/seastate/internal/wave"
)

func testFrames(n int, channels int) []wave.Frame {
	frames := make([]wave.Frame, n)
	for i := range frames {
		samples := make([]float64, channels)
		for c := range samples {
			samples[c] = float64(i) + float64(c)/10
		}
		frames[i] = wave.Frame{
			Seq:       uint64(100 + i),
			Timestamp: time.Unix(0, int64(i)*20_000_000),
			Samples:   samples,
		}
	}
	return frames
}

// sealContainer writes a small session container and returns its path
// together with the digest reported by Seal.
func sealContainer(t *testing.T) (string, [32]byte) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session"+FileExtension)
	w, err := Create(path, Attributes{
		SessionID:     "sess-0001",
		SampleRate:    50,
		ChannelCount:  4,
		ChannelLabels: []string{"wp1", "wp2", "wp3", "wp4"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := w.WriteFrames(testFrames(3, 4)); err != nil {
		t.Fatalf("WriteFrames failed: %v", err)
	}
	if err := w.WriteFrames(testFrames(2, 4)); err != nil {
		t.Fatalf("WriteFrames failed: %v", err)
	}
	if err := w.WriteJSONBlock(BlockAnalysis, map[string]float64{"peak_frequency": 0.5}); err != nil {
		t.Fatalf("WriteJSONBlock failed: %v", err)
	}

	digest, err := w.Seal()
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path, digest
}

func TestContainer_RoundTrip(t *testing.T) {
	path, digest := sealContainer(t)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	attrs := r.Attributes()
	if attrs.AppVersion == "" {
		t.Error("Expected app version to be filled in")
	}
	if attrs.CreatedNs == 0 {
		t.Error("Expected creation time to be filled in")
	}
	want := Attributes{
		FormatVersion: FormatVersion,
		AppVersion:    attrs.AppVersion,
		CreatedNs:     attrs.CreatedNs,
		SessionID:     "sess-0001",
		SampleRate:    50,
		ChannelCount:  4,
		ChannelLabels: []string{"wp1", "wp2", "wp3", "wp4"},
	}
	if diff := cmp.Diff(want, attrs); diff != "" {
		t.Errorf("Attributes mismatch (-want +got):\n%s", diff)
	}

	if !r.Sealed() {
		t.Fatal("Expected container to be sealed")
	}
	if seal, ok := r.Seal(); !ok || seal != digest {
		t.Errorf("Expected recorded seal %x, got %x (present %v)", digest, seal, ok)
	}
	if err := r.Verify(); err != nil {
		t.Errorf("Expected verification to pass, got %v", err)
	}

	wantTypes := []BlockType{BlockRawSamples, BlockRawSamples, BlockAnalysis}
	for i, want := range wantTypes {
		blockType, payload, err := r.NextBlock()
		if err != nil {
			t.Fatalf("NextBlock %d failed: %v", i, err)
		}
		if blockType != want {
			t.Errorf("Expected block %d type %s, got %s", i, want, blockType)
		}
		if blockType == BlockRawSamples {
			frames, err := DecodeFrames(payload)
			if err != nil {
				t.Fatalf("DecodeFrames failed: %v", err)
			}
			if len(frames) == 0 || frames[0].Seq != 100 {
				t.Errorf("Expected frames starting at seq 100, got %+v", frames)
			}
		}
	}
	if _, _, err := r.NextBlock(); err != io.EOF {
		t.Errorf("Expected io.EOF after the last block, got %v", err)
	}

	r.Rewind()
	if blockType, _, err := r.NextBlock(); err != nil || blockType != BlockRawSamples {
		t.Errorf("Expected first block again after Rewind, got %s, %v", blockType, err)
	}
}

// TestVerify_DetectsFlippedByte corrupts one payload byte of a sealed
// container and checks the violation is reported while the blocks stay
// readable.
func TestVerify_DetectsFlippedByte(t *testing.T) {
	path, _ := sealContainer(t)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	// A byte inside the last block's payload, clear of all framing.
	target := info.Size() - trailerSize - 3
	var b [1]byte
	if _, err := f.ReadAt(b[:], target); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], target); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if !r.Sealed() {
		t.Fatal("Expected container to still carry its seal")
	}
	if err := r.Verify(); !errors.Is(err, wave.ErrIntegrityViolation) {
		t.Errorf("Expected ErrIntegrityViolation, got %v", err)
	}

	// Flagged data stays readable for inspection.
	blocks := 0
	for {
		_, _, err := r.NextBlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextBlock failed on a flagged container: %v", err)
		}
		blocks++
	}
	if blocks != 3 {
		t.Errorf("Expected 3 readable blocks, got %d", blocks)
	}
}

func TestVerify_UnsealedContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unsealed"+FileExtension)
	w, err := Create(path, Attributes{SessionID: "sess-0002"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.WriteFrames(testFrames(2, 2)); err != nil {
		t.Fatalf("WriteFrames failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if r.Sealed() {
		t.Error("Expected container to read as unsealed")
	}
	if err := r.Verify(); !errors.Is(err, wave.ErrIntegrityUnknown) {
		t.Errorf("Expected ErrIntegrityUnknown, got %v", err)
	}
	if blockType, _, err := r.NextBlock(); err != nil || blockType != BlockRawSamples {
		t.Errorf("Expected the raw block to stay readable, got %s, %v", blockType, err)
	}
}

func TestWriter_SealIsFinal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "final"+FileExtension)
	w, err := Create(path, Attributes{SessionID: "sess-0003"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Seal(); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !w.Sealed() {
		t.Error("Expected writer to report sealed")
	}

	if err := w.WriteFrames(testFrames(1, 1)); err == nil {
		t.Error("Expected write after seal to fail")
	}
	if _, err := w.Seal(); err == nil {
		t.Error("Expected second seal to fail")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Expected idempotent Close, got %v", err)
	}

	// An empty sealed session verifies cleanly and has no blocks.
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	if err := r.Verify(); err != nil {
		t.Errorf("Expected empty sealed container to verify, got %v", err)
	}
	if _, _, err := r.NextBlock(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestOpen_RejectsForeignFile(t *testing.T) {
	dir := t.TempDir()

	junk := filepath.Join(dir, "junk.bin")
	if err := os.WriteFile(junk, []byte("definitely not a container"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Open(junk); err == nil {
		t.Error("Expected error for a foreign file")
	}

	stub := filepath.Join(dir, "stub.bin")
	if err := os.WriteFile(stub, []byte("SS"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Open(stub); err == nil {
		t.Error("Expected error for a truncated file")
	}

	if _, err := Open(filepath.Join(dir, "missing.ssc")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestVerifyFile(t *testing.T) {
	path, _ := sealContainer(t)
	if err := VerifyFile(path); err != nil {
		t.Errorf("Expected VerifyFile to pass, got %v", err)
	}
	if err := VerifyFile(path + ".nope"); err == nil {
		t.Error("Expected error for a missing container")
	}
}

func TestFrames_RoundTrip(t *testing.T) {
	frames := testFrames(3, 4)
	frames[1].Samples[2] = math.Inf(1)
	frames[2].Samples[0] = math.NaN()

	payload, err := EncodeFrames(frames)
	if err != nil {
		t.Fatalf("EncodeFrames failed: %v", err)
	}
	decoded, err := DecodeFrames(payload)
	if err != nil {
		t.Fatalf("DecodeFrames failed: %v", err)
	}
	if diff := cmp.Diff(frames, decoded, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("Frames mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFrames_Corrupt(t *testing.T) {
	payload, err := EncodeFrames(testFrames(2, 3))
	if err != nil {
		t.Fatalf("EncodeFrames failed: %v", err)
	}

	tests := []struct {
		name    string
		corrupt func([]byte) []byte
	}{
		{"too short", func(p []byte) []byte { return p[:3] }},
		{"count overrun", func(p []byte) []byte {
			c := append([]byte(nil), p...)
			c[0] = 0xFF
			c[1] = 0xFF
			return c
		}},
		{"truncated samples", func(p []byte) []byte { return p[:len(p)-5] }},
		{"trailing bytes", func(p []byte) []byte { return append(append([]byte(nil), p...), 0xAA) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrames(tt.corrupt(payload)); err == nil {
				t.Error("Expected decode error, got nil")
			}
		})
	}
}
