package seastate

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hydrolab-data/seastate/internal/probe"
	"github.com/hydrolab-data/seastate/internal/sealstore"
	"github.com/hydrolab-data/seastate/internal/session"
	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/wave"
	"github.com/hydrolab-data/seastate/internal/wavedir"
)

// newStationConfig builds a fast session: 800 Hz synthetic swell with a
// 100 Hz component so a 128-sample window holds 16 full waves and each
// window completes in 160 ms of paced real time.
func newStationConfig(t *testing.T, catalog *session.Catalog) Config {
	t.Helper()
	geometry, err := wave.NewProbeGeometry([]wave.ProbePosition{
		{X: -0.25, Y: -0.25},
		{X: 0.25, Y: -0.25},
		{X: 0.25, Y: 0.25},
		{X: -0.25, Y: 0.25},
	})
	if err != nil {
		t.Fatalf("NewProbeGeometry failed: %v", err)
	}
	source, err := probe.NewSimulated(probe.SimulatedConfig{
		SampleRate: 800,
		WaterDepth: 1.0,
		Components: []probe.WaveComponent{
			{AmplitudeM: 0.04, FrequencyHz: 100, DirectionDeg: 30},
		},
		Seed: 7,
	}, geometry)
	if err != nil {
		t.Fatalf("NewSimulated failed: %v", err)
	}
	return Config{
		Source:                source,
		Geometry:              geometry,
		BufferCapacity:        4096,
		OverflowPolicy:        wave.OverflowBlock,
		PollTimeout:           100 * time.Millisecond,
		PollBatch:             64,
		WindowLength:          128,
		Spectral:              spectral.DefaultConfig(800),
		Directional:           wavedir.DefaultConfig(1.0),
		AnalysisInterval:      20 * time.Millisecond,
		PersistenceQueueDepth: 64,
		SessionDir:            t.TempDir(),
		Catalog:               catalog,
	}
}

func newTestCatalog(t *testing.T) *session.Catalog {
	t.Helper()
	catalog, err := session.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open catalog failed: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	if err := catalog.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	return catalog
}

func waitForStation(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out after %s waiting for %s", timeout, what)
}

// runShortSession starts the station, waits for one completed analysis,
// stops it, and returns the session ID.
func runShortSession(t *testing.T, station *Station) string {
	t.Helper()
	if err := station.StartAcquisition(context.Background()); err != nil {
		t.Fatalf("StartAcquisition failed: %v", err)
	}
	id := station.SessionID()
	waitForStation(t, 10*time.Second, "first analysis", func() bool {
		return station.AcquisitionStats().Analyses >= 1
	})
	if err := station.StopAcquisition(); err != nil {
		t.Fatalf("StopAcquisition failed: %v", err)
	}
	return id
}

func TestNewStation_InvalidConfig(t *testing.T) {
	if _, err := NewStation(Config{}); err == nil {
		t.Fatal("Expected error for empty config, got nil")
	}
}

func TestStation_LifecycleAndRestart(t *testing.T) {
	station, err := NewStation(newStationConfig(t, nil))
	if err != nil {
		t.Fatalf("NewStation failed: %v", err)
	}

	if got := station.AcquisitionState(); got != StateIdle {
		t.Fatalf("Expected %s before start, got %s", StateIdle, got)
	}
	if _, err := station.LatestSpectrum(); !errors.Is(err, ErrNoResult) {
		t.Errorf("Expected ErrNoResult before start, got %v", err)
	}
	if err := station.PauseAcquisition(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition pausing idle station, got %v", err)
	}

	if err := station.StartAcquisition(context.Background()); err != nil {
		t.Fatalf("StartAcquisition failed: %v", err)
	}
	if got := station.AcquisitionState(); got != StateAcquiring {
		t.Errorf("Expected %s after start, got %s", StateAcquiring, got)
	}
	if err := station.StartAcquisition(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition starting twice, got %v", err)
	}
	first := station.SessionID()
	if first == "" {
		t.Fatal("Expected a session ID after start, got empty string")
	}

	waitForStation(t, 10*time.Second, "first analysis", func() bool {
		return station.AcquisitionStats().Analyses >= 1
	})

	spectrum, err := station.LatestSpectrum()
	if err != nil {
		t.Fatalf("LatestSpectrum failed: %v", err)
	}
	df := 800.0 / float64(spectrum.TransformLength)
	if math.Abs(spectrum.PeakFrequency-100) > df {
		t.Errorf("Expected peak near 100 Hz, got %.3f Hz", spectrum.PeakFrequency)
	}
	stats, err := station.WaveStatistics()
	if err != nil {
		t.Fatalf("WaveStatistics failed: %v", err)
	}
	if stats.WaveCount == 0 {
		t.Error("Expected a nonzero wave count")
	}

	if err := station.StopAcquisition(); err != nil {
		t.Fatalf("StopAcquisition failed: %v", err)
	}
	if got := station.AcquisitionState(); got != StateStopped {
		t.Errorf("Expected %s after stop, got %s", StateStopped, got)
	}
	if _, err := station.LatestSpectrum(); err != nil {
		t.Errorf("Expected results to stay readable after stop, got %v", err)
	}

	// A new start replaces the finished session with a fresh one.
	if err := station.StartAcquisition(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	second := station.SessionID()
	if second == "" || second == first {
		t.Errorf("Expected a fresh session ID on restart, got %q after %q", second, first)
	}
	if got := station.AcquisitionState(); got != StateAcquiring {
		t.Errorf("Expected %s after restart, got %s", StateAcquiring, got)
	}
	if err := station.StopAcquisition(); err != nil {
		t.Fatalf("StopAcquisition after restart failed: %v", err)
	}
}

func TestStation_VerifySession(t *testing.T) {
	station, err := NewStation(newStationConfig(t, nil))
	if err != nil {
		t.Fatalf("NewStation failed: %v", err)
	}
	id := runShortSession(t, station)

	if err := station.VerifySession(id); err != nil {
		t.Errorf("Expected sealed session to verify, got %v", err)
	}
	if err := station.VerifySession("no-such-session"); err == nil {
		t.Error("Expected error verifying unknown session, got nil")
	}
	if err := station.VerifySession(""); err == nil {
		t.Error("Expected error verifying empty session ID, got nil")
	}
}

func TestStation_ExportSession(t *testing.T) {
	catalog := newTestCatalog(t)
	station, err := NewStation(newStationConfig(t, catalog))
	if err != nil {
		t.Fatalf("NewStation failed: %v", err)
	}
	id := runShortSession(t, station)

	dest := filepath.Join(t.TempDir(), "basin-export"+sealstore.FileExtension)
	if err := station.ExportSession(id, dest); err != nil {
		t.Fatalf("ExportSession failed: %v", err)
	}
	if err := sealstore.VerifyFile(dest); err != nil {
		t.Errorf("Expected exported copy to verify, got %v", err)
	}

	rec, err := catalog.SessionByID(id)
	if err != nil {
		t.Fatalf("SessionByID failed: %v", err)
	}
	srcInfo, err := os.Stat(rec.ContainerPath)
	if err != nil {
		t.Fatalf("Stat source failed: %v", err)
	}
	dstInfo, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("Stat export failed: %v", err)
	}
	if srcInfo.Size() != dstInfo.Size() {
		t.Errorf("Expected export of %d bytes, got %d", srcInfo.Size(), dstInfo.Size())
	}

	if err := station.ExportSession("who-dis", dest); err == nil {
		t.Error("Expected error exporting unknown session, got nil")
	}
	err = station.ExportSession(id, "/etc/seastate-export"+sealstore.FileExtension)
	if err == nil {
		t.Fatal("Expected error exporting outside allowed directories, got nil")
	}
	if !strings.Contains(err.Error(), "refusing export destination") {
		t.Errorf("Expected destination refusal, got %v", err)
	}
}

func TestStation_ExportRefusesTamperedContainer(t *testing.T) {
	catalog := newTestCatalog(t)
	station, err := NewStation(newStationConfig(t, catalog))
	if err != nil {
		t.Fatalf("NewStation failed: %v", err)
	}
	id := runShortSession(t, station)

	rec, err := catalog.SessionByID(id)
	if err != nil {
		t.Fatalf("SessionByID failed: %v", err)
	}
	data, err := os.ReadFile(rec.ContainerPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[len(data)-60] ^= 0xFF
	if err := os.WriteFile(rec.ContainerPath, data, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "tampered"+sealstore.FileExtension)
	err = station.ExportSession(id, dest)
	if !errors.Is(err, ErrIntegrityViolation) {
		t.Fatalf("Expected ErrIntegrityViolation, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Errorf("Expected no export file after refusal, got stat result %v", statErr)
	}
}

func TestStation_ExportRefusesUnsealedContainer(t *testing.T) {
	catalog := newTestCatalog(t)
	cfg := newStationConfig(t, catalog)
	station, err := NewStation(cfg)
	if err != nil {
		t.Fatalf("NewStation failed: %v", err)
	}

	// A session that crashed before sealing: container exists, seal does not.
	path := filepath.Join(cfg.SessionDir, "crash-42"+sealstore.FileExtension)
	w, err := sealstore.Create(path, sealstore.Attributes{SessionID: "crash-42", SampleRate: 800, ChannelCount: 4})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	frames := []wave.Frame{{Seq: 1, Timestamp: time.Unix(0, 0), Samples: []float64{0.01, 0.02, 0.03, 0.04}}}
	if err := w.WriteFrames(frames); err != nil {
		t.Fatalf("WriteFrames failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	rec := session.Record{
		ID:            "crash-42",
		StartedNs:     time.Now().UnixNano(),
		SampleRate:    800,
		ChannelCount:  4,
		ContainerPath: path,
	}
	if err := catalog.RecordSession(rec); err != nil {
		t.Fatalf("RecordSession failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "unsealed"+sealstore.FileExtension)
	err = station.ExportSession("crash-42", dest)
	if !errors.Is(err, ErrIntegrityUnknown) {
		t.Fatalf("Expected ErrIntegrityUnknown, got %v", err)
	}

	if err := station.VerifySession("crash-42"); !errors.Is(err, ErrIntegrityUnknown) {
		t.Errorf("Expected ErrIntegrityUnknown from VerifySession, got %v", err)
	}
}
