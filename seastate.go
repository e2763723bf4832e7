// Package seastate runs a multi-probe wave measurement station: it
// acquires surface elevation from a probe array, computes amplitude
// spectra and directional wave energy, derives sea-state statistics,
// and records every session into a tamper-evident sealed container.
//
// Example usage:
//
//	st := config.MustLoadDefaultConfig()
//	geometry, _ := wave.NewProbeGeometry(st.GetProbes())
//	source, _ := probe.NewSimulated(probe.DefaultSimulatedConfig(), geometry)
//	cfg, err := seastate.ConfigFromStation(st, source, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	station, err := seastate.NewStation(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := station.StartAcquisition(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer station.StopAcquisition()
package seastate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hydrolab-data/seastate/internal/config"
	"github.com/hydrolab-data/seastate/internal/pipeline"
	"github.com/hydrolab-data/seastate/internal/probe"
	"github.com/hydrolab-data/seastate/internal/sealstore"
	"github.com/hydrolab-data/seastate/internal/security"
	"github.com/hydrolab-data/seastate/internal/session"
	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/wave"
	"github.com/hydrolab-data/seastate/internal/wavedir"
)

// Config assembles a station: source, probe geometry, buffering,
// analysis tuning and persistence. Use ConfigFromStation to populate
// it from a station tuning file.
type Config = pipeline.Config

// State is the acquisition lifecycle state.
type State = pipeline.State

// Stats is a snapshot of the running session's counters.
type Stats = pipeline.Stats

// Frame is one synchronized sample across all probe channels.
type Frame = wave.Frame

// ProbePosition locates one probe in basin coordinates.
type ProbePosition = wave.ProbePosition

// Spectrum is a one-sided amplitude spectrum of one channel's window.
type Spectrum = spectral.Spectrum

// Analysis is the directional wave result of one analysis window.
type Analysis = wavedir.Analysis

// WaveStatistics are the scalar sea-state statistics of one window.
type WaveStatistics = wavedir.WaveStatistics

// SessionRecord is one catalog row describing a recorded session.
type SessionRecord = session.Record

// Lifecycle states, re-exported for switch statements on State.
const (
	StateIdle      = pipeline.StateIdle
	StateAcquiring = pipeline.StateAcquiring
	StatePaused    = pipeline.StatePaused
	StateStopping  = pipeline.StateStopping
	StateStopped   = pipeline.StateStopped
	StateError     = pipeline.StateError
)

// Sentinel errors surfaced by station operations.
var (
	ErrInvalidTransition  = wave.ErrInvalidTransition
	ErrNoResult           = wave.ErrNoResult
	ErrIntegrityViolation = wave.ErrIntegrityViolation
	ErrIntegrityUnknown   = wave.ErrIntegrityUnknown
)

// ConfigFromStation builds a station config from a tuning overlay, a
// data source, and an optional session catalog.
func ConfigFromStation(st *config.StationConfig, source probe.Source, catalog *session.Catalog) (Config, error) {
	return pipeline.FromStation(st, source, catalog)
}

// Station manages acquisition sessions over one configured source.
// Each StartAcquisition runs a fresh session; results of the most
// recent session stay readable after it ends.
type Station struct {
	mu   sync.Mutex
	cfg  Config
	orch *pipeline.Orchestrator
}

// NewStation validates the config and prepares the first session.
func NewStation(cfg Config) (*Station, error) {
	orch, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Station{cfg: cfg, orch: orch}, nil
}

// StartAcquisition begins a new session. A session that has ended is
// replaced; starting while one is active returns ErrInvalidTransition.
func (s *Station) StartAcquisition(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.orch.State() {
	case StateStopped, StateError:
		orch, err := pipeline.New(s.cfg)
		if err != nil {
			return err
		}
		s.orch = orch
	}
	return s.orch.Start(ctx)
}

// PauseAcquisition suspends the running session at a frame boundary.
func (s *Station) PauseAcquisition() error {
	return s.current().Pause()
}

// ResumeAcquisition continues a paused session.
func (s *Station) ResumeAcquisition() error {
	return s.current().Resume()
}

// StopAcquisition ends the session, waits for the container to seal,
// and returns the sealing error if closing out failed.
func (s *Station) StopAcquisition() error {
	return s.current().Stop()
}

// AcquisitionState returns the current session's lifecycle state.
func (s *Station) AcquisitionState() State {
	return s.current().State()
}

// AcquisitionStats returns a snapshot of the session counters.
func (s *Station) AcquisitionStats() Stats {
	return s.current().Stats()
}

// SessionID returns the current session's identifier, empty before the
// first start.
func (s *Station) SessionID() string {
	return s.current().SessionID()
}

// LatestSpectrum returns the reference channel's most recent spectrum,
// or ErrNoResult before the first completed analysis.
func (s *Station) LatestSpectrum() (*Spectrum, error) {
	return s.current().LatestSpectrum()
}

// LatestSpectra returns every channel's most recent spectrum.
func (s *Station) LatestSpectra() ([]*Spectrum, error) {
	return s.current().LatestSpectra()
}

// LatestAnalysis returns the most recent directional analysis.
func (s *Station) LatestAnalysis() (*Analysis, error) {
	return s.current().LatestAnalysis()
}

// WaveStatistics returns the most recent scalar wave statistics.
func (s *Station) WaveStatistics() (*WaveStatistics, error) {
	return s.current().LatestStatistics()
}

// Catalog returns the attached session catalog, nil when the station
// runs without one.
func (s *Station) Catalog() *session.Catalog {
	return s.cfg.Catalog
}

// SessionDir returns the directory receiving sealed containers.
func (s *Station) SessionDir() string {
	return s.cfg.SessionDir
}

func (s *Station) current() *pipeline.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orch
}

// VerifySession checks a recorded session's container against its
// seal. Nil means the content matches the digest; ErrIntegrityUnknown
// and ErrIntegrityViolation report the other outcomes.
func (s *Station) VerifySession(sessionID string) error {
	path, err := s.containerPath(sessionID)
	if err != nil {
		return err
	}
	return sealstore.VerifyFile(path)
}

// ExportSession copies a session's sealed container to destPath. The
// destination must fall inside the session directory, the working
// directory, or the temp directory; the content is verified before a
// byte is copied, and a container that fails verification is never
// exported.
func (s *Station) ExportSession(sessionID, destPath string) error {
	path, err := s.containerPath(sessionID)
	if err != nil {
		return err
	}
	if err := security.ValidateExportPath(destPath, s.cfg.SessionDir); err != nil {
		return fmt.Errorf("refusing export destination: %w", err)
	}
	if err := sealstore.VerifyFile(path); err != nil {
		return fmt.Errorf("refusing to export session %s: %w", sessionID, err)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to copy container: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to finalize export file: %w", err)
	}
	return nil
}

// containerPath resolves a session ID onto its container file, through
// the catalog when one is attached, else against the current session.
func (s *Station) containerPath(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("session ID required")
	}
	if s.cfg.Catalog != nil {
		rec, err := s.cfg.Catalog.SessionByID(sessionID)
		if err != nil {
			return "", fmt.Errorf("unknown session %s: %w", sessionID, err)
		}
		return rec.ContainerPath, nil
	}
	cur := s.current()
	if cur.SessionID() == sessionID {
		return cur.ContainerPath(), nil
	}
	return "", fmt.Errorf("unknown session %s", sessionID)
}
