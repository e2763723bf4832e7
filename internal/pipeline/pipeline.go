// Package pipeline wires a probe source through the acquisition
// buffer into spectral and directional analysis, and persists the
// session into a sealed container. The Orchestrator owns the state
// machine; data flows one way: source, buffer, analysis, store.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hydrolab-data/seastate/internal/acquire"
	"github.com/hydrolab-data/seastate/internal/config"
	"github.com/hydrolab-data/seastate/internal/probe"
	"github.com/hydrolab-data/seastate/internal/sealstore"
	"github.com/hydrolab-data/seastate/internal/session"
	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/timeutil"
	"github.com/hydrolab-data/seastate/internal/wave"
	"github.com/hydrolab-data/seastate/internal/wavedir"
)

// State is the orchestrator lifecycle state.
type State string

const (
	// StateIdle is the freshly constructed orchestrator, before Start.
	StateIdle State = "idle"

	// StateAcquiring means the producer is pulling frames.
	StateAcquiring State = "acquiring"

	// StatePaused suspends acquisition at a frame boundary; Resume
	// returns to StateAcquiring.
	StatePaused State = "paused"

	// StateStopping drains the buffer, flushes analyses and the
	// persistence queue, and seals the container.
	StateStopping State = "stopping"

	// StateStopped is the terminal state of a cleanly ended session.
	StateStopped State = "stopped"

	// StateError is the terminal state after an unrecoverable source
	// failure. The container is still sealed with whatever was
	// collected.
	StateError State = "error"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Active reports whether a session is in progress.
func (s State) Active() bool {
	return s == StateAcquiring || s == StatePaused || s == StateStopping
}

// Config assembles one acquisition session. Validate runs inside New;
// a config error is rejected before anything starts.
type Config struct {
	// Source produces the sample stream.
	Source probe.Source

	// Geometry is the probe array layout; it must match the source's
	// channel count and carry at least three probes.
	Geometry *wave.ProbeGeometry

	// Clock drives pacing and the session duration limit. Nil selects
	// the real clock.
	Clock timeutil.Clock

	// BufferCapacity and OverflowPolicy configure the acquisition ring.
	BufferCapacity int
	OverflowPolicy wave.OverflowPolicy

	// PollTimeout bounds each source poll; PollBatch caps its size.
	PollTimeout time.Duration
	PollBatch   int

	// WindowLength is the analysis window in samples.
	WindowLength int

	// Spectral configures the frequency transform; its sample rate is
	// overridden by the source's reported rate when they differ.
	Spectral spectral.Config

	// PlanManifest optionally preloads transform plans from a manifest
	// file and saves the cache back on shutdown.
	PlanManifest string

	// Directional configures the directional analyzer.
	Directional wavedir.Config

	// AnalysisInterval bounds how long the analysis worker waits for
	// data before rechecking for shutdown.
	AnalysisInterval time.Duration

	// PersistenceQueueDepth bounds the analysis-to-writer queue. A
	// full queue raises a backpressure signal and then blocks, so
	// memory stays bounded.
	PersistenceQueueDepth int

	// SessionDir receives the sealed container files.
	SessionDir string

	// MaxSessionDuration ends the session automatically; zero means
	// unlimited.
	MaxSessionDuration time.Duration

	// Catalog optionally records the session and its statistics.
	Catalog *session.Catalog

	// Notes is free-form session annotation, stored in the container
	// attributes and the catalog.
	Notes string
}

// FromStation builds a session config from the station tuning overlay.
func FromStation(st *config.StationConfig, source probe.Source, catalog *session.Catalog) (Config, error) {
	geometry, err := wave.NewProbeGeometry(st.GetProbes())
	if err != nil {
		return Config{}, err
	}

	spCfg := spectral.DefaultConfig(st.GetSampleRate())
	spCfg.WindowFunction = st.GetWindowFunction()
	spCfg.ZeroPaddingFactor = st.GetZeroPaddingFactor()

	dirCfg := wavedir.DefaultConfig(st.GetWaterDepth())
	dirCfg.DirectionBins = st.GetDirectionBins()

	return Config{
		Source:                source,
		Geometry:              geometry,
		BufferCapacity:        st.GetBufferCapacity(),
		OverflowPolicy:        st.GetOverflowPolicy(),
		PollTimeout:           st.GetPollTimeout(),
		PollBatch:             st.GetPollBatch(),
		WindowLength:          st.GetWindowLength(),
		Spectral:              spCfg,
		PlanManifest:          st.GetPlanManifest(),
		Directional:           dirCfg,
		AnalysisInterval:      st.GetAnalysisInterval(),
		PersistenceQueueDepth: st.GetPersistenceQueueDepth(),
		SessionDir:            st.GetSessionDir(),
		MaxSessionDuration:    st.GetMaxSessionDuration(),
		Catalog:               catalog,
	}, nil
}

// Validate rejects an unusable session config.
func (c Config) Validate() error {
	if c.Source == nil {
		return &wave.ValidationError{Field: "source", Reason: "a data source is required"}
	}
	if c.Geometry == nil {
		return &wave.ValidationError{Field: "geometry", Reason: "a probe geometry is required"}
	}
	if c.Geometry.Count() < 3 {
		return &wave.ValidationError{Field: "geometry", Reason: fmt.Sprintf("directional analysis needs at least 3 probes, got %d", c.Geometry.Count())}
	}
	if info := c.Source.Describe(); info.ChannelCount != c.Geometry.Count() {
		return &wave.ValidationError{
			Field:  "geometry",
			Reason: fmt.Sprintf("%d probes for a %d-channel source", c.Geometry.Count(), info.ChannelCount),
		}
	}
	if c.BufferCapacity < 1 {
		return &wave.ValidationError{Field: "bufferCapacity", Reason: fmt.Sprintf("must be at least 1, got %d", c.BufferCapacity)}
	}
	if !c.OverflowPolicy.IsValid() {
		return &wave.ValidationError{Field: "overflowPolicy", Reason: fmt.Sprintf("unknown policy %q", c.OverflowPolicy)}
	}
	if c.PollTimeout <= 0 {
		return &wave.ValidationError{Field: "pollTimeout", Reason: "must be positive"}
	}
	if c.PollBatch < 1 {
		return &wave.ValidationError{Field: "pollBatch", Reason: fmt.Sprintf("must be at least 1, got %d", c.PollBatch)}
	}
	if c.WindowLength < 16 {
		return &wave.ValidationError{Field: "windowLength", Reason: fmt.Sprintf("must be at least 16 samples, got %d", c.WindowLength)}
	}
	if err := c.Spectral.Validate(); err != nil {
		return err
	}
	if err := c.Directional.Validate(); err != nil {
		return err
	}
	if c.AnalysisInterval <= 0 {
		return &wave.ValidationError{Field: "analysisInterval", Reason: "must be positive"}
	}
	if c.PersistenceQueueDepth < 1 {
		return &wave.ValidationError{Field: "persistenceQueueDepth", Reason: fmt.Sprintf("must be at least 1, got %d", c.PersistenceQueueDepth)}
	}
	if c.SessionDir == "" {
		return &wave.ValidationError{Field: "sessionDir", Reason: "must not be empty"}
	}
	if c.MaxSessionDuration < 0 {
		return &wave.ValidationError{Field: "maxSessionDuration", Reason: "must not be negative"}
	}
	return nil
}

// AnalysisRecord is the JSON payload of one analysis block in the
// container: the reference-channel spectrum plus the directional and
// scalar results derived from the same window.
type AnalysisRecord struct {
	ComputedNs int64                   `json:"computed_ns"`
	Spectrum   *spectral.Spectrum      `json:"spectrum,omitempty"`
	Analysis   *wavedir.Analysis       `json:"analysis,omitempty"`
	Statistics *wavedir.WaveStatistics `json:"statistics,omitempty"`
}

// persistItem is one unit of work for the persistence queue: either a
// raw frame batch or an analysis record.
type persistItem struct {
	frames []wave.Frame
	record *AnalysisRecord
}

// Stats is a point-in-time snapshot of one session's counters.
type Stats struct {
	State              State         `json:"state"`
	SessionID          string        `json:"session_id,omitempty"`
	ContainerPath      string        `json:"container_path,omitempty"`
	StartedNs          int64         `json:"started_ns,omitempty"`
	Buffer             acquire.Stats `json:"buffer"`
	Analyses           uint64        `json:"analyses"`
	IntegrityErrors    uint64        `json:"integrity_errors"`
	BlocksPersisted    uint64        `json:"blocks_persisted"`
	BackpressureEvents uint64        `json:"backpressure_events"`
	Warnings           []wave.Warning `json:"warnings,omitempty"`
}

// Orchestrator runs one acquisition session from Start through the
// sealed container. It is not reusable; construct a fresh one per
// session.
type Orchestrator struct {
	cfg   Config
	clock timeutil.Clock

	buffer   *acquire.Buffer
	proc     *spectral.Processor
	analyzer *wavedir.Analyzer

	mu             sync.Mutex
	state          State
	sessionID      string
	containerPath  string
	startedAt      time.Time
	writer         *sealstore.Writer
	latestSpectra  []*spectral.Spectrum
	latestAnalysis *wavedir.Analysis
	latestStats    *wavedir.WaveStatistics
	warnings       map[wave.Warning]bool
	cause          error
	finalErr       error

	analyses        atomic.Uint64
	integrityErrors atomic.Uint64
	backpressure    atomic.Uint64

	produceCancel context.CancelFunc
	produceDone   chan struct{}
	analyzeDone   chan struct{}
	persistDone   chan struct{}
	stoppedCh     chan struct{}
	stopOnce      sync.Once

	persistCh chan persistItem
}

// New validates the config and builds the session plumbing. The
// orchestrator starts in StateIdle.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if rate := cfg.Source.Describe().SampleRate; rate > 0 {
		cfg.Spectral.SampleRate = rate
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	buffer, err := acquire.New(cfg.BufferCapacity, cfg.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	proc, err := spectral.NewProcessor(cfg.Spectral)
	if err != nil {
		return nil, err
	}
	if cfg.PlanManifest != "" {
		if err := proc.Plans().LoadManifest(cfg.PlanManifest); err != nil {
			return nil, err
		}
	}
	analyzer, err := wavedir.NewAnalyzer(cfg.Directional, cfg.Geometry)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:         cfg,
		clock:       cfg.Clock,
		buffer:      buffer,
		proc:        proc,
		analyzer:    analyzer,
		state:       StateIdle,
		warnings:    make(map[wave.Warning]bool),
		produceDone: make(chan struct{}),
		analyzeDone: make(chan struct{}),
		persistDone: make(chan struct{}),
		stoppedCh:   make(chan struct{}),
		persistCh:   make(chan persistItem, cfg.PersistenceQueueDepth),
	}, nil
}

// Start begins a session: starts the source, creates the sealed
// container, records the catalog row and launches the workers. The
// context bounds startup only; the session itself runs until Stop, a
// source failure, or the duration limit.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", wave.ErrInvalidTransition, state)
	}
	o.mu.Unlock()

	if err := o.cfg.Source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start source: %w", err)
	}

	info := o.cfg.Source.Describe()
	id := uuid.NewString()
	if err := os.MkdirAll(o.cfg.SessionDir, 0755); err != nil {
		o.cfg.Source.Stop()
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	path := filepath.Join(o.cfg.SessionDir, id+sealstore.FileExtension)
	writer, err := sealstore.Create(path, sealstore.Attributes{
		SessionID:     id,
		SampleRate:    info.SampleRate,
		ChannelCount:  info.ChannelCount,
		ChannelLabels: info.ChannelLabels,
		Probes:        o.cfg.Geometry.Positions(),
		WaterDepthM:   o.cfg.Directional.WaterDepth,
		Notes:         o.cfg.Notes,
	})
	if err != nil {
		o.cfg.Source.Stop()
		return err
	}

	now := o.clock.Now()
	if o.cfg.Catalog != nil {
		rec := session.Record{
			ID:            id,
			StartedNs:     now.UnixNano(),
			SampleRate:    info.SampleRate,
			ChannelCount:  info.ChannelCount,
			WaterDepthM:   o.cfg.Directional.WaterDepth,
			ContainerPath: path,
			Notes:         o.cfg.Notes,
		}
		if err := o.cfg.Catalog.RecordSession(rec); err != nil {
			writer.Close()
			o.cfg.Source.Stop()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.state = StateAcquiring
	o.sessionID = id
	o.containerPath = path
	o.startedAt = now
	o.writer = writer
	o.produceCancel = cancel
	o.mu.Unlock()

	go o.produce(runCtx)
	go o.analyze()
	go o.persistLoop()
	return nil
}

// Pause suspends acquisition at the next frame boundary. Analysis of
// already buffered data continues.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateAcquiring {
		return fmt.Errorf("%w: cannot pause from %s", wave.ErrInvalidTransition, o.state)
	}
	o.state = StatePaused
	return nil
}

// Resume continues a paused session.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePaused {
		return fmt.Errorf("%w: cannot resume from %s", wave.ErrInvalidTransition, o.state)
	}
	o.state = StateAcquiring
	return nil
}

// Stop ends the session and blocks until the container is sealed and
// the terminal state reached. It returns the sealing error, or the
// source failure when the session died underneath the operator.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	switch o.state {
	case StateAcquiring, StatePaused:
		o.mu.Unlock()
		o.triggerStop(nil)
	case StateStopping:
		o.mu.Unlock()
	default:
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot stop from %s", wave.ErrInvalidTransition, state)
	}

	<-o.stoppedCh
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalErr
}

// triggerStop moves the session into StateStopping exactly once and
// kicks off finalization. A non-nil cause marks the session as failed;
// sealing happens either way.
func (o *Orchestrator) triggerStop(cause error) {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.state = StateStopping
		o.cause = cause
		o.mu.Unlock()
		go o.finalize()
	})
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the terminal session error once the session has ended:
// the source failure for StateError, or the sealing error for a stop
// that could not complete cleanly. Nil while running and after a clean
// stop.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalErr
}

// SessionID returns the current session's ID, empty before Start.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// ContainerPath returns the session container path, empty before
// Start.
func (o *Orchestrator) ContainerPath() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.containerPath
}

// Stats returns a snapshot of the session counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	state := o.state
	id := o.sessionID
	path := o.containerPath
	started := o.startedAt
	writer := o.writer
	warnings := o.warningListLocked()
	o.mu.Unlock()

	s := Stats{
		State:              state,
		SessionID:          id,
		ContainerPath:      path,
		Buffer:             o.buffer.Stats(),
		Analyses:           o.analyses.Load(),
		IntegrityErrors:    o.integrityErrors.Load(),
		BackpressureEvents: o.backpressure.Load(),
		Warnings:           warnings,
	}
	if !started.IsZero() {
		s.StartedNs = started.UnixNano()
	}
	if writer != nil {
		s.BlocksPersisted = writer.BlockCount()
	}
	return s
}

// LatestSpectrum returns the reference channel's most recent spectrum,
// or ErrNoResult before the first analysis.
func (o *Orchestrator) LatestSpectrum() (*spectral.Spectrum, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.latestSpectra) == 0 {
		return nil, wave.ErrNoResult
	}
	return o.latestSpectra[0], nil
}

// LatestSpectra returns every channel's most recent spectrum.
func (o *Orchestrator) LatestSpectra() ([]*spectral.Spectrum, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.latestSpectra) == 0 {
		return nil, wave.ErrNoResult
	}
	out := make([]*spectral.Spectrum, len(o.latestSpectra))
	copy(out, o.latestSpectra)
	return out, nil
}

// LatestAnalysis returns the most recent directional analysis.
func (o *Orchestrator) LatestAnalysis() (*wavedir.Analysis, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.latestAnalysis == nil {
		return nil, wave.ErrNoResult
	}
	return o.latestAnalysis, nil
}

// LatestStatistics returns the most recent scalar wave statistics.
func (o *Orchestrator) LatestStatistics() (*wavedir.WaveStatistics, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.latestStats == nil {
		return nil, wave.ErrNoResult
	}
	return o.latestStats, nil
}

// Processor exposes the spectral processor, for debug surfaces.
func (o *Orchestrator) Processor() *spectral.Processor { return o.proc }

// Analyzer exposes the directional analyzer, for debug surfaces.
func (o *Orchestrator) Analyzer() *wavedir.Analyzer { return o.analyzer }

// noteWarning records a session-level warning flag.
func (o *Orchestrator) noteWarning(w wave.Warning) {
	o.mu.Lock()
	o.warnings[w] = true
	o.mu.Unlock()
}

func (o *Orchestrator) warningListLocked() []wave.Warning {
	if len(o.warnings) == 0 {
		return nil
	}
	out := make([]wave.Warning, 0, len(o.warnings))
	for w := range o.warnings {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
