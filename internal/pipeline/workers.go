package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/hydrolab-data/seastate/internal/monitoring"
	"github.com/hydrolab-data/seastate/internal/probe"
	"github.com/hydrolab-data/seastate/internal/sealstore"
	"github.com/hydrolab-data/seastate/internal/session"
	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/wave"
	"github.com/hydrolab-data/seastate/internal/wavedir"
)

// produce pulls frames from the source and writes them into the ring.
// It paces free-running sources to the sample rate so a replayed file
// arrives like live data. A closed source ends the session cleanly;
// any other source failure ends it in StateError. Sealing happens in
// both cases.
func (o *Orchestrator) produce(ctx context.Context) {
	defer close(o.produceDone)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if max := o.cfg.MaxSessionDuration; max > 0 {
			o.mu.Lock()
			started := o.startedAt
			o.mu.Unlock()
			if o.clock.Since(started) >= max {
				monitoring.Logf("pipeline: session duration limit %s reached", max)
				o.triggerStop(nil)
				return
			}
		}

		if o.State() == StatePaused {
			select {
			case <-ctx.Done():
				return
			case <-o.clock.After(o.cfg.PollTimeout):
			}
			continue
		}

		pollStart := o.clock.Now()
		pollCtx, cancel := context.WithTimeout(ctx, o.cfg.PollTimeout)
		frames, err := o.cfg.Source.PullSamples(pollCtx, o.cfg.PollBatch)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, probe.ErrSourceClosed):
				monitoring.Logf("pipeline: source exhausted, ending session %s", o.SessionID())
				o.triggerStop(nil)
				return
			default:
				monitoring.Logf("pipeline: source failure: %v", err)
				o.triggerStop(err)
				return
			}
		}

		for _, f := range frames {
			if err := o.buffer.WriteContext(ctx, f); err != nil {
				return
			}
		}
		o.paceBatch(ctx, len(frames), pollStart)
	}
}

// paceBatch sleeps off the remainder of a batch's real-time duration.
// A source that blocks at its own cadence leaves nothing to sleep.
func (o *Orchestrator) paceBatch(ctx context.Context, n int, pollStart time.Time) {
	rate := o.cfg.Spectral.SampleRate
	if n == 0 || rate <= 0 {
		return
	}
	target := time.Duration(float64(n) / rate * float64(time.Second))
	elapsed := o.clock.Since(pollStart)
	if elapsed >= target {
		return
	}
	select {
	case <-ctx.Done():
	case <-o.clock.After(target - elapsed):
	}
}

// analyze is the buffer's only consumer. It forwards raw batches to
// the persistence queue, accumulates per-channel samples, and runs one
// analysis per complete non-overlapping window. It keeps draining
// after the buffer closes, so shutdown never loses buffered frames.
func (o *Orchestrator) analyze() {
	defer close(o.analyzeDone)
	channels := o.cfg.Geometry.Count()
	pending := make([][]float64, channels)

	for {
		frames, err := o.buffer.ReadBatchWait(context.Background(), o.cfg.PollBatch, o.cfg.AnalysisInterval)
		if err != nil {
			if errors.Is(err, wave.ErrReadTimeout) {
				continue
			}
			// Buffer closed and fully drained.
			return
		}

		o.enqueuePersist(persistItem{frames: frames})

		for _, f := range frames {
			if len(f.Samples) != channels {
				o.integrityErrors.Add(1)
				monitoring.Logf("pipeline: frame seq %d carries %d channels, want %d; dropped from analysis", f.Seq, len(f.Samples), channels)
				continue
			}
			for c := 0; c < channels; c++ {
				pending[c] = append(pending[c], f.Samples[c])
			}
		}

		for len(pending[0]) >= o.cfg.WindowLength {
			o.runAnalysis(pending)
			for c := range pending {
				pending[c] = append(pending[c][:0], pending[c][o.cfg.WindowLength:]...)
			}
		}
	}
}

// runAnalysis processes the oldest complete window in pending: one
// spectrum per channel, the directional estimate across channels, and
// scalar statistics from the reference channel. A window with corrupt
// samples is counted and skipped; the session keeps running.
func (o *Orchestrator) runAnalysis(pending [][]float64) {
	n := o.cfg.WindowLength
	spectra := make([]*spectral.Spectrum, len(pending))
	for c := range pending {
		sp, err := o.proc.Compute(c, pending[c][:n])
		if err != nil {
			var dataErr *wave.DataIntegrityError
			if errors.As(err, &dataErr) {
				o.integrityErrors.Add(1)
				monitoring.Logf("pipeline: window skipped: %v", err)
			} else {
				monitoring.Logf("pipeline: spectrum failed on channel %d: %v", c, err)
			}
			return
		}
		spectra[c] = sp
	}

	record := &AnalysisRecord{
		ComputedNs: o.clock.Now().UnixNano(),
		Spectrum:   spectra[0],
	}

	analysis, err := o.analyzer.Analyze(context.Background(), spectra)
	if err != nil {
		monitoring.Logf("pipeline: directional analysis failed: %v", err)
	} else {
		record.Analysis = analysis
		for _, w := range analysis.Warnings {
			o.noteWarning(w)
		}
	}

	stats, err := wavedir.ComputeStatistics(pending[0][:n], o.cfg.Spectral.SampleRate, spectra[0])
	if err != nil {
		monitoring.Logf("pipeline: wave statistics failed: %v", err)
	} else {
		record.Statistics = stats
	}

	o.mu.Lock()
	o.latestSpectra = spectra
	if analysis != nil {
		o.latestAnalysis = analysis
	}
	if stats != nil {
		o.latestStats = stats
	}
	o.mu.Unlock()
	o.analyses.Add(1)

	o.enqueuePersist(persistItem{record: record})
	o.recordCatalogStats(record)
}

// recordCatalogStats mirrors one analysis into the catalog, when a
// catalog is attached and the window produced statistics.
func (o *Orchestrator) recordCatalogStats(record *AnalysisRecord) {
	if o.cfg.Catalog == nil || record.Statistics == nil {
		return
	}
	rec := session.StatsRecord{
		SessionID:          o.SessionID(),
		ComputedNs:         record.ComputedNs,
		WaveCount:          record.Statistics.WaveCount,
		SignificantHeightM: record.Statistics.SignificantHeight,
		MaxHeightM:         record.Statistics.MaxHeight,
		MeanPeriodS:        record.Statistics.MeanPeriod,
		Hm0M:               record.Statistics.Hm0,
		Tm01S:              record.Statistics.MeanPeriodTm01,
		Tm02S:              record.Statistics.MeanPeriodTm02,
		PeakPeriodS:        record.Statistics.PeakPeriod,
		RayleighSigmaM:     record.Statistics.RayleighSigma,
		RayleighGoodness:   record.Statistics.RayleighGoodness,
	}
	if record.Analysis != nil {
		rec.MeanDirectionDeg = record.Analysis.MeanDirectionDeg
		rec.SpreadDeg = record.Analysis.SpreadDeg
	}
	if err := o.cfg.Catalog.RecordStats(rec); err != nil {
		monitoring.Logf("pipeline: %v", err)
	}
}

// enqueuePersist hands one item to the persister. A full queue raises
// the backpressure signal first and then blocks; the queue never grows
// beyond its configured depth.
func (o *Orchestrator) enqueuePersist(item persistItem) {
	select {
	case o.persistCh <- item:
		return
	default:
	}

	o.backpressure.Add(1)
	o.noteWarning(wave.WarnPersistenceBackpressure)
	monitoring.Logf("pipeline: persistence queue full (depth %d), producer blocked", o.cfg.PersistenceQueueDepth)
	o.persistCh <- item
}

// persistLoop drains the persistence queue into the container. Write
// errors are logged; the writer keeps the first error sticky, so a
// damaged session surfaces when sealing.
func (o *Orchestrator) persistLoop() {
	defer close(o.persistDone)
	for item := range o.persistCh {
		var err error
		switch {
		case item.frames != nil:
			err = o.writer.WriteFrames(item.frames)
		case item.record != nil:
			err = o.writer.WriteJSONBlock(sealstore.BlockAnalysis, item.record)
		}
		if err != nil {
			monitoring.Logf("pipeline: persist failed: %v", err)
		}
	}
}

// finalize runs the shutdown sequence: stop the producer, drain the
// buffer through the analysis worker, drain the persistence queue,
// then seal the container and close out the catalog row. It ends in
// StateStopped, or StateError when a source failure triggered the
// stop.
func (o *Orchestrator) finalize() {
	o.produceCancel()
	<-o.produceDone

	if err := o.cfg.Source.Stop(); err != nil {
		monitoring.Logf("pipeline: source stop: %v", err)
	}

	o.buffer.Close()
	<-o.analyzeDone

	close(o.persistCh)
	<-o.persistDone

	o.mu.Lock()
	writer := o.writer
	id := o.sessionID
	stats := o.latestStats
	o.mu.Unlock()

	if stats != nil {
		if err := writer.WriteJSONBlock(sealstore.BlockStatistics, stats); err != nil {
			monitoring.Logf("pipeline: statistics summary: %v", err)
		}
	}

	var finalErr error
	sealed := false
	sealHex := ""
	digest, err := writer.Seal()
	if err != nil {
		finalErr = err
		monitoring.Logf("pipeline: failed to seal session %s: %v", id, err)
	} else {
		sealed = true
		sealHex = hex.EncodeToString(digest[:])
	}
	if err := writer.Close(); err != nil && finalErr == nil {
		finalErr = err
	}

	bufStats := o.buffer.Stats()
	o.mu.Lock()
	warnings := o.warningListLocked()
	o.mu.Unlock()
	if o.cfg.Catalog != nil {
		err := o.cfg.Catalog.FinishSession(id, o.clock.Now().UnixNano(), sealed, sealHex, int64(bufStats.TotalWritten), warnings)
		if err != nil {
			monitoring.Logf("pipeline: %v", err)
			if finalErr == nil {
				finalErr = err
			}
		}
	}

	if o.cfg.PlanManifest != "" {
		if err := o.proc.Plans().SaveManifest(o.cfg.PlanManifest); err != nil {
			monitoring.Logf("pipeline: plan manifest: %v", err)
		}
	}

	o.mu.Lock()
	if o.cause != nil {
		o.state = StateError
		if finalErr == nil {
			finalErr = o.cause
		}
	} else {
		o.state = StateStopped
	}
	o.finalErr = finalErr
	o.mu.Unlock()

	monitoring.Logf("pipeline: session %s %s: %d frames, %d analyses, sealed=%t",
		id, o.State(), bufStats.TotalWritten, o.analyses.Load(), sealed)
	close(o.stoppedCh)
}
