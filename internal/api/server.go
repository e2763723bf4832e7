// Package api exposes the wave station over HTTP: acquisition control,
// latest analysis results, the session catalog, and debug charts.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hydrolab-data/seastate/internal/monitoring"
	"github.com/hydrolab-data/seastate/internal/pipeline"
	"github.com/hydrolab-data/seastate/internal/session"
	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/units"
	"github.com/hydrolab-data/seastate/internal/wavedir"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the slice of the station the HTTP layer drives. The
// root facade satisfies it.
type Controller interface {
	StartAcquisition(ctx context.Context) error
	PauseAcquisition() error
	ResumeAcquisition() error
	StopAcquisition() error
	AcquisitionState() pipeline.State
	AcquisitionStats() pipeline.Stats
	LatestSpectra() ([]*spectral.Spectrum, error)
	LatestAnalysis() (*wavedir.Analysis, error)
	WaveStatistics() (*wavedir.WaveStatistics, error)
}

// Server serves the station API. The catalog may be nil when the
// station runs without one; the session endpoints then report 404.
type Server struct {
	station    Controller
	catalog    *session.Catalog
	units      string
	sessionDir string
}

// NewServer builds an API server reporting heights in the given units.
// sessionDir bounds the container paths the verify endpoint accepts.
func NewServer(station Controller, catalog *session.Catalog, heightUnits, sessionDir string) *Server {
	if !units.IsValidHeightUnit(heightUnits) {
		heightUnits = units.Metres
	}
	return &Server{
		station:    station,
		catalog:    catalog,
		units:      heightUnits,
		sessionDir: sessionDir,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the station route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/acquisition/start", s.startAcquisition)
	mux.HandleFunc("/api/acquisition/pause", s.pauseAcquisition)
	mux.HandleFunc("/api/acquisition/resume", s.resumeAcquisition)
	mux.HandleFunc("/api/acquisition/stop", s.stopAcquisition)
	mux.HandleFunc("/api/acquisition/state", s.showAcquisitionState)
	mux.HandleFunc("/api/spectrum", s.showSpectrum)
	mux.HandleFunc("/api/analysis", s.showAnalysis)
	mux.HandleFunc("/api/wave_stats", s.showWaveStats)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/stats", s.showSessionStats)
	mux.HandleFunc("/api/sessions/verify", s.verifySession)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/charts/spectrum", s.spectrumChart)
	mux.HandleFunc("/charts/direction", s.directionChart)
	mux.HandleFunc("/charts/buffer", s.bufferChart)
	mux.HandleFunc("/charts/spectrum.png", s.spectrumPNG)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"state":  s.station.AcquisitionState().String(),
	})
}
