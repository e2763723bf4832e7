package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hydrolab-data/seastate/internal/sealstore"
	"github.com/hydrolab-data/seastate/internal/security"
	"github.com/hydrolab-data/seastate/internal/session"
	"github.com/hydrolab-data/seastate/internal/spectral"
	"github.com/hydrolab-data/seastate/internal/units"
	"github.com/hydrolab-data/seastate/internal/wave"
)

// controlStatus maps a state machine rejection onto 409 so operators
// can tell "wrong state" from a real failure.
func controlStatus(err error) int {
	if errors.Is(err, wave.ErrInvalidTransition) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) startAcquisition(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.station.StartAcquisition(r.Context()); err != nil {
		s.writeJSONError(w, controlStatus(err), fmt.Sprintf("Failed to start acquisition: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"state": s.station.AcquisitionState().String()})
}

func (s *Server) pauseAcquisition(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.station.PauseAcquisition(); err != nil {
		s.writeJSONError(w, controlStatus(err), fmt.Sprintf("Failed to pause acquisition: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"state": s.station.AcquisitionState().String()})
}

func (s *Server) resumeAcquisition(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.station.ResumeAcquisition(); err != nil {
		s.writeJSONError(w, controlStatus(err), fmt.Sprintf("Failed to resume acquisition: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"state": s.station.AcquisitionState().String()})
}

func (s *Server) stopAcquisition(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.station.StopAcquisition(); err != nil {
		s.writeJSONError(w, controlStatus(err), fmt.Sprintf("Failed to stop acquisition: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"state": s.station.AcquisitionState().String()})
}

func (s *Server) showAcquisitionState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := json.NewEncoder(w).Encode(s.station.AcquisitionStats()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write acquisition state")
		return
	}
}

// latestSpectrum resolves the channel query parameter against the most
// recent per-channel spectra.
func (s *Server) latestSpectrum(r *http.Request) (*spectral.Spectrum, int, error) {
	spectra, err := s.station.LatestSpectra()
	if err != nil {
		if errors.Is(err, wave.ErrNoResult) {
			return nil, http.StatusNotFound, fmt.Errorf("no analysis has completed yet")
		}
		return nil, http.StatusInternalServerError, err
	}
	channel := 0
	if c := r.URL.Query().Get("channel"); c != "" {
		parsed, err := strconv.Atoi(c)
		if err != nil || parsed < 0 || parsed >= len(spectra) {
			return nil, http.StatusBadRequest, fmt.Errorf("invalid 'channel' parameter")
		}
		channel = parsed
	}
	return spectra[channel], 0, nil
}

func (s *Server) showSpectrum(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sp, status, err := s.latestSpectrum(r)
	if err != nil {
		s.writeJSONError(w, status, err.Error())
		return
	}

	targetUnits := s.heightUnits(r)
	out := *sp
	if targetUnits != units.Metres {
		mags := make([]float64, len(sp.Magnitudes))
		for i, m := range sp.Magnitudes {
			mags[i] = units.ConvertHeight(m, targetUnits)
		}
		out.Magnitudes = mags
	}

	resp := map[string]interface{}{
		"units":    targetUnits,
		"spectrum": &out,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write spectrum")
		return
	}
}

func (s *Server) showAnalysis(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	analysis, err := s.station.LatestAnalysis()
	if err != nil {
		if errors.Is(err, wave.ErrNoResult) {
			s.writeJSONError(w, http.StatusNotFound, "no analysis has completed yet")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve analysis: %v", err))
		return
	}
	if err := json.NewEncoder(w).Encode(analysis); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write analysis")
		return
	}
}

// heightUnits resolves the per-request unit override.
func (s *Server) heightUnits(r *http.Request) string {
	if u := r.URL.Query().Get("units"); u != "" && units.IsValidHeightUnit(u) {
		return u
	}
	return s.units
}

func (s *Server) showWaveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if u := r.URL.Query().Get("units"); u != "" && !units.IsValidHeightUnit(u) {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid 'units' parameter, expected one of: %s", units.ValidHeightUnitsString()))
		return
	}

	stats, err := s.station.WaveStatistics()
	if err != nil {
		if errors.Is(err, wave.ErrNoResult) {
			s.writeJSONError(w, http.StatusNotFound, "no statistics have been computed yet")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve statistics: %v", err))
		return
	}

	targetUnits := s.heightUnits(r)
	converted := *stats
	converted.SignificantHeight = units.ConvertHeight(stats.SignificantHeight, targetUnits)
	converted.MaxHeight = units.ConvertHeight(stats.MaxHeight, targetUnits)
	converted.Hm0 = units.ConvertHeight(stats.Hm0, targetUnits)
	converted.RayleighSigma = units.ConvertHeight(stats.RayleighSigma, targetUnits)

	resp := map[string]interface{}{
		"units":      targetUnits,
		"statistics": &converted,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write statistics")
		return
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.catalog == nil {
		s.writeJSONError(w, http.StatusNotFound, "no session catalog configured")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.catalog.Sessions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sessions")
		return
	}
}

func (s *Server) showSessionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.catalog == nil {
		s.writeJSONError(w, http.StatusNotFound, "no session catalog configured")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'session_id' parameter")
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	rows, err := s.catalog.StatsForSession(sessionID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve session stats: %v", err))
		return
	}
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write session stats")
		return
	}
}

// verifyResponse is the integrity audit result for one container.
type verifyResponse struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// verifySession re-checks a sealed container against its recorded
// digest. The container is addressed by catalog session_id, or by a
// path constrained to the session directory. The outcome is recorded
// in the integrity audit log.
func (s *Server) verifySession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var path string
	if id := r.FormValue("session_id"); id != "" {
		if s.catalog == nil {
			s.writeJSONError(w, http.StatusNotFound, "no session catalog configured")
			return
		}
		rec, err := s.catalog.SessionByID(id)
		if err != nil {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown session %q", id))
			return
		}
		path = rec.ContainerPath
	} else if p := r.FormValue("path"); p != "" {
		if s.sessionDir == "" {
			s.writeJSONError(w, http.StatusBadRequest, "path verification requires a configured session directory")
			return
		}
		if err := security.ValidatePathWithinDirectory(p, s.sessionDir); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid container path: %v", err))
			return
		}
		path = p
	} else {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'session_id' or 'path' parameter")
		return
	}

	verifyErr := sealstore.VerifyFile(path)
	resp := verifyResponse{Path: path, Status: session.AuditStatus(verifyErr)}
	if verifyErr != nil {
		resp.Detail = verifyErr.Error()
	}

	if s.catalog != nil {
		if err := s.catalog.RecordAudit(session.AuditRecord{
			ContainerPath: path,
			Status:        resp.Status,
			Detail:        resp.Detail,
		}); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to record audit: %v", err))
			return
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write audit result")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	config := map[string]interface{}{
		"units":       s.units,
		"session_dir": s.sessionDir,
		"state":       s.station.AcquisitionState().String(),
	}
	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
