// Package session is the sqlite catalog of recorded sessions. The
// containers themselves live on disk as sealed .ssc files; the catalog
// indexes them together with their latest scalar statistics and the
// outcomes of integrity audits.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hydrolab-data/seastate/internal/wave"
)

// Catalog wraps the sqlite handle. The schema is managed by the
// embedded migrations; call MigrateUp after Open.
type Catalog struct {
	*sql.DB
	path string
}

// Open opens (or creates) the catalog database at path and applies the
// connection pragmas.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &Catalog{DB: db, path: path}, nil
}

// Path returns the catalog database path.
func (c *Catalog) Path() string { return c.path }

// Record is one catalog row describing a recorded session.
type Record struct {
	ID            string  `json:"id"`
	StartedNs     int64   `json:"started_ns"`
	EndedNs       int64   `json:"ended_ns,omitempty"`
	SampleRate    float64 `json:"sample_rate"`
	ChannelCount  int     `json:"channel_count"`
	WaterDepthM   float64 `json:"water_depth_m,omitempty"`
	ContainerPath string  `json:"container_path"`
	Sealed        bool    `json:"sealed"`
	SealHex       string  `json:"seal_hex,omitempty"`
	FrameCount    int64   `json:"frame_count"`
	Warnings      string  `json:"warnings,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// RecordSession inserts a new session row. The row starts unsealed;
// FinishSession fills in the terminal fields when the run ends.
func (c *Catalog) RecordSession(rec Record) error {
	if rec.ID == "" {
		return &wave.ValidationError{Field: "session.ID", Reason: "must not be empty"}
	}
	_, err := c.Exec(
		`INSERT INTO sessions (
			id, started_ns, ended_ns, sample_rate, channel_count, water_depth_m,
			container_path, sealed, seal_hex, frame_count, warnings, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedNs, rec.EndedNs, rec.SampleRate, rec.ChannelCount, rec.WaterDepthM,
		rec.ContainerPath, rec.Sealed, rec.SealHex, rec.FrameCount, rec.Warnings, rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", rec.ID, err)
	}
	return nil
}

// FinishSession closes out a session row with its terminal state.
func (c *Catalog) FinishSession(id string, endedNs int64, sealed bool, sealHex string, frameCount int64, warnings []wave.Warning) error {
	tags := make([]string, len(warnings))
	for i, w := range warnings {
		tags[i] = w.String()
	}

	res, err := c.Exec(
		`UPDATE sessions SET ended_ns = ?, sealed = ?, seal_hex = ?, frame_count = ?, warnings = ?
		 WHERE id = ?`,
		endedNs, sealed, sealHex, frameCount, strings.Join(tags, ","), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("session: unknown session %s", id)
	}
	return nil
}

// Sessions returns the most recently started sessions, newest first.
func (c *Catalog) Sessions(limit int) ([]Record, error) {
	rows, err := c.Query(
		`SELECT id, started_ns, ended_ns, sample_rate, channel_count, water_depth_m,
		        container_path, sealed, seal_hex, frame_count, warnings, notes
		 FROM sessions ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.StartedNs, &rec.EndedNs, &rec.SampleRate, &rec.ChannelCount, &rec.WaterDepthM,
			&rec.ContainerPath, &rec.Sealed, &rec.SealHex, &rec.FrameCount, &rec.Warnings, &rec.Notes,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// SessionByID returns one session row, or sql.ErrNoRows.
func (c *Catalog) SessionByID(id string) (Record, error) {
	var rec Record
	err := c.QueryRow(
		`SELECT id, started_ns, ended_ns, sample_rate, channel_count, water_depth_m,
		        container_path, sealed, seal_hex, frame_count, warnings, notes
		 FROM sessions WHERE id = ?`, id).Scan(
		&rec.ID, &rec.StartedNs, &rec.EndedNs, &rec.SampleRate, &rec.ChannelCount, &rec.WaterDepthM,
		&rec.ContainerPath, &rec.Sealed, &rec.SealHex, &rec.FrameCount, &rec.Warnings, &rec.Notes,
	)
	return rec, err
}

// StatsRecord is one scalar statistics row. Heights are meters,
// periods seconds, directions degrees.
type StatsRecord struct {
	ID                 int64   `json:"id"`
	SessionID          string  `json:"session_id"`
	ComputedNs         int64   `json:"computed_ns"`
	WaveCount          int     `json:"wave_count"`
	SignificantHeightM float64 `json:"significant_height_m"`
	MaxHeightM         float64 `json:"max_height_m"`
	MeanPeriodS        float64 `json:"mean_period_s"`
	Hm0M               float64 `json:"hm0_m"`
	Tm01S              float64 `json:"tm01_s"`
	Tm02S              float64 `json:"tm02_s"`
	PeakPeriodS        float64 `json:"peak_period_s"`
	MeanDirectionDeg   float64 `json:"mean_direction_deg"`
	SpreadDeg          float64 `json:"spread_deg"`
	RayleighSigmaM     float64 `json:"rayleigh_sigma_m"`
	RayleighGoodness   float64 `json:"rayleigh_goodness"`
}

// RecordStats inserts one statistics row for a session.
func (c *Catalog) RecordStats(rec StatsRecord) error {
	_, err := c.Exec(
		`INSERT INTO wave_stats (
			session_id, computed_ns, wave_count, significant_height_m, max_height_m,
			mean_period_s, hm0_m, tm01_s, tm02_s, peak_period_s,
			mean_direction_deg, spread_deg, rayleigh_sigma_m, rayleigh_goodness
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.ComputedNs, rec.WaveCount, rec.SignificantHeightM, rec.MaxHeightM,
		rec.MeanPeriodS, rec.Hm0M, rec.Tm01S, rec.Tm02S, rec.PeakPeriodS,
		rec.MeanDirectionDeg, rec.SpreadDeg, rec.RayleighSigmaM, rec.RayleighGoodness,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stats for session %s: %w", rec.SessionID, err)
	}
	return nil
}

// StatsForSession returns a session's statistics rows, newest first.
func (c *Catalog) StatsForSession(sessionID string, limit int) ([]StatsRecord, error) {
	rows, err := c.Query(
		`SELECT id, session_id, computed_ns, wave_count, significant_height_m, max_height_m,
		        mean_period_s, hm0_m, tm01_s, tm02_s, peak_period_s,
		        mean_direction_deg, spread_deg, rayleigh_sigma_m, rayleigh_goodness
		 FROM wave_stats WHERE session_id = ? ORDER BY computed_ns DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StatsRecord
	for rows.Next() {
		var rec StatsRecord
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.ComputedNs, &rec.WaveCount, &rec.SignificantHeightM, &rec.MaxHeightM,
			&rec.MeanPeriodS, &rec.Hm0M, &rec.Tm01S, &rec.Tm02S, &rec.PeakPeriodS,
			&rec.MeanDirectionDeg, &rec.SpreadDeg, &rec.RayleighSigmaM, &rec.RayleighGoodness,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// LatestStats returns the newest statistics row for a session, or
// sql.ErrNoRows when none exist yet.
func (c *Catalog) LatestStats(sessionID string) (StatsRecord, error) {
	records, err := c.StatsForSession(sessionID, 1)
	if err != nil {
		return StatsRecord{}, err
	}
	if len(records) == 0 {
		return StatsRecord{}, sql.ErrNoRows
	}
	return records[0], nil
}

// Audit statuses recorded in integrity_audits.
const (
	AuditOK        = "ok"
	AuditUnknown   = "unknown"
	AuditViolation = "violation"
	AuditError     = "error"
)

// AuditStatus classifies a container verification outcome.
func AuditStatus(err error) string {
	switch {
	case err == nil:
		return AuditOK
	case errors.Is(err, wave.ErrIntegrityUnknown):
		return AuditUnknown
	case errors.Is(err, wave.ErrIntegrityViolation):
		return AuditViolation
	default:
		return AuditError
	}
}

// AuditRecord is one integrity audit outcome.
type AuditRecord struct {
	ID            int64  `json:"id"`
	ContainerPath string `json:"container_path"`
	Status        string `json:"status"`
	Detail        string `json:"detail,omitempty"`
	AuditedNs     int64  `json:"audited_ns"`
}

// RecordAudit inserts one integrity audit outcome.
func (c *Catalog) RecordAudit(rec AuditRecord) error {
	_, err := c.Exec(
		`INSERT INTO integrity_audits (container_path, status, detail, audited_ns)
		 VALUES (?, ?, ?, ?)`,
		rec.ContainerPath, rec.Status, rec.Detail, rec.AuditedNs)
	if err != nil {
		return fmt.Errorf("failed to insert integrity audit: %w", err)
	}
	return nil
}

// Audits returns the most recent integrity audits, newest first.
func (c *Catalog) Audits(limit int) ([]AuditRecord, error) {
	rows, err := c.Query(
		`SELECT id, container_path, status, detail, audited_ns
		 FROM integrity_audits ORDER BY audited_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.ID, &rec.ContainerPath, &rec.Status, &rec.Detail, &rec.AuditedNs); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
