package store

import (
	"database/sql"

	"martin/internal/apperr"
)

// Signal is at most one per window, created on the SEARCHING_SIGNAL ->
// SIGNALLED transition and immutable thereafter.
type Signal struct {
	ID               int64
	WindowID         int64
	Direction        string // UP | DOWN
	SignalTS         int64
	ConfirmTS        int64
	Quality          float64
	QualityBreakdown string // opaque JSON blob
	AnchorBarTS      int64
}

type SignalRepo struct{ db *sql.DB }

// Create persists a new signal and assigns its ID.
func (r *SignalRepo) Create(s *Signal) error {
	res, err := r.db.Exec(`
		INSERT INTO signals (window_id, direction, signal_ts, confirm_ts, quality, quality_breakdown, anchor_bar_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.WindowID, s.Direction, s.SignalTS, s.ConfirmTS, s.Quality, s.QualityBreakdown, s.AnchorBarTS)
	if err != nil {
		return apperr.Storage("insert signal", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperr.Storage("read signal id", err)
	}
	s.ID = id
	return nil
}

// Get returns the signal with the given id, or nil if absent.
func (r *SignalRepo) Get(id int64) (*Signal, error) {
	row := r.db.QueryRow(`
		SELECT id, window_id, direction, signal_ts, confirm_ts, quality, quality_breakdown, anchor_bar_ts
		FROM signals WHERE id = ?
	`, id)
	var s Signal
	err := row.Scan(&s.ID, &s.WindowID, &s.Direction, &s.SignalTS, &s.ConfirmTS, &s.Quality, &s.QualityBreakdown, &s.AnchorBarTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("scan signal", err)
	}
	return &s, nil
}

// QualifyingQuality is one historical STRICT-threshold sample: a
// quality score from a trade that counted for streak, keyed by time
// mode, used by internal/stats' rolling quantile.
type QualifyingQuality struct {
	TimeMode string
	Quality  float64
}

// ListQualifyingSince returns the quality of every signal belonging to a
// trade that counted for streak (decision in {OK, AUTO_OK}, fill_status
// FILLED), created at or after sinceTS, newest first, capped at limit.
func (r *SignalRepo) ListQualifyingSince(sinceTS int64, limit int) ([]QualifyingQuality, error) {
	rows, err := r.db.Query(`
		SELECT t.time_mode, s.quality, t.created_at
		FROM signals s
		JOIN trades t ON t.signal_id = s.id
		WHERE t.decision IN ('OK', 'AUTO_OK') AND t.fill_status = 'FILLED' AND s.signal_ts >= ?
		ORDER BY t.created_at DESC
		LIMIT ?
	`, sinceTS, limit)
	if err != nil {
		return nil, apperr.Storage("list qualifying signal qualities", err)
	}
	defer rows.Close()
	var out []QualifyingQuality
	for rows.Next() {
		var q QualifyingQuality
		var createdAt string
		if err := rows.Scan(&q.TimeMode, &q.Quality, &createdAt); err != nil {
			return nil, apperr.Storage("scan qualifying quality", err)
		}
		out = append(out, q)
	}
	return out, nil
}
