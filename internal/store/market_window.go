package store

import (
	"database/sql"

	"martin/internal/apperr"
)

// MarketWindow is one hourly binary market.
type MarketWindow struct {
	ID            int64
	Asset         string
	Slug          string
	ConditionID   string
	UpTokenID     string
	DownTokenID   string
	StartTS       int64
	EndTS         int64
	Outcome       *string // UP | DOWN | nil
	CreatedAt     string
}

// Expired reports whether currentTS has reached the window's end.
func (w *MarketWindow) Expired(currentTS int64) bool { return currentTS >= w.EndTS }

type MarketWindowRepo struct{ db *sql.DB }

// Create persists a new window and assigns its ID. Slug is unique;
// violating that is surfaced as a StorageError so discovery can treat it
// as "already known" at the caller's discretion.
func (r *MarketWindowRepo) Create(w *MarketWindow) error {
	res, err := r.db.Exec(`
		INSERT INTO market_windows (asset, slug, condition_id, up_token_id, down_token_id, start_ts, end_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.Asset, w.Slug, w.ConditionID, w.UpTokenID, w.DownTokenID, w.StartTS, w.EndTS)
	if err != nil {
		return apperr.Storage("insert market_window", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperr.Storage("read market_window id", err)
	}
	w.ID = id
	return nil
}

// GetBySlug returns the window with the given slug, or nil if absent.
func (r *MarketWindowRepo) GetBySlug(slug string) (*MarketWindow, error) {
	row := r.db.QueryRow(`
		SELECT id, asset, slug, condition_id, up_token_id, down_token_id, start_ts, end_ts, outcome, created_at
		FROM market_windows WHERE slug = ?
	`, slug)
	return scanMarketWindow(row)
}

// Get returns the window with the given id, or nil if absent.
func (r *MarketWindowRepo) Get(id int64) (*MarketWindow, error) {
	row := r.db.QueryRow(`
		SELECT id, asset, slug, condition_id, up_token_id, down_token_id, start_ts, end_ts, outcome, created_at
		FROM market_windows WHERE id = ?
	`, id)
	return scanMarketWindow(row)
}

// ListNonExpiredWithoutOutcome returns every window with end_ts > currentTS
// and outcome not yet set.
func (r *MarketWindowRepo) ListNonExpiredWithoutOutcome(currentTS int64) ([]*MarketWindow, error) {
	rows, err := r.db.Query(`
		SELECT id, asset, slug, condition_id, up_token_id, down_token_id, start_ts, end_ts, outcome, created_at
		FROM market_windows WHERE end_ts > ? AND outcome IS NULL
	`, currentTS)
	if err != nil {
		return nil, apperr.Storage("list non-expired market_windows", err)
	}
	defer rows.Close()
	var out []*MarketWindow
	for rows.Next() {
		w, err := scanMarketWindowRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// SetOutcome writes the window's outcome exactly once. Callers must have
// verified currentTS >= end_ts.
func (r *MarketWindowRepo) SetOutcome(id int64, outcome string) error {
	_, err := r.db.Exec(`UPDATE market_windows SET outcome = ? WHERE id = ? AND outcome IS NULL`, outcome, id)
	if err != nil {
		return apperr.Storage("set market_window outcome", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanMarketWindow(row *sql.Row) (*MarketWindow, error) {
	w, err := scanMarketWindowRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func scanMarketWindowRows(s scannable) (*MarketWindow, error) {
	var w MarketWindow
	var outcome sql.NullString
	err := s.Scan(&w.ID, &w.Asset, &w.Slug, &w.ConditionID, &w.UpTokenID, &w.DownTokenID,
		&w.StartTS, &w.EndTS, &outcome, &w.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apperr.Storage("scan market_window", err)
	}
	if outcome.Valid {
		w.Outcome = &outcome.String
	}
	return &w, nil
}
