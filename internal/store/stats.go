package store

import (
	"database/sql"

	"martin/internal/apperr"
)

// Stats is the process-wide singleton row (id = 1) tracking streaks,
// policy mode, and running totals.
type Stats struct {
	TradeLevelStreak         int
	NightStreak              int
	PolicyMode               string // BASE | STRICT
	TotalTrades              int
	TotalWins                int
	TotalLosses              int
	LastStrictDayThreshold   float64
	LastStrictNightThreshold float64
	LastQuantileUpdateTS     int64
	IsPaused                 bool
	DayOnly                  bool
	NightOnly                bool
}

type StatsRepo struct{ db *sql.DB }

// ensureSingleton inserts the id=1 row with zero-value defaults if the
// table is empty, so every later Get has a row to read.
func (r *StatsRepo) ensureSingleton() error {
	_, err := r.db.Exec(`INSERT OR IGNORE INTO stats (id, policy_mode) VALUES (1, 'BASE')`)
	if err != nil {
		return apperr.Storage("ensure stats singleton", err)
	}
	return nil
}

// Get reads the singleton stats row.
func (r *StatsRepo) Get() (*Stats, error) {
	row := r.db.QueryRow(`
		SELECT trade_level_streak, night_streak, policy_mode, total_trades, total_wins, total_losses,
			last_strict_day_threshold, last_strict_night_threshold, last_quantile_update_ts,
			is_paused, day_only, night_only
		FROM stats WHERE id = 1
	`)
	var s Stats
	err := row.Scan(&s.TradeLevelStreak, &s.NightStreak, &s.PolicyMode, &s.TotalTrades, &s.TotalWins, &s.TotalLosses,
		&s.LastStrictDayThreshold, &s.LastStrictNightThreshold, &s.LastQuantileUpdateTS,
		&s.IsPaused, &s.DayOnly, &s.NightOnly)
	if err != nil {
		return nil, apperr.Storage("scan stats", err)
	}
	return &s, nil
}

// Save persists every mutable field of s. Written only by the stats
// service, on settlement and quantile refresh.
func (r *StatsRepo) Save(s *Stats) error {
	_, err := r.db.Exec(`
		UPDATE stats SET
			trade_level_streak = ?, night_streak = ?, policy_mode = ?, total_trades = ?,
			total_wins = ?, total_losses = ?, last_strict_day_threshold = ?,
			last_strict_night_threshold = ?, last_quantile_update_ts = ?,
			is_paused = ?, day_only = ?, night_only = ?
		WHERE id = 1
	`, s.TradeLevelStreak, s.NightStreak, s.PolicyMode, s.TotalTrades, s.TotalWins, s.TotalLosses,
		s.LastStrictDayThreshold, s.LastStrictNightThreshold, s.LastQuantileUpdateTS,
		s.IsPaused, s.DayOnly, s.NightOnly)
	if err != nil {
		return apperr.Storage("update stats", err)
	}
	return nil
}

// SetPaused flips is_paused; while it is set the orchestrator skips its
// cycles.
func (r *StatsRepo) SetPaused(paused bool) error {
	_, err := r.db.Exec(`UPDATE stats SET is_paused = ? WHERE id = 1`, paused)
	if err != nil {
		return apperr.Storage("set stats paused flag", err)
	}
	return nil
}
