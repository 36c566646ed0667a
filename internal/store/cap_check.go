package store

import (
	"database/sql"

	"martin/internal/apperr"
	"martin/internal/capcheck"
)

// CapCheck is the persisted bookkeeping record for one WAITING_CAP
// validation.
type CapCheck struct {
	ID               int64
	TradeID          int64
	TokenID          string
	ConfirmTS        int64
	EndTS            int64
	Status           capcheck.Status
	ConsecutiveTicks int
	FirstPassTS      *int64
	PriceAtPass      *float64
}

type CapCheckRepo struct{ db *sql.DB }

// Create persists a new CapCheck. Its initial status is LATE iff
// confirm_ts >= end_ts, per §3's invariant — callers pass the already-
// decided initial status rather than recomputing it here.
func (r *CapCheckRepo) Create(c *CapCheck) error {
	res, err := r.db.Exec(`
		INSERT INTO cap_checks (trade_id, token_id, confirm_ts, end_ts, status, consecutive_ticks, first_pass_ts, price_at_pass)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.TradeID, c.TokenID, c.ConfirmTS, c.EndTS, c.Status, c.ConsecutiveTicks, c.FirstPassTS, c.PriceAtPass)
	if err != nil {
		return apperr.Storage("insert cap_check", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperr.Storage("read cap_check id", err)
	}
	c.ID = id
	return nil
}

// Save persists the result of a re-evaluation. CAP-validator errors must
// never reach this call (they propagate to the orchestrator without
// mutating status, per §7).
func (r *CapCheckRepo) Save(c *CapCheck) error {
	_, err := r.db.Exec(`
		UPDATE cap_checks SET status = ?, consecutive_ticks = ?, first_pass_ts = ?, price_at_pass = ?
		WHERE id = ?
	`, c.Status, c.ConsecutiveTicks, c.FirstPassTS, c.PriceAtPass, c.ID)
	if err != nil {
		return apperr.Storage("update cap_check", err)
	}
	return nil
}

// GetByTrade returns the CapCheck for a trade, or nil if none exists yet.
func (r *CapCheckRepo) GetByTrade(tradeID int64) (*CapCheck, error) {
	row := r.db.QueryRow(`
		SELECT id, trade_id, token_id, confirm_ts, end_ts, status, consecutive_ticks, first_pass_ts, price_at_pass
		FROM cap_checks WHERE trade_id = ?
	`, tradeID)
	var c CapCheck
	var firstPassTS sql.NullInt64
	var priceAtPass sql.NullFloat64
	err := row.Scan(&c.ID, &c.TradeID, &c.TokenID, &c.ConfirmTS, &c.EndTS, &c.Status,
		&c.ConsecutiveTicks, &firstPassTS, &priceAtPass)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("scan cap_check", err)
	}
	if firstPassTS.Valid {
		c.FirstPassTS = &firstPassTS.Int64
	}
	if priceAtPass.Valid {
		c.PriceAtPass = &priceAtPass.Float64
	}
	return &c, nil
}
