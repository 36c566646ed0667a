package store

import (
	"database/sql"

	"martin/internal/apperr"
	"martin/internal/tradefsm"
)

// Trade is the persisted form of tradefsm.Trade: the per-window
// lifecycle record.
type Trade struct {
	ID               int64
	WindowID         int64
	SignalID         *int64
	Status           tradefsm.Status
	TimeMode         string
	PolicyMode       string
	Decision         tradefsm.Decision
	CancelReason     *tradefsm.CancelReason
	TokenID          string
	OrderID          *string
	FillStatus       tradefsm.FillStatus
	FillPrice        *float64
	StakeAmount      float64
	PnL              *float64
	IsWin            *bool
	TradeLevelStreak int
	NightStreak      int
	CreatedAt        string
	UpdatedAt        string
}

// ToFSM converts the persisted row into a tradefsm.Trade for mutation.
func (t *Trade) ToFSM() *tradefsm.Trade {
	return &tradefsm.Trade{
		ID: t.ID, WindowID: t.WindowID, SignalID: t.SignalID, Status: t.Status,
		TimeMode: t.TimeMode, PolicyMode: t.PolicyMode, Decision: t.Decision,
		CancelReason: t.CancelReason, TokenID: t.TokenID, OrderID: t.OrderID,
		FillStatus: t.FillStatus, FillPrice: t.FillPrice, StakeAmount: t.StakeAmount,
		PnL: t.PnL, IsWin: t.IsWin, TradeLevelStreak: t.TradeLevelStreak, NightStreak: t.NightStreak,
	}
}

// FromFSM copies mutated FSM fields back onto the persisted row.
func (t *Trade) FromFSM(f *tradefsm.Trade) {
	t.SignalID, t.Status, t.Decision, t.CancelReason = f.SignalID, f.Status, f.Decision, f.CancelReason
	t.TokenID, t.OrderID, t.FillStatus, t.FillPrice = f.TokenID, f.OrderID, f.FillStatus, f.FillPrice
	t.PnL, t.IsWin = f.PnL, f.IsWin
}

type TradeRepo struct{ db *sql.DB }

// Create persists a new NEW trade for a window, snapshotting the current
// streak counters and policy/time mode at creation.
func (r *TradeRepo) Create(t *Trade) error {
	res, err := r.db.Exec(`
		INSERT INTO trades (window_id, status, time_mode, policy_mode, decision, fill_status,
			stake_amount, trade_level_streak, night_streak)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.WindowID, t.Status, t.TimeMode, t.PolicyMode, t.Decision, t.FillStatus,
		t.StakeAmount, t.TradeLevelStreak, t.NightStreak)
	if err != nil {
		return apperr.Storage("insert trade", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperr.Storage("read trade id", err)
	}
	t.ID = id
	return nil
}

// Save persists every mutable field of t (status, decision, cancel
// reason, token/order id, fill fields, pnl/win). Called after every
// tradefsm transition so the repository layer is the single writer and
// commits each mutation independently, per §5.
func (r *TradeRepo) Save(t *Trade) error {
	_, err := r.db.Exec(`
		UPDATE trades SET
			signal_id = ?, status = ?, decision = ?, cancel_reason = ?, token_id = ?,
			order_id = ?, fill_status = ?, fill_price = ?, pnl = ?, is_win = ?
		WHERE id = ?
	`, t.SignalID, t.Status, t.Decision, t.CancelReason, t.TokenID,
		t.OrderID, t.FillStatus, t.FillPrice, t.PnL, t.IsWin, t.ID)
	if err != nil {
		return apperr.Storage("update trade", err)
	}
	return nil
}

// NonTerminalForWindow returns the single non-terminal trade for a
// window, or nil if none exists (invariant: at most one).
func (r *TradeRepo) NonTerminalForWindow(windowID int64) (*Trade, error) {
	row := r.db.QueryRow(`
		SELECT `+tradeColumns+`
		FROM trades WHERE window_id = ? AND status NOT IN ('SETTLED', 'CANCELLED', 'ERROR')
		LIMIT 1
	`, windowID)
	return scanTrade(row)
}

// ListActive returns every non-terminal trade across all windows, the
// orchestrator's per-cycle tick set.
func (r *TradeRepo) ListActive() ([]*Trade, error) {
	rows, err := r.db.Query(`
		SELECT ` + tradeColumns + `
		FROM trades WHERE status NOT IN ('SETTLED', 'CANCELLED', 'ERROR')
	`)
	if err != nil {
		return nil, apperr.Storage("list active trades", err)
	}
	defer rows.Close()
	var out []*Trade
	for rows.Next() {
		tr, err := scanTradeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// ListOrderPlaced returns every ORDER_PLACED trade, settlement's input set.
func (r *TradeRepo) ListOrderPlaced() ([]*Trade, error) {
	rows, err := r.db.Query(`SELECT ` + tradeColumns + ` FROM trades WHERE status = 'ORDER_PLACED'`)
	if err != nil {
		return nil, apperr.Storage("list order_placed trades", err)
	}
	defer rows.Close()
	var out []*Trade
	for rows.Next() {
		tr, err := scanTradeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// Get returns the trade with the given id, or nil if absent.
func (r *TradeRepo) Get(id int64) (*Trade, error) {
	row := r.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	return scanTrade(row)
}

const tradeColumns = `id, window_id, signal_id, status, time_mode, policy_mode, decision, cancel_reason,
	token_id, order_id, fill_status, fill_price, stake_amount, pnl, is_win,
	trade_level_streak, night_streak, created_at, updated_at`

func scanTrade(row *sql.Row) (*Trade, error) {
	t, err := scanTradeRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func scanTradeRows(s scannable) (*Trade, error) {
	var t Trade
	var signalID sql.NullInt64
	var cancelReason, orderID sql.NullString
	var fillPrice, pnl sql.NullFloat64
	var isWin sql.NullBool

	err := s.Scan(&t.ID, &t.WindowID, &signalID, &t.Status, &t.TimeMode, &t.PolicyMode,
		&t.Decision, &cancelReason, &t.TokenID, &orderID, &t.FillStatus, &fillPrice,
		&t.StakeAmount, &pnl, &isWin, &t.TradeLevelStreak, &t.NightStreak, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apperr.Storage("scan trade", err)
	}
	if signalID.Valid {
		t.SignalID = &signalID.Int64
	}
	if cancelReason.Valid {
		reason := tradefsm.CancelReason(cancelReason.String)
		t.CancelReason = &reason
	}
	if orderID.Valid {
		t.OrderID = &orderID.String
	}
	if fillPrice.Valid {
		t.FillPrice = &fillPrice.Float64
	}
	if pnl.Valid {
		t.PnL = &pnl.Float64
	}
	if isWin.Valid {
		t.IsWin = &isWin.Bool
	}
	return &t, nil
}
