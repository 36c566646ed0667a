// Package tradefsm is the single source of truth for a Trade's per-window
// lifecycle: it enforces legal transitions and records terminal cancel
// reasons. Every other component mutates a Trade only by calling one of
// these entry points.
package tradefsm

import (
	"fmt"

	"martin/internal/apperr"
)

// Status is one state of the trade lifecycle.
type Status string

const (
	New             Status = "NEW"
	SearchingSignal Status = "SEARCHING_SIGNAL"
	Signalled       Status = "SIGNALLED"
	WaitingConfirm  Status = "WAITING_CONFIRM"
	WaitingCap      Status = "WAITING_CAP"
	Ready           Status = "READY"
	OrderPlaced     Status = "ORDER_PLACED"
	Settled         Status = "SETTLED"
	Cancelled       Status = "CANCELLED"
	Error           Status = "ERROR"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case Settled, Cancelled, Error:
		return true
	default:
		return false
	}
}

// CancelReason is the single reason a terminal CANCELLED trade carries.
type CancelReason string

const (
	NoSignal      CancelReason = "NO_SIGNAL"
	LowQuality    CancelReason = "LOW_QUALITY"
	Skip          CancelReason = "SKIP"
	Expired       CancelReason = "EXPIRED"
	LateReason    CancelReason = "LATE"
	CapFail       CancelReason = "CAP_FAIL"
	Paused        CancelReason = "PAUSED"
	NightDisabled CancelReason = "NIGHT_DISABLED"
)

// Decision is the user/auto outcome recorded on a READY trade.
type Decision string

const (
	DecisionPending Decision = "PENDING"
	DecisionOK      Decision = "OK"
	DecisionAutoOK  Decision = "AUTO_OK"
	DecisionSkip    Decision = "SKIP"
	DecisionAutoSkip Decision = "AUTO_SKIP"
)

// FillStatus mirrors the order interface's reported fill state.
type FillStatus string

const (
	FillPending   FillStatus = "PENDING"
	FillFilled    FillStatus = "FILLED"
	FillPartial   FillStatus = "PARTIAL"
	FillRejected  FillStatus = "REJECTED"
	FillCancelled FillStatus = "CANCELLED"
)

var legalTransitions = map[Status]map[Status]bool{
	New:             {SearchingSignal: true, Cancelled: true},
	SearchingSignal: {Signalled: true, Cancelled: true},
	Signalled:       {WaitingConfirm: true, Cancelled: true},
	WaitingConfirm:  {WaitingCap: true, Cancelled: true},
	WaitingCap:      {Ready: true, Cancelled: true},
	Ready:           {OrderPlaced: true, Cancelled: true},
	OrderPlaced:     {Settled: true, Error: true},
}

// Trade is the per-window lifecycle record the state machine mutates in
// place. Persistence of each mutation is the caller's responsibility
// (internal/store); Trade itself holds no storage handle.
type Trade struct {
	ID                int64
	WindowID          int64
	SignalID          *int64
	Status            Status
	TimeMode          string
	PolicyMode        string
	Decision          Decision
	CancelReason      *CancelReason
	TokenID           string
	OrderID           *string
	FillStatus        FillStatus
	FillPrice         *float64
	StakeAmount       float64
	PnL               *float64
	IsWin             *bool
	TradeLevelStreak  int
	NightStreak       int
}

// CountsForStreak implements the "trade-counts-for-streak" predicate:
// decision in {OK, AUTO_OK} AND fill_status == FILLED.
func (t *Trade) CountsForStreak() bool {
	return (t.Decision == DecisionOK || t.Decision == DecisionAutoOK) && t.FillStatus == FillFilled
}

func (t *Trade) transition(to Status) error {
	allowed, ok := legalTransitions[t.Status]
	if !ok || !allowed[to] {
		return apperr.Trade(fmt.Sprintf("illegal transition %s -> %s", t.Status, to), nil)
	}
	t.Status = to
	return nil
}

// OnStartSearching: NEW -> SEARCHING_SIGNAL.
func (t *Trade) OnStartSearching() error { return t.transition(SearchingSignal) }

// OnQualifyingSignalFound: SEARCHING_SIGNAL -> SIGNALLED, recording the
// signal id.
func (t *Trade) OnQualifyingSignalFound(signalID int64) error {
	if err := t.transition(Signalled); err != nil {
		return err
	}
	t.SignalID = &signalID
	return nil
}

// OnQualityPass: SIGNALLED -> WAITING_CONFIRM. Named for the compound
// "quality already passed" step the orchestrator performs in one go
// (SEARCHING_SIGNAL -> SIGNALLED -> WAITING_CONFIRM).
func (t *Trade) OnQualityPass() error { return t.transition(WaitingConfirm) }

// OnConfirmReached: WAITING_CONFIRM -> WAITING_CAP.
func (t *Trade) OnConfirmReached() error { return t.transition(WaitingCap) }

// OnCapPass: WAITING_CAP -> READY.
func (t *Trade) OnCapPass() error { return t.transition(Ready) }

// OnCapFail: WAITING_CAP -> CANCELLED(CAP_FAIL).
func (t *Trade) OnCapFail() error { return t.cancel(CapFail) }

// OnCapLate: WAITING_CAP -> CANCELLED(LATE).
func (t *Trade) OnCapLate() error { return t.cancel(LateReason) }

// OnUserOK records an OK decision on a READY trade.
func (t *Trade) OnUserOK() error { return t.decide(DecisionOK) }

// OnUserSkip records a SKIP decision and cancels the trade.
func (t *Trade) OnUserSkip() error {
	t.Decision = DecisionSkip
	return t.cancel(Skip)
}

// OnAutoOK auto-confirms a NIGHT trade.
func (t *Trade) OnAutoOK() error { return t.decide(DecisionAutoOK) }

// OnUserNoResponseSkip auto-skips a DAY trade whose response window
// elapsed.
func (t *Trade) OnUserNoResponseSkip() error {
	t.Decision = DecisionAutoSkip
	return t.cancel(Skip)
}

func (t *Trade) decide(d Decision) error {
	if t.Status != Ready {
		return apperr.Trade(fmt.Sprintf("cannot record decision %s outside READY (status=%s)", d, t.Status), nil)
	}
	t.Decision = d
	return nil
}

// OnOrderPlaced: READY -> ORDER_PLACED.
func (t *Trade) OnOrderPlaced(orderID, tokenID string) error {
	if err := t.transition(OrderPlaced); err != nil {
		return err
	}
	t.OrderID = &orderID
	t.TokenID = tokenID
	return nil
}

// OnOrderFilled records a fill on an ORDER_PLACED trade. It does not
// itself transition status; settlement (OnSettled) is the terminal step.
func (t *Trade) OnOrderFilled(fillPrice float64) error {
	if t.Status != OrderPlaced {
		return apperr.Trade(fmt.Sprintf("cannot record fill outside ORDER_PLACED (status=%s)", t.Status), nil)
	}
	t.FillStatus = FillFilled
	t.FillPrice = &fillPrice
	return nil
}

// OnOrderRejected: ORDER_PLACED -> ERROR.
func (t *Trade) OnOrderRejected(cause error) error {
	if err := t.transition(Error); err != nil {
		return err
	}
	t.FillStatus = FillRejected
	return apperr.Trade("order rejected", cause)
}

// OnSettled: ORDER_PLACED -> SETTLED, recording the win/loss outcome.
func (t *Trade) OnSettled(isWin bool, pnl float64) error {
	if err := t.transition(Settled); err != nil {
		return err
	}
	t.IsWin = &isWin
	t.PnL = &pnl
	return nil
}

// OnExpired, OnNoQualifyingSignal, OnPaused, and OnNightDisabled cancel
// any non-terminal trade with the matching reason; calling them on an
// already-terminal trade is a no-op, not an error.
func (t *Trade) OnExpired() error       { return t.cancelIfNonTerminal(Expired) }
func (t *Trade) OnNoQualifyingSignal() error { return t.cancelIfNonTerminal(NoSignal) }
func (t *Trade) OnLowQuality() error    { return t.cancelIfNonTerminal(LowQuality) }
func (t *Trade) OnPaused() error        { return t.cancelIfNonTerminal(Paused) }
func (t *Trade) OnNightDisabled() error { return t.cancelIfNonTerminal(NightDisabled) }

func (t *Trade) cancelIfNonTerminal(reason CancelReason) error {
	if t.Status.Terminal() {
		return nil
	}
	return t.cancel(reason)
}

func (t *Trade) cancel(reason CancelReason) error {
	if t.Status.Terminal() {
		return apperr.Trade(fmt.Sprintf("cannot cancel already-terminal trade (status=%s)", t.Status), nil)
	}
	t.Status = Cancelled
	t.CancelReason = &reason
	return nil
}
