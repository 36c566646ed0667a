package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martin/internal/capcheck"
	"martin/internal/tradefsm"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMarketWindowCreateAndGetBySlug(t *testing.T) {
	db := openTestDB(t)
	w := &MarketWindow{Asset: "BTC", Slug: "btc-1000-4600", ConditionID: "cond-1",
		UpTokenID: "up-1", DownTokenID: "down-1", StartTS: 1000, EndTS: 4600}
	require.NoError(t, db.MarketWindows.Create(w))
	assert.NotZero(t, w.ID)

	got, err := db.MarketWindows.GetBySlug("btc-1000-4600")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w.ID, got.ID)
	assert.Nil(t, got.Outcome)
}

func TestMarketWindowSetOutcomeOnlyOnce(t *testing.T) {
	db := openTestDB(t)
	w := &MarketWindow{Asset: "ETH", Slug: "eth-1", ConditionID: "c", UpTokenID: "u", DownTokenID: "d",
		StartTS: 0, EndTS: 3600}
	require.NoError(t, db.MarketWindows.Create(w))

	require.NoError(t, db.MarketWindows.SetOutcome(w.ID, "UP"))
	require.NoError(t, db.MarketWindows.SetOutcome(w.ID, "DOWN")) // no-op: outcome already set

	got, err := db.MarketWindows.Get(w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, "UP", *got.Outcome)
}

func TestTradeCreateSaveAndNonTerminalForWindow(t *testing.T) {
	db := openTestDB(t)
	w := &MarketWindow{Asset: "BTC", Slug: "btc-2", ConditionID: "c", UpTokenID: "u", DownTokenID: "d",
		StartTS: 0, EndTS: 3600}
	require.NoError(t, db.MarketWindows.Create(w))

	tr := &Trade{WindowID: w.ID, Status: tradefsm.New, TimeMode: "DAY", PolicyMode: "BASE",
		Decision: tradefsm.DecisionPending, FillStatus: tradefsm.FillPending, StakeAmount: 10}
	require.NoError(t, db.Trades.Create(tr))

	fsm := tr.ToFSM()
	require.NoError(t, fsm.OnStartSearching())
	tr.FromFSM(fsm)
	require.NoError(t, db.Trades.Save(tr))

	active, err := db.Trades.NonTerminalForWindow(w.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, tradefsm.SearchingSignal, active.Status)
}

func TestCapCheckCreateAndSave(t *testing.T) {
	db := openTestDB(t)
	w := &MarketWindow{Asset: "BTC", Slug: "btc-3", ConditionID: "c", UpTokenID: "u", DownTokenID: "d",
		StartTS: 0, EndTS: 3600}
	require.NoError(t, db.MarketWindows.Create(w))
	tr := &Trade{WindowID: w.ID, Status: tradefsm.WaitingCap, TimeMode: "DAY", PolicyMode: "BASE",
		Decision: tradefsm.DecisionPending, FillStatus: tradefsm.FillPending}
	require.NoError(t, db.Trades.Create(tr))

	cc := &CapCheck{TradeID: tr.ID, TokenID: "up-1", ConfirmTS: 100, EndTS: 3600, Status: capcheck.Pending}
	require.NoError(t, db.CapChecks.Create(cc))

	ts := int64(100)
	price := 0.5
	cc.Status = capcheck.Pass
	cc.ConsecutiveTicks = 5
	cc.FirstPassTS = &ts
	cc.PriceAtPass = &price
	require.NoError(t, db.CapChecks.Save(cc))

	got, err := db.CapChecks.GetByTrade(tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, capcheck.Pass, got.Status)
	assert.Equal(t, int64(100), *got.FirstPassTS)
}

func TestStatsSingletonDefaultsAndSave(t *testing.T) {
	db := openTestDB(t)
	s, err := db.Stats.Get()
	require.NoError(t, err)
	assert.Equal(t, "BASE", s.PolicyMode)
	assert.Equal(t, 0, s.TradeLevelStreak)

	s.TradeLevelStreak = 5
	s.PolicyMode = "STRICT"
	require.NoError(t, db.Stats.Save(s))

	reloaded, err := db.Stats.Get()
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.TradeLevelStreak)
	assert.Equal(t, "STRICT", reloaded.PolicyMode)
}

func TestSettingsGetSetOverride(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.Settings.Get("trading.price_cap")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Settings.Set("trading.price_cap", "0.6"))
	v, ok, err := db.Settings.Get("trading.price_cap")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.6", v)

	require.NoError(t, db.Settings.Set("trading.price_cap", "0.7"))
	v, _, err = db.Settings.Get("trading.price_cap")
	require.NoError(t, err)
	assert.Equal(t, "0.7", v)
}
