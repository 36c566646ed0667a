// Package orchestrator is MARTIN's only active loop: it wakes on a
// reference 60s cadence and drives every market window and trade
// through discovery, state-machine ticking, and settlement, per cycle.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"martin/internal/capcheck"
	"martin/internal/clock"
	"martin/internal/config"
	"martin/internal/discovery"
	"martin/internal/execution"
	"martin/internal/logger"
	"martin/internal/metrics"
	"martin/internal/stats"
	"martin/internal/store"
	"martin/internal/ta"
	"martin/internal/tradefsm"
)

// DefaultInterval is the orchestrator's reference tick cadence.
const DefaultInterval = 60 * time.Second

// timestampLayout matches sqlite's CURRENT_TIMESTAMP default format (UTC,
// no zone suffix), used to recover when a trade entered READY.
const timestampLayout = "2006-01-02 15:04:05"

// reminderLastSentSettingKey persists the civil date (in app.timezone)
// the day-end reminder last fired, so the once-a-day rate limit
// survives a process restart.
const reminderLastSentSettingKey = "day_end_reminder_last_sent_date"

// reminderDateLayout is the civil-date key stored under
// reminderLastSentSettingKey.
const reminderDateLayout = "2006-01-02"

// MarketDiscoverer lists open markets and resolves a settled window's
// outcome. internal/discovery implements it against the venue's HTTP API.
type MarketDiscoverer interface {
	ListOpenMarkets(ctx context.Context, assets []string) ([]discovery.Market, error)
	ResolveOutcome(ctx context.Context, slug, conditionID string) (string, error)
}

// PriceHistoryFetcher returns a token's tick series, the CAP validator's
// input. internal/pricehistory implements it.
type PriceHistoryFetcher interface {
	Fetch(ctx context.Context, tokenID string, startTS, endTS int64) ([]capcheck.Tick, error)
}

// CandleFetcher is the direct-fetch fallback used on a snapshot cache
// miss. internal/candles implements it; it is the same shape as
// internal/snapshot's own Fetcher so one Client satisfies both.
type CandleFetcher interface {
	Fetch1m(ctx context.Context, asset string, start, end int64) ([]ta.Candle, error)
	Fetch5m(ctx context.Context, asset string, start, end int64) ([]ta.Candle, error)
}

// CandleCache is the read side of the independent snapshot worker.
type CandleCache interface {
	Get(asset string) (candles1m, candles5m []ta.Candle, ok bool)
}

// CardSender emits the one trade card a trade ever gets, at its
// SIGNALLED -> WAITING_CONFIRM transition. Nil is tolerated (paper/dev
// runs without a chat front-end wired yet).
type CardSender interface {
	SendTradeCard(ctx context.Context, trade *store.Trade, window *store.MarketWindow, signal *store.Signal) error
}

// ReminderSender delivers the day_night.reminder_minutes_before_day_end
// notice (§6). Nil is tolerated the same way CardSender's absence is.
type ReminderSender interface {
	SendDayEndReminder(ctx context.Context, nightSessionMode, executionMode string, dayEndTS int64, minutesBefore int) error
}

// Params bundles every collaborator and config slice the orchestrator
// needs. All are passed explicitly at construction — no package-level
// singletons.
type Params struct {
	DB           *store.DB
	Discovery    MarketDiscoverer
	PriceHistory PriceHistoryFetcher
	Snapshot     CandleCache
	Fallback     CandleFetcher
	Executor     execution.Executor
	Stats        *stats.Service
	TimeMode     *clock.TimeMode
	Clock        clock.Clock
	Cards        CardSender
	Reminder     ReminderSender

	Trading   config.TradingConfig
	TA        config.TAConfig
	DayNight  config.DayNightConfig
	Risk      config.RiskConfig
	Execution config.ExecutionConfig
}

// Orchestrator is the periodic driver described in §4.5.
type Orchestrator struct {
	db           *store.DB
	discovery    MarketDiscoverer
	priceHistory PriceHistoryFetcher
	snapshot     CandleCache
	fallback     CandleFetcher
	executor     execution.Executor
	stats        *stats.Service
	timeMode     *clock.TimeMode
	clk          clock.Clock
	cards        CardSender
	reminder     ReminderSender

	trading   config.TradingConfig
	ta        config.TAConfig
	dayNight  config.DayNightConfig
	risk      config.RiskConfig
	execution config.ExecutionConfig

	cycle int
}

func New(p Params) *Orchestrator {
	return &Orchestrator{
		db: p.DB, discovery: p.Discovery, priceHistory: p.PriceHistory,
		snapshot: p.Snapshot, fallback: p.Fallback, executor: p.Executor,
		stats: p.Stats, timeMode: p.TimeMode, clk: p.Clock, cards: p.Cards,
		reminder: p.Reminder,
		trading:  p.Trading, ta: p.TA, dayNight: p.DayNight, risk: p.Risk,
		execution: p.Execution,
	}
}

// Run executes one cycle immediately, then on every tick of interval
// until ctx is cancelled. A shutdown signal aborts before the next
// sleep; an in-flight cycle is allowed to finish.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	o.runCycle(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runCycle(ctx)
		}
	}
}

func (o *Orchestrator) runCycle(ctx context.Context) {
	started := time.Now()
	o.cycle++
	ev := logger.WithCycle(o.cycle)

	st, err := o.db.Stats.Get()
	if err != nil {
		logger.Errorf("cycle %d: read stats: %v", o.cycle, err)
		return
	}
	if st.IsPaused {
		ev.Msg("cycle skipped: paused")
		return
	}

	mode := o.timeMode.Classify(o.clk.Now())
	if (mode == clock.Day && st.NightOnly) || (mode == clock.Night && st.DayOnly) {
		ev.Str("mode", string(mode)).Msg("cycle skipped: disabled by day_only/night_only setting")
		return
	}

	if mode == clock.Day {
		o.maybeSendDayEndReminder(ctx)
	}

	o.discoverAndCreateTrades(ctx, mode, st.PolicyMode)

	active, err := o.db.Trades.ListActive()
	if err != nil {
		logger.Errorf("cycle %d: list active trades: %v", o.cycle, err)
	} else {
		for _, tr := range active {
			o.tickTrade(ctx, tr, mode)
		}
	}

	placed, err := o.db.Trades.ListOrderPlaced()
	if err != nil {
		logger.Errorf("cycle %d: list order_placed trades: %v", o.cycle, err)
		return
	}
	for _, tr := range placed {
		o.settleTrade(ctx, tr)
	}

	metrics.RecordCycle(time.Since(started).Seconds(), len(active))
	ev.Int("active", len(active)).Int("settling", len(placed)).Msg("cycle complete")
}

// maybeSendDayEndReminder implements day_night.reminder_minutes_before_day_end:
// a same-day, rate-limited notice sent once the DAY window is within the
// configured lead time of closing. 0 disables it; reminder == nil is a
// no-op (paper/dev runs without a chat front-end wired yet).
func (o *Orchestrator) maybeSendDayEndReminder(ctx context.Context) {
	if o.reminder == nil || o.dayNight.ReminderMinutesBeforeEnd <= 0 {
		return
	}

	now := o.clk.Now()
	dayEnd := o.timeMode.NextDayEnd(now)
	lead := time.Duration(o.dayNight.ReminderMinutesBeforeEnd) * time.Minute
	if dayEnd.Sub(now) > lead {
		return
	}

	today := now.In(o.timeMode.Location()).Format(reminderDateLayout)
	lastSent, _, err := o.db.Settings.Get(reminderLastSentSettingKey)
	if err != nil {
		logger.Errorf("cycle %d: read reminder rate-limit state: %v", o.cycle, err)
		return
	}
	if lastSent == today {
		return
	}

	if err := o.reminder.SendDayEndReminder(ctx, string(o.dayNight.NightSessionMode), string(o.execution.Mode), dayEnd.Unix(), o.dayNight.ReminderMinutesBeforeEnd); err != nil {
		logger.Errorf("cycle %d: send day end reminder: %v", o.cycle, err)
		return
	}
	if err := o.db.Settings.Set(reminderLastSentSettingKey, today); err != nil {
		logger.Errorf("cycle %d: persist reminder rate-limit state: %v", o.cycle, err)
	}
}

// discoverAndCreateTrades implements §4.5 step 3.
func (o *Orchestrator) discoverAndCreateTrades(ctx context.Context, mode clock.Mode, policyMode string) {
	markets, err := o.discovery.ListOpenMarkets(ctx, o.trading.Assets)
	if err != nil {
		logger.Warnf("cycle %d: discovery failed: %v", o.cycle, err)
		return
	}

	now := o.clk.Now().Unix()
	for _, m := range markets {
		win, err := o.db.MarketWindows.GetBySlug(m.Slug)
		if err != nil {
			logger.Warnf("cycle %d: lookup window %s: %v", o.cycle, m.Slug, err)
			continue
		}
		if win == nil {
			win = &store.MarketWindow{
				Asset: m.Asset, Slug: m.Slug, ConditionID: m.ConditionID,
				UpTokenID: m.UpTokenID, DownTokenID: m.DownTokenID,
				StartTS: m.StartTS, EndTS: m.EndTS,
			}
			if err := o.db.MarketWindows.Create(win); err != nil {
				logger.Warnf("cycle %d: persist window %s: %v", o.cycle, m.Slug, err)
				continue
			}
		}
		if win.Expired(now) {
			continue
		}

		existing, err := o.db.Trades.NonTerminalForWindow(win.ID)
		if err != nil {
			logger.Warnf("cycle %d: check existing trade for window %d: %v", o.cycle, win.ID, err)
			continue
		}
		if existing != nil {
			continue
		}

		if mode == clock.Night && !o.dayNight.NightAutotradeEnabled {
			continue
		}

		tr := &store.Trade{
			WindowID: win.ID, Status: tradefsm.New, TimeMode: string(mode), PolicyMode: policyMode,
			Decision: tradefsm.DecisionPending, FillStatus: tradefsm.FillPending,
			StakeAmount: o.risk.StakeBaseAmountUSDC,
		}
		fsm := tr.ToFSM()
		if err := fsm.OnStartSearching(); err != nil {
			logger.Errorf("cycle %d: start searching window %d: %v", o.cycle, win.ID, err)
			continue
		}
		tr.FromFSM(fsm)
		if err := o.db.Trades.Create(tr); err != nil {
			logger.Warnf("cycle %d: persist trade for window %d: %v", o.cycle, win.ID, err)
		}
	}
}

// tickTrade implements §4.5 step 4 for one non-terminal trade.
func (o *Orchestrator) tickTrade(ctx context.Context, tr *store.Trade, mode clock.Mode) {
	win, err := o.db.MarketWindows.Get(tr.WindowID)
	if err != nil || win == nil {
		logger.Errorf("cycle %d: trade %d: load window: %v", o.cycle, tr.ID, err)
		return
	}

	now := o.clk.Now().Unix()
	if win.Expired(now) {
		fsm := tr.ToFSM()
		if tr.Status == tradefsm.SearchingSignal {
			err = fsm.OnNoQualifyingSignal()
		} else {
			err = fsm.OnExpired()
		}
		if err != nil {
			logger.Errorf("cycle %d: trade %d: expire: %v", o.cycle, tr.ID, err)
			return
		}
		tr.FromFSM(fsm)
		if err := o.db.Trades.Save(tr); err != nil {
			logger.Errorf("cycle %d: trade %d: save expiry: %v", o.cycle, tr.ID, err)
		} else if tr.CancelReason != nil {
			metrics.RecordCancellation(string(*tr.CancelReason))
		}
		return
	}

	switch tr.Status {
	case tradefsm.SearchingSignal:
		o.evaluateSignal(ctx, tr, win, mode)
	case tradefsm.WaitingConfirm:
		o.checkConfirm(tr, now)
	case tradefsm.WaitingCap:
		o.evaluateCap(ctx, tr, now)
	case tradefsm.Ready:
		o.decideAndExecute(ctx, tr, win, mode, now)
	}
}

func (o *Orchestrator) evaluateSignal(ctx context.Context, tr *store.Trade, win *store.MarketWindow, mode clock.Mode) {
	candles1m, candles5m, err := o.fetchCandles(ctx, win.Asset)
	if err != nil {
		logger.Warnf("cycle %d: trade %d: fetch candles: %v", o.cycle, tr.ID, err)
		return
	}

	sig := ta.DetectSignal(candles1m, win.StartTS)
	if sig == nil {
		return
	}
	breakdown, ok := ta.Quality(*sig, candles5m)
	if !ok {
		return
	}

	minQuality, err := o.stats.MinQuality(mode)
	if err != nil {
		logger.Warnf("cycle %d: trade %d: read min quality: %v", o.cycle, tr.ID, err)
		return
	}
	if breakdown.Quality < minQuality {
		return
	}

	confirmTS := sig.SignalTS + int64(o.trading.ConfirmDelaySeconds)
	if confirmTS >= win.EndTS {
		// A signal this late wouldn't leave time to confirm; a later
		// signal within the window may still qualify.
		return
	}

	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		logger.Errorf("cycle %d: trade %d: marshal quality breakdown: %v", o.cycle, tr.ID, err)
		return
	}
	signal := &store.Signal{
		WindowID: win.ID, Direction: string(sig.Direction), SignalTS: sig.SignalTS,
		ConfirmTS: confirmTS, Quality: breakdown.Quality,
		QualityBreakdown: string(breakdownJSON), AnchorBarTS: sig.AnchorBarTS,
	}
	if err := o.db.Signals.Create(signal); err != nil {
		logger.Warnf("cycle %d: trade %d: persist signal: %v", o.cycle, tr.ID, err)
		return
	}
	metrics.RecordSignal(win.Asset, signal.Direction)

	fsm := tr.ToFSM()
	if err := fsm.OnQualifyingSignalFound(signal.ID); err != nil {
		logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
		return
	}
	if err := fsm.OnQualityPass(); err != nil {
		logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
		return
	}
	tr.FromFSM(fsm)
	if err := o.db.Trades.Save(tr); err != nil {
		logger.Errorf("cycle %d: trade %d: save signalled trade: %v", o.cycle, tr.ID, err)
		return
	}

	if o.cards != nil {
		if err := o.cards.SendTradeCard(ctx, tr, win, signal); err != nil {
			logger.Warnf("cycle %d: trade %d: send trade card: %v", o.cycle, tr.ID, err)
		}
	}
}

// fetchCandles reads the snapshot cache, falling back to a direct
// concurrent 1m/5m fetch on a cold or stale entry.
func (o *Orchestrator) fetchCandles(ctx context.Context, asset string) ([]ta.Candle, []ta.Candle, error) {
	if o.snapshot != nil {
		if c1, c5, ok := o.snapshot.Get(asset); ok {
			return c1, c5, nil
		}
	}

	now := o.clk.Now().Unix()
	start := now - int64(o.ta.WarmupSeconds)

	var candles1m, candles5m []ta.Candle
	var err1m, err5m error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		candles1m, err1m = o.fallback.Fetch1m(ctx, asset, start, now)
	}()
	go func() {
		defer wg.Done()
		candles5m, err5m = o.fallback.Fetch5m(ctx, asset, start, now)
	}()
	wg.Wait()

	if err1m != nil {
		return nil, nil, err1m
	}
	if err5m != nil {
		return nil, nil, err5m
	}
	return candles1m, candles5m, nil
}

func (o *Orchestrator) checkConfirm(tr *store.Trade, now int64) {
	if tr.SignalID == nil {
		logger.Errorf("cycle %d: trade %d: WAITING_CONFIRM with no signal id", o.cycle, tr.ID)
		return
	}
	sig, err := o.db.Signals.Get(*tr.SignalID)
	if err != nil || sig == nil {
		logger.Errorf("cycle %d: trade %d: load signal: %v", o.cycle, tr.ID, err)
		return
	}
	if now < sig.ConfirmTS {
		return
	}

	win, err := o.db.MarketWindows.Get(tr.WindowID)
	if err != nil || win == nil {
		logger.Errorf("cycle %d: trade %d: load window: %v", o.cycle, tr.ID, err)
		return
	}

	fsm := tr.ToFSM()
	if err := fsm.OnConfirmReached(); err != nil {
		logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
		return
	}
	tr.FromFSM(fsm)
	if err := o.db.Trades.Save(tr); err != nil {
		logger.Errorf("cycle %d: trade %d: save waiting_cap trade: %v", o.cycle, tr.ID, err)
		return
	}

	initial := capcheck.Pending
	if sig.ConfirmTS >= win.EndTS {
		initial = capcheck.Late
	}
	cc := &store.CapCheck{
		TradeID: tr.ID, TokenID: tokenForDirection(win, sig.Direction),
		ConfirmTS: sig.ConfirmTS, EndTS: win.EndTS, Status: initial,
	}
	if err := o.db.CapChecks.Create(cc); err != nil {
		logger.Errorf("cycle %d: trade %d: persist cap_check: %v", o.cycle, tr.ID, err)
	}
}

func tokenForDirection(win *store.MarketWindow, direction string) string {
	if direction == string(ta.Down) {
		return win.DownTokenID
	}
	return win.UpTokenID
}

func (o *Orchestrator) evaluateCap(ctx context.Context, tr *store.Trade, now int64) {
	cc, err := o.db.CapChecks.GetByTrade(tr.ID)
	if err != nil || cc == nil {
		logger.Errorf("cycle %d: trade %d: load cap_check: %v", o.cycle, tr.ID, err)
		return
	}

	// A CapCheck created already LATE (confirm_ts >= end_ts) has nothing
	// further to evaluate; cancel it without a price-history round trip.
	if cc.Status == capcheck.Late {
		o.applyCapResult(tr, capcheck.Result{Status: capcheck.Late})
		return
	}

	ticks, err := o.priceHistory.Fetch(ctx, cc.TokenID, cc.ConfirmTS, cc.EndTS)
	if err != nil {
		// Propagation policy: HTTP failures abort this step only; the
		// cap_check status is left untouched for the next cycle's retry.
		logger.Warnf("cycle %d: trade %d: fetch price history: %v", o.cycle, tr.ID, err)
		return
	}

	result := capcheck.Evaluate(capcheck.Params{
		ConfirmTS: cc.ConfirmTS, EndTS: cc.EndTS, PriceCap: o.trading.PriceCap,
		MinTicks: o.trading.CapMinTicks, CurrentTS: now,
	}, ticks)

	cc.Status, cc.ConsecutiveTicks, cc.FirstPassTS, cc.PriceAtPass =
		result.Status, result.ConsecutiveTicks, result.FirstPassTS, result.PriceAtPass
	if err := o.db.CapChecks.Save(cc); err != nil {
		logger.Errorf("cycle %d: trade %d: save cap_check: %v", o.cycle, tr.ID, err)
		return
	}

	o.applyCapResult(tr, result)
}

func (o *Orchestrator) applyCapResult(tr *store.Trade, result capcheck.Result) {
	fsm := tr.ToFSM()
	var err error
	switch result.Status {
	case capcheck.Pass:
		err = fsm.OnCapPass()
	case capcheck.Fail:
		err = fsm.OnCapFail()
	case capcheck.Late:
		err = fsm.OnCapLate()
	default:
		return // PENDING: stay in WAITING_CAP
	}
	if err != nil {
		logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
		return
	}
	tr.FromFSM(fsm)
	if err := o.db.Trades.Save(tr); err != nil {
		logger.Errorf("cycle %d: trade %d: save cap decision: %v", o.cycle, tr.ID, err)
		return
	}
	metrics.RecordCapCheck(string(result.Status))
	if tr.CancelReason != nil {
		metrics.RecordCancellation(string(*tr.CancelReason))
	}
}

func (o *Orchestrator) decideAndExecute(ctx context.Context, tr *store.Trade, win *store.MarketWindow, mode clock.Mode, now int64) {
	if tr.Decision == tradefsm.DecisionPending {
		if mode == clock.Night {
			fsm := tr.ToFSM()
			if err := fsm.OnAutoOK(); err != nil {
				logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
				return
			}
			tr.FromFSM(fsm)
			if err := o.db.Trades.Save(tr); err != nil {
				logger.Errorf("cycle %d: trade %d: save auto_ok: %v", o.cycle, tr.ID, err)
				return
			}
		} else {
			readySince, err := time.Parse(timestampLayout, tr.UpdatedAt)
			if err != nil {
				logger.Warnf("cycle %d: trade %d: parse updated_at %q: %v", o.cycle, tr.ID, tr.UpdatedAt, err)
				return
			}
			if now-readySince.Unix() < int64(o.dayNight.MaxResponseSeconds) {
				return // still waiting on the user's callback
			}
			fsm := tr.ToFSM()
			if err := fsm.OnUserNoResponseSkip(); err != nil {
				logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
				return
			}
			tr.FromFSM(fsm)
			if err := o.db.Trades.Save(tr); err != nil {
				logger.Errorf("cycle %d: trade %d: save auto_skip: %v", o.cycle, tr.ID, err)
				return
			}
			if tr.CancelReason != nil {
				metrics.RecordCancellation(string(*tr.CancelReason))
			}
			return
		}
	}

	if tr.Decision != tradefsm.DecisionOK && tr.Decision != tradefsm.DecisionAutoOK {
		return // SKIP/AUTO_SKIP already cancelled the trade above or via the chat callback
	}
	if tr.SignalID == nil {
		logger.Errorf("cycle %d: trade %d: READY with no signal id", o.cycle, tr.ID)
		return
	}
	sig, err := o.db.Signals.Get(*tr.SignalID)
	if err != nil || sig == nil {
		logger.Errorf("cycle %d: trade %d: load signal: %v", o.cycle, tr.ID, err)
		return
	}

	side := execution.SideUp
	if sig.Direction == string(ta.Down) {
		side = execution.SideDown
	}
	req := execution.Request{
		TradeID: tr.ID, UpTokenID: win.UpTokenID, DownTokenID: win.DownTokenID,
		Side: side, PriceCap: o.trading.PriceCap, StakeAmount: tr.StakeAmount,
	}
	res, err := o.executor.PlaceOrder(ctx, req)
	if err != nil {
		logger.Warnf("cycle %d: trade %d: place order: %v", o.cycle, tr.ID, err)
		return // retry next cycle; trade stays READY
	}

	fsm := tr.ToFSM()
	if err := fsm.OnOrderPlaced(res.OrderID, res.TokenID); err != nil {
		logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
		return
	}
	switch res.FillStatus {
	case tradefsm.FillFilled:
		if err := fsm.OnOrderFilled(res.FillPrice); err != nil {
			logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
		}
	case tradefsm.FillRejected:
		if err := fsm.OnOrderRejected(fmt.Errorf("executor reported rejected fill")); err != nil {
			logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
		}
	}
	tr.FromFSM(fsm)
	if err := o.db.Trades.Save(tr); err != nil {
		logger.Errorf("cycle %d: trade %d: save order placement: %v", o.cycle, tr.ID, err)
	}
}

// settleTrade implements §4.5 step 5 for one ORDER_PLACED trade.
func (o *Orchestrator) settleTrade(ctx context.Context, tr *store.Trade) {
	win, err := o.db.MarketWindows.Get(tr.WindowID)
	if err != nil || win == nil {
		logger.Errorf("cycle %d: trade %d: load window for settlement: %v", o.cycle, tr.ID, err)
		return
	}

	if win.Outcome == nil {
		outcome, err := o.discovery.ResolveOutcome(ctx, win.Slug, win.ConditionID)
		if err != nil {
			logger.Warnf("cycle %d: trade %d: resolve outcome: %v", o.cycle, tr.ID, err)
			return
		}
		if outcome == "" {
			return // not yet decided; retry next cycle
		}
		if err := o.db.MarketWindows.SetOutcome(win.ID, outcome); err != nil {
			logger.Errorf("cycle %d: trade %d: persist outcome: %v", o.cycle, tr.ID, err)
			return
		}
		win.Outcome = &outcome
	}

	if tr.SignalID == nil || tr.FillPrice == nil {
		logger.Errorf("cycle %d: trade %d: ORDER_PLACED missing signal or fill price", o.cycle, tr.ID)
		return
	}
	sig, err := o.db.Signals.Get(*tr.SignalID)
	if err != nil || sig == nil {
		logger.Errorf("cycle %d: trade %d: load signal for settlement: %v", o.cycle, tr.ID, err)
		return
	}

	isWin := sig.Direction == *win.Outcome
	var pnl float64
	if isWin {
		pnl = tr.StakeAmount * (1/(*tr.FillPrice) - 1)
	} else {
		pnl = -tr.StakeAmount
	}

	fsm := tr.ToFSM()
	if err := fsm.OnSettled(isWin, pnl); err != nil {
		logger.Errorf("cycle %d: trade %d: %v", o.cycle, tr.ID, err)
		return
	}
	countsForStreak := fsm.CountsForStreak()
	tr.FromFSM(fsm)
	if err := o.db.Trades.Save(tr); err != nil {
		// Leave the trade in ORDER_PLACED in memory's caller view; the DB
		// row is unchanged too, so the next cycle simply retries.
		logger.Errorf("cycle %d: trade %d: save settlement: %v", o.cycle, tr.ID, err)
		return
	}

	metrics.RecordSettlement(tr.TimeMode, isWin, pnl)

	if err := o.stats.OnSettled(stats.SettleResult{
		CountsForStreak: countsForStreak, IsWin: isWin, TimeMode: tr.TimeMode,
	}); err != nil {
		logger.Warnf("cycle %d: trade %d: update stats: %v", o.cycle, tr.ID, err)
		return
	}
	if st, err := o.db.Stats.Get(); err == nil {
		metrics.SetStreak(st.TradeLevelStreak, st.PolicyMode == "STRICT")
	}
}
