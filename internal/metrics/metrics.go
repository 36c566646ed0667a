// Package metrics exposes MARTIN's trade-lifecycle counters and gauges to
// prometheus, following the same promauto.With(Registry) construction the
// teacher's trading metrics use.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is martin's own prometheus registry, kept separate from the
// default global one so /metrics never leaks unrelated process collectors
// some library init() registers globally.
var Registry = prometheus.NewRegistry()

var mu sync.Mutex

var (
	// CycleDuration tracks one orchestrator cycle's wall-clock duration.
	CycleDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "martin",
		Subsystem: "orchestrator",
		Name:      "cycle_duration_seconds",
		Help:      "Orchestrator cycle duration in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// CyclesTotal counts completed orchestrator cycles.
	CyclesTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "martin",
		Subsystem: "orchestrator",
		Name:      "cycles_total",
		Help:      "Total number of orchestrator cycles run",
	})

	// ActiveTrades tracks the number of non-terminal trades at cycle end.
	ActiveTrades = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "martin",
		Subsystem: "trades",
		Name:      "active",
		Help:      "Number of trades currently in a non-terminal state",
	})

	// SignalsFound counts qualifying signals detected, by asset and direction.
	SignalsFound = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "martin",
		Subsystem: "ta",
		Name:      "signals_found_total",
		Help:      "Qualifying signals detected",
	}, []string{"asset", "direction"})

	// CapChecksTotal counts cap_check resolutions by outcome (pass/fail/late).
	CapChecksTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "martin",
		Subsystem: "capcheck",
		Name:      "resolutions_total",
		Help:      "Cap validations resolved, by outcome",
	}, []string{"status"})

	// TradesSettledTotal counts settled trades by time_mode and win/loss.
	TradesSettledTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "martin",
		Subsystem: "trades",
		Name:      "settled_total",
		Help:      "Settled trades, by time mode and result",
	}, []string{"time_mode", "result"})

	// TradesCancelledTotal counts cancellations by reason.
	TradesCancelledTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "martin",
		Subsystem: "trades",
		Name:      "cancelled_total",
		Help:      "Cancelled trades, by cancel reason",
	}, []string{"reason"})

	// PnLTotal accumulates realized P&L in USDC. Losses add a negative
	// amount, so it is a gauge: a counter cannot decrease.
	PnLTotal = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "martin",
		Subsystem: "trades",
		Name:      "pnl_total_usdc",
		Help:      "Cumulative realized P&L in USDC (a running total that decreases on losses)",
	})

	// TradeLevelStreak mirrors the current consecutive-win streak.
	TradeLevelStreak = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "martin",
		Subsystem: "stats",
		Name:      "trade_level_streak",
		Help:      "Current consecutive trade-level win streak",
	})

	// PolicyMode reports BASE(0)/STRICT(1) as a gauge so it graphs cleanly.
	PolicyMode = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "martin",
		Subsystem: "stats",
		Name:      "policy_mode_strict",
		Help:      "1 if the quality policy is currently STRICT, 0 if BASE",
	})

	// LiveArmed reports whether live execution is currently armed.
	LiveArmed = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "martin",
		Subsystem: "security",
		Name:      "live_armed",
		Help:      "1 if live execution is currently armed, 0 otherwise",
	})
)

// RecordCycle records one completed orchestrator cycle's duration and
// refreshes the active-trade gauge.
func RecordCycle(durationSeconds float64, active int) {
	mu.Lock()
	defer mu.Unlock()
	CycleDuration.Observe(durationSeconds)
	CyclesTotal.Inc()
	ActiveTrades.Set(float64(active))
}

// RecordSignal records one qualifying signal.
func RecordSignal(asset, direction string) {
	SignalsFound.WithLabelValues(asset, direction).Inc()
}

// RecordCapCheck records one cap_check resolution.
func RecordCapCheck(status string) {
	CapChecksTotal.WithLabelValues(status).Inc()
}

// RecordSettlement records one settled trade's result and P&L.
func RecordSettlement(timeMode string, isWin bool, pnl float64) {
	result := "loss"
	if isWin {
		result = "win"
	}
	TradesSettledTotal.WithLabelValues(timeMode, result).Inc()
	PnLTotal.Add(pnl)
}

// RecordCancellation records one cancelled trade's reason.
func RecordCancellation(reason string) {
	TradesCancelledTotal.WithLabelValues(reason).Inc()
}

// SetStreak refreshes the streak and policy-mode gauges, typically called
// right after stats.Service.OnSettled.
func SetStreak(tradeLevelStreak int, strict bool) {
	TradeLevelStreak.Set(float64(tradeLevelStreak))
	if strict {
		PolicyMode.Set(1)
	} else {
		PolicyMode.Set(0)
	}
}

// SetLiveArmed refreshes the live-armed gauge.
func SetLiveArmed(armed bool) {
	if armed {
		LiveArmed.Set(1)
		return
	}
	LiveArmed.Set(0)
}

// Init registers the standard process/go collectors, mirroring the
// teacher's own startup registration.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
