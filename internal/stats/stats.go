// Package stats implements the stats & streak service: it mutates the
// single stats row on settlement, promotes BASE to STRICT after a
// consecutive-win streak, applies night-session resets, and serves the
// quality threshold the orchestrator gates trade eligibility against.
package stats

import (
	"sort"

	"martin/internal/clock"
	"martin/internal/config"
	"martin/internal/store"
)

// Service reads and mutates the stats singleton through its repository,
// and recomputes the rolling-quantile STRICT thresholds from historical
// qualifying signal qualities.
type Service struct {
	db       *store.DB
	dayNight config.DayNightConfig
	quantile config.QuantileConfig
	clk      clock.Clock
}

// New constructs a Service. db, dayNight/quantile config, and clk are
// passed explicitly — no package-level singleton beyond the stats row
// itself, which is the store's concern.
func New(db *store.DB, dayNight config.DayNightConfig, quantile config.QuantileConfig, clk clock.Clock) *Service {
	return &Service{db: db, dayNight: dayNight, quantile: quantile, clk: clk}
}

// MinQuality returns the quality threshold a signal must meet in the
// given time mode, reading through the current policy mode. BASE uses
// the configured base thresholds; STRICT uses the last-computed rolling
// quantile (falling back to base*strict_fallback_mult if never
// computed or under-sampled).
func (s *Service) MinQuality(mode clock.Mode) (float64, error) {
	st, err := s.db.Stats.Get()
	if err != nil {
		return 0, err
	}
	base := s.dayNight.BaseDayMinQuality
	if mode == clock.Night {
		base = s.dayNight.BaseNightMinQuality
	}
	if st.PolicyMode != "STRICT" {
		return base, nil
	}
	if st.LastQuantileUpdateTS == 0 {
		return base * s.quantile.StrictFallbackMult, nil
	}
	if mode == clock.Night {
		return st.LastStrictNightThreshold, nil
	}
	return st.LastStrictDayThreshold, nil
}

// SettleResult is the settlement input: whether the trade counted for
// streak, its win/loss outcome, and the time mode it traded in.
type SettleResult struct {
	CountsForStreak bool
	IsWin           bool
	TimeMode        string // DAY | NIGHT
}

// OnSettled applies §4.6's streak/promotion/reset rules for one settled
// trade. Trades that don't count for streak leave stats untouched.
func (s *Service) OnSettled(res SettleResult) error {
	st, err := s.db.Stats.Get()
	if err != nil {
		return err
	}

	if !res.CountsForStreak {
		return nil
	}
	st.TotalTrades++

	if res.IsWin {
		st.TotalWins++
		st.TradeLevelStreak++
		if res.TimeMode == "NIGHT" {
			st.NightStreak++
			if st.NightStreak >= s.dayNight.NightMaxWinStreak {
				s.applyNightSessionReset(st)
			}
		}
		if st.TradeLevelStreak >= s.dayNight.SwitchStreakAt && st.PolicyMode == "BASE" {
			st.PolicyMode = "STRICT"
		}
	} else {
		st.TotalLosses++
		st.TradeLevelStreak = 0
		st.NightStreak = 0
		st.PolicyMode = "BASE"
	}

	if err := s.db.Stats.Save(st); err != nil {
		return err
	}
	// Opportunistic refresh: at least once per settlement, per the
	// trading rules' cadence floor.
	return s.RefreshQuantiles()
}

func (s *Service) applyNightSessionReset(st *store.Stats) {
	switch s.dayNight.NightSessionMode {
	case config.NightOff:
		// night disabled entirely; this path is unreachable in practice
		// since no NIGHT trade should exist to settle.
	case config.NightSoft:
		st.NightStreak = 0
		st.PolicyMode = "BASE"
	case config.NightHard:
		st.NightStreak = 0
		st.TradeLevelStreak = 0
		st.PolicyMode = "BASE"
	}
}

// RefreshQuantiles recomputes the STRICT day/night thresholds from the
// rolling window of historical qualifying qualities. Called at process
// startup and after every settlement.
func (s *Service) RefreshQuantiles() error {
	now := s.clk.Now().Unix()
	sinceTS := now - int64(s.quantile.RollingDays)*86400

	samples, err := s.db.Signals.ListQualifyingSince(sinceTS, s.quantile.MaxSamples*4)
	if err != nil {
		return err
	}

	var dayQualities, nightQualities []float64
	for _, sample := range samples {
		switch sample.TimeMode {
		case "DAY":
			dayQualities = append(dayQualities, sample.Quality)
		case "NIGHT":
			nightQualities = append(nightQualities, sample.Quality)
		}
	}

	st, err := s.db.Stats.Get()
	if err != nil {
		return err
	}

	dayQ := config.QuantileMap[s.quantile.StrictDayQ]
	nightQ := config.QuantileMap[s.quantile.StrictNightQ]

	st.LastStrictDayThreshold = s.thresholdFor(dayQualities, dayQ, s.dayNight.BaseDayMinQuality)
	st.LastStrictNightThreshold = s.thresholdFor(nightQualities, nightQ, s.dayNight.BaseNightMinQuality)
	st.LastQuantileUpdateTS = now

	return s.db.Stats.Save(st)
}

func (s *Service) thresholdFor(samples []float64, q float64, base float64) float64 {
	samples = truncateNewest(samples, s.quantile.MaxSamples)
	if len(samples) < s.quantile.MinSamples {
		return base * s.quantile.StrictFallbackMult
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return typeSevenQuantile(sorted, q)
}

func truncateNewest(samples []float64, max int) []float64 {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	return samples[:max] // ListQualifyingSince already orders newest-first
}

// typeSevenQuantile is the R/Excel default (Type-7) linear-interpolation
// quantile estimator. sorted must be ascending.
func typeSevenQuantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	h := (float64(n) - 1) * q
	lo := int(h)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
