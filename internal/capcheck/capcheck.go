// Package capcheck implements the price-cap validator: given a token's
// prediction-market tick series, decide PASS/FAIL/LATE/PENDING against a
// configured cap and minimum consecutive-tick count, honoring the strict
// ts >= confirm_ts ordering rule.
package capcheck

// Status is the CapCheck lifecycle state.
type Status string

const (
	Pending Status = "PENDING"
	Pass    Status = "PASS"
	Fail    Status = "FAIL"
	Late    Status = "LATE"
)

// Tick is a single (timestamp, price) observation from the venue's
// price-history interface.
type Tick struct {
	TS    int64
	Price float64
}

// Params is the immutable request for one CapCheck evaluation.
type Params struct {
	ConfirmTS  int64
	EndTS      int64
	PriceCap   float64
	MinTicks   int
	CurrentTS  int64
}

// Result is the decided outcome of one evaluation.
type Result struct {
	Status           Status
	ConsecutiveTicks int
	FirstPassTS      *int64
	PriceAtPass      *float64
}

// Evaluate decides the CapCheck status from scratch given the full known
// tick history. It is pure and idempotent: invoking it twice with the
// same Params and ticks returns the same Result, independent of how many
// times it has been called before (spec §4.3's re-read-and-recompute
// contract). Ticks with ts < confirm_ts are ignored outright. Evaluate
// does not sort: ticks must already be in ascending timestamp order for
// "consecutive" to be meaningful — callers normalize via the
// price-history interface before calling Evaluate.
func Evaluate(p Params, ticks []Tick) Result {
	if p.ConfirmTS >= p.EndTS {
		return Result{Status: Late}
	}

	run := 0
	var runStartTS *int64
	var runStartPrice *float64
	bestRun := 0
	var bestStartTS *int64
	var bestStartPrice *float64

	for _, tk := range ticks {
		if tk.TS < p.ConfirmTS {
			continue
		}
		if tk.Price <= p.PriceCap {
			if run == 0 {
				ts := tk.TS
				price := tk.Price
				runStartTS = &ts
				runStartPrice = &price
			}
			run++
			if run > bestRun {
				bestRun = run
				bestStartTS = runStartTS
				bestStartPrice = runStartPrice
			}
			if run >= p.MinTicks {
				return Result{
					Status:           Pass,
					ConsecutiveTicks: run,
					FirstPassTS:      runStartTS,
					PriceAtPass:      runStartPrice,
				}
			}
		} else {
			run = 0
			runStartTS = nil
			runStartPrice = nil
		}
	}

	if p.CurrentTS >= p.EndTS {
		return Result{Status: Fail, ConsecutiveTicks: bestRun, FirstPassTS: bestStartTS, PriceAtPass: bestStartPrice}
	}
	return Result{Status: Pending, ConsecutiveTicks: bestRun, FirstPassTS: bestStartTS, PriceAtPass: bestStartPrice}
}
