package ta

import "math"

// Direction is the side a Signal fires for.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// Signal is the at-most-one-per-window detection result of the 1-minute
// "touch + 2-bar confirm" scan.
type Signal struct {
	Direction   Direction
	SignalTS    int64
	SignalPrice float64
	AnchorBarTS int64
	AnchorPrice float64
}

// TrendState labels the 5-minute trend-multiplier branch taken.
type TrendState string

const (
	TrendConfirm TrendState = "CONFIRM"
	TrendOppose  TrendState = "OPPOSE"
	TrendNeutral TrendState = "NEUTRAL"
)

// QualityBreakdown pins every intermediate of the quality computation so
// tests can assert bit-exact equality, and so the persisted blob is a
// stable, versioned record (schema below must not gain silent fields).
type QualityBreakdown struct {
	SchemaVersion      int        `json:"schema_version"`
	Ret                float64    `json:"ret"`
	Edge               float64    `json:"edge"`
	EdgePenaltyApplied bool       `json:"edge_penalty_applied"`
	ADX                float64    `json:"adx"`
	Slope50            float64    `json:"slope50"`
	QSlope             float64    `json:"q_slope"`
	TrendMult          float64    `json:"trend_mult"`
	TrendState         TrendState `json:"trend_state"`
	Quality            float64    `json:"quality"`
}

const breakdownSchemaVersion = 1

const (
	signalEMAPeriod = 20
	adxPeriod       = 14
	slopeEMAPeriod  = 50
	trendEMAPeriod  = 20
	slopeLagBars    = 6
)

// DetectSignal scans 1-minute candles from the first bar at or after
// startTs for a "touch + 2-bar confirm" UP or DOWN signal against EMA20.
// Returns nil, nil when no signal fires. Deterministic: same candles and
// startTs always produce the same result.
func DetectSignal(candles1m []Candle, startTs int64) *Signal {
	anchorIdx := -1
	for i, c := range candles1m {
		if c.OpenTime >= startTs {
			anchorIdx = i
			break
		}
	}
	if anchorIdx == -1 {
		return nil
	}

	closes := Closes(candles1m)
	ema20 := EMA(closes, signalEMAPeriod)

	for i := anchorIdx; i <= len(candles1m)-2; i++ {
		if IsUndefined(ema20[i]) || IsUndefined(ema20[i+1]) {
			continue
		}
		c0, c1 := candles1m[i], candles1m[i+1]

		if c0.Low <= ema20[i] && c0.Close > ema20[i] && c1.Close > ema20[i+1] {
			return &Signal{
				Direction:   Up,
				SignalTS:    c1.OpenTime,
				SignalPrice: c1.Close,
				AnchorBarTS: candles1m[anchorIdx].OpenTime,
				AnchorPrice: candles1m[anchorIdx].Close,
			}
		}
		if c0.High >= ema20[i] && c0.Close < ema20[i] && c1.Close < ema20[i+1] {
			return &Signal{
				Direction:   Down,
				SignalTS:    c1.OpenTime,
				SignalPrice: c1.Close,
				AnchorBarTS: candles1m[anchorIdx].OpenTime,
				AnchorPrice: candles1m[anchorIdx].Close,
			}
		}
	}
	return nil
}

// Quality computes the composite quality score and its full breakdown
// for a detected Signal against a 5-minute candle series. ok is false if
// the signal's timestamp precedes every 5m candle (no idx5 exists).
func Quality(sig Signal, candles5m []Candle) (QualityBreakdown, bool) {
	idx5 := -1
	for i, c := range candles5m {
		if c.OpenTime <= sig.SignalTS {
			idx5 = i
		} else {
			break
		}
	}
	if idx5 == -1 {
		return QualityBreakdown{}, false
	}

	bd := QualityBreakdown{SchemaVersion: breakdownSchemaVersion}

	bd.Ret = (sig.SignalPrice - sig.AnchorPrice) / sig.AnchorPrice
	edge := math.Abs(bd.Ret) * 10000
	if (sig.Direction == Up && bd.Ret < 0) || (sig.Direction == Down && bd.Ret > 0) {
		edge *= 0.25
		bd.EdgePenaltyApplied = true
	}
	bd.Edge = edge

	closes5m := Closes(candles5m)

	adxRes := WilderADX(candles5m, adxPeriod)
	if idx5 < len(adxRes.ADX) && !IsUndefined(adxRes.ADX[idx5]) {
		bd.ADX = adxRes.ADX[idx5]
	}

	ema50 := EMA(closes5m, slopeEMAPeriod)
	slope := Slope(ema50, idx5, slopeLagBars)
	if IsUndefined(slope) || closes5m[idx5] == 0 {
		bd.Slope50 = 0
		bd.QSlope = 0
	} else {
		bd.Slope50 = slope
		bd.QSlope = 1000 * math.Abs(slope/closes5m[idx5])
	}

	ema20 := EMA(closes5m, trendEMAPeriod)
	switch {
	case IsUndefined(ema20[idx5]):
		bd.TrendMult = 1.00
		bd.TrendState = TrendNeutral
	case sig.Direction == Up && closes5m[idx5] > ema20[idx5]:
		bd.TrendMult = 1.10
		bd.TrendState = TrendConfirm
	case sig.Direction == Down && closes5m[idx5] < ema20[idx5]:
		bd.TrendMult = 1.10
		bd.TrendState = TrendConfirm
	default:
		bd.TrendMult = 0.70
		bd.TrendState = TrendOppose
	}

	bd.Quality = (1.0*bd.Edge + 0.2*bd.ADX + 0.2*bd.QSlope) * bd.TrendMult
	return bd, true
}
