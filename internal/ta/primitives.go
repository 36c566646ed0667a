package ta

import "math"

// Undefined is the sentinel for a position in an indicator series that
// has no valid value yet (insufficient warmup history). Callers must
// test with IsUndefined rather than comparing to zero.
const Undefined = math.MaxFloat64

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v float64) bool { return v == Undefined }

// EMA computes the exponential moving average series of closes for the
// given period. Entries before index period-1 are Undefined. The first
// defined value (index period-1) is the simple mean of the first period
// closes; each subsequent value is ema[i] = (close[i]-ema[i-1])*2/(period+1) + ema[i-1].
func EMA(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = Undefined
	}
	if period <= 0 || len(closes) < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	mult := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		ema = (closes[i]-ema)*mult + ema
		out[i] = ema
	}
	return out
}

// Slope returns out[i] - out[i-lag], or Undefined if either endpoint is
// out of range or undefined in src.
func Slope(src []float64, i, lag int) float64 {
	if i < 0 || i >= len(src) || i-lag < 0 {
		return Undefined
	}
	if IsUndefined(src[i]) || IsUndefined(src[i-lag]) {
		return Undefined
	}
	return src[i] - src[i-lag]
}

// ADXResult carries the full Wilder-smoothed directional-movement series
// so the quality breakdown can pin any intermediate.
type ADXResult struct {
	ATR    []float64
	PlusDM []float64 // Wilder-smoothed +DM
	MinusDM []float64 // Wilder-smoothed -DM
	PlusDI []float64
	MinusDI []float64
	DX     []float64
	ADX    []float64 // first valid at index 2*period-1
}

// WilderADX computes true range, directional movement, Wilder-smoothed
// ATR/+DM/-DM, +DI/-DI, DX, and ADX (itself Wilder-smoothed DX) for the
// given period. All series are Undefined before their first valid index.
func WilderADX(candles []Candle, period int) ADXResult {
	n := len(candles)
	res := ADXResult{
		ATR:     undefinedSeries(n),
		PlusDM:  undefinedSeries(n),
		MinusDM: undefinedSeries(n),
		PlusDI:  undefinedSeries(n),
		MinusDI: undefinedSeries(n),
		DX:      undefinedSeries(n),
		ADX:     undefinedSeries(n),
	}
	if period <= 0 || n <= period {
		return res
	}

	tr := make([]float64, n)
	plusDMRaw := make([]float64, n)
	minusDMRaw := make([]float64, n)
	for i := 1; i < n; i++ {
		high, low, prevClose := candles[i].High, candles[i].Low, candles[i-1].Close
		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)
		tr[i] = math.Max(tr1, math.Max(tr2, tr3))

		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		if upMove > downMove && upMove > 0 {
			plusDMRaw[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDMRaw[i] = downMove
		}
	}

	// Seed Wilder sums at index `period` from the first `period` raw values
	// (indices 1..period).
	var sumTR, sumPlusDM, sumMinusDM float64
	for i := 1; i <= period; i++ {
		sumTR += tr[i]
		sumPlusDM += plusDMRaw[i]
		sumMinusDM += minusDMRaw[i]
	}
	res.ATR[period] = sumTR
	res.PlusDM[period] = sumPlusDM
	res.MinusDM[period] = sumMinusDM

	for i := period + 1; i < n; i++ {
		res.ATR[i] = res.ATR[i-1] - res.ATR[i-1]/float64(period) + tr[i]
		res.PlusDM[i] = res.PlusDM[i-1] - res.PlusDM[i-1]/float64(period) + plusDMRaw[i]
		res.MinusDM[i] = res.MinusDM[i-1] - res.MinusDM[i-1]/float64(period) + minusDMRaw[i]
	}

	for i := period; i < n; i++ {
		if res.ATR[i] == 0 {
			continue
		}
		res.PlusDI[i] = 100 * res.PlusDM[i] / res.ATR[i]
		res.MinusDI[i] = 100 * res.MinusDM[i] / res.ATR[i]
		sum := res.PlusDI[i] + res.MinusDI[i]
		if sum == 0 {
			res.DX[i] = 0
		} else {
			res.DX[i] = 100 * math.Abs(res.PlusDI[i]-res.MinusDI[i]) / sum
		}
	}

	// ADX itself is Wilder-smoothed DX, first valid at 2*period-1: seeded
	// by the simple mean of the first `period` DX values (indices
	// period..2*period-1), then smoothed thereafter.
	adxStart := 2*period - 1
	if adxStart >= n {
		return res
	}
	var dxSum float64
	for i := period; i <= adxStart; i++ {
		dxSum += res.DX[i]
	}
	res.ADX[adxStart] = dxSum / float64(period)
	for i := adxStart + 1; i < n; i++ {
		res.ADX[i] = (res.ADX[i-1]*float64(period-1) + res.DX[i]) / float64(period)
	}
	return res
}

func undefinedSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = Undefined
	}
	return out
}
