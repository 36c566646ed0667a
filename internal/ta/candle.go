// Package ta implements the technical-analysis primitives and the signal/
// quality engine built on top of them: EMA, Wilder-smoothed ADX, the
// "touch + 2-bar confirm" signal detector, and the composite quality
// score.
package ta

// Candle is one OHLC bar. OpenTime and CloseTime are seconds since the
// epoch after normalization; Volume is carried for completeness but
// unused by the core TA contracts.
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Closes extracts the close-price series, indexed the same as candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
