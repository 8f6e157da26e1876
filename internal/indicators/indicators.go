// Package indicators provides the handful of technical calculations the
// trading core relies on. Inputs are plain candle slices so callers decide
// how much history to retain.
package indicators

import (
	"math"

	"quantdesk/pkg/exchanges/common"
)

// TrueRange is the largest of the candle's range and its gaps against the
// previous close.
func TrueRange(k common.Kline, prevClose float64) float64 {
	return math.Max(k.High-k.Low,
		math.Max(math.Abs(k.High-prevClose), math.Abs(k.Low-prevClose)))
}

// ATR computes a simple (unsmoothed) average true range over the last
// period candles. It needs period+1 candles since each true range looks at
// the previous close; ok is false when the window is too short.
func ATR(candles []common.Kline, period int) (atr float64, ok bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	window := candles[len(candles)-(period+1):]
	sum := 0.0
	for i := 1; i < len(window); i++ {
		sum += TrueRange(window[i], window[i-1].Close)
	}
	return sum / float64(period), true
}

// SMA averages the last period values; zero when there is not enough data.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}
