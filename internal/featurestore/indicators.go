package featurestore

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
)

// DailyBar is the minimal OHLC row the indicator helpers need. Callers
// materializing a TrendFeatures or RegimeFeatures partition without
// re-implementing the out-of-scope scanner can use these to derive the
// atr_pct / spy_vol columns from raw daily bars.
type DailyBar struct {
	High  float64
	Low   float64
	Close float64
}

// ComputeATRPercent derives the TrendFeatures.ATRPct column: a period-bar
// Average True Range as a fraction of the latest close (0.02 for 2%).
// Returns 0 if fewer than period+1 bars are available.
func ComputeATRPercent(bars []DailyBar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(bars) < period+1 {
		return 0, nil
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}

	atr := talib.Atr(highs, lows, closes, period)
	last := atr[len(atr)-1]
	lastClose := closes[len(closes)-1]
	if lastClose == 0 || math.IsNaN(last) {
		return 0, nil
	}
	return last / lastClose, nil
}

// ComputeRealizedVol derives the RegimeFeatures.SPYVol column: annualized
// realized volatility of daily close-to-close log returns over the trailing
// window (stddev of daily log returns * sqrt(252)).
func ComputeRealizedVol(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	sumSq := 0.0
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	variance := sumSq / float64(len(returns)-1)
	return math.Sqrt(variance) * math.Sqrt(252)
}
