package featurestore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeATRPercent_InsufficientBarsReturnsZero(t *testing.T) {
	pct, err := ComputeATRPercent([]DailyBar{{High: 10, Low: 9, Close: 9.5}}, 14)
	require.NoError(t, err)
	require.Equal(t, 0.0, pct)
}

func TestComputeATRPercent_PositiveForTrendingRange(t *testing.T) {
	bars := make([]DailyBar, 0, 20)
	price := 100.0
	for i := 0; i < 20; i++ {
		bars = append(bars, DailyBar{High: price + 2, Low: price - 2, Close: price})
		price += 0.5
	}
	pct, err := ComputeATRPercent(bars, 14)
	require.NoError(t, err)
	require.Greater(t, pct, 0.0)
}

func TestComputeRealizedVol_ZeroForFlatSeries(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	require.Equal(t, 0.0, ComputeRealizedVol(closes))
}

func TestComputeRealizedVol_PositiveForVolatileSeries(t *testing.T) {
	closes := []float64{100, 105, 98, 110, 95, 108, 100}
	require.Greater(t, ComputeRealizedVol(closes), 0.0)
}
