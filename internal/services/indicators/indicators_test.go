package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestEMA_SeededFromFirstValue(t *testing.T) {
	got, err := EMA([]float64{10, 20, 30}, 3)
	require.NoError(t, err)

	// alpha = 0.5
	assert.InDelta(t, 10.0, got[0], 1e-12)
	assert.InDelta(t, 15.0, got[1], 1e-12)
	assert.InDelta(t, 22.5, got[2], 1e-12)
}

func TestEMA_InvalidSpan(t *testing.T) {
	_, err := EMA([]float64{1, 2}, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestEMA_Empty(t *testing.T) {
	got, err := EMA(nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMACD_ShortSeriesIsUndefined(t *testing.T) {
	macd, sig, hist, err := MACD(ramp(25, 100, 1), 12, 26, 9)
	require.NoError(t, err)
	require.Len(t, macd, 25)
	for i := range macd {
		assert.True(t, math.IsNaN(macd[i]))
		assert.True(t, math.IsNaN(sig[i]))
		assert.True(t, math.IsNaN(hist[i]))
	}
}

func TestMACD_RisingSeriesIsBullish(t *testing.T) {
	macd, sig, hist, err := MACD(ramp(60, 100, 1), 12, 26, 9)
	require.NoError(t, err)

	last := len(macd) - 1
	assert.Greater(t, macd[last], 0.0)
	assert.InDelta(t, macd[last]-sig[last], hist[last], 1e-12)
}

func TestBollingerBands_WarmupAndWidth(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	upper, middle, lower, err := BollingerBands(prices, 3, 2)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(middle[0]))
	assert.True(t, math.IsNaN(middle[1]))
	assert.InDelta(t, 4.0, middle[4], 1e-9)

	// population std of {3,4,5} = sqrt(2/3)
	std := math.Sqrt(2.0 / 3.0)
	assert.InDelta(t, 4+2*std, upper[4], 1e-9)
	assert.InDelta(t, 4-2*std, lower[4], 1e-9)
}

func TestBollingerBands_ShortSeriesIsNaN(t *testing.T) {
	upper, middle, lower, err := BollingerBands([]float64{1, 2, 3}, 20, 2)
	require.NoError(t, err)
	require.Len(t, middle, 3)
	for i := range middle {
		assert.True(t, math.IsNaN(upper[i]))
		assert.True(t, math.IsNaN(middle[i]))
		assert.True(t, math.IsNaN(lower[i]))
	}
}

func TestBollingerBands_FlatSeriesCollapses(t *testing.T) {
	prices := []float64{7, 7, 7, 7}
	upper, middle, lower, err := BollingerBands(prices, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, middle[3], upper[3])
	assert.Equal(t, middle[3], lower[3])
}

func TestATR_FirstTrueRangeIsHighLow(t *testing.T) {
	high := []float64{11, 12, 13}
	low := []float64{9, 10, 11}
	closes := []float64{10, 11, 12}

	got, err := ATR(high, low, closes, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got[0], 1e-12)
	// all true ranges are 2 so the smoothed value stays at 2
	assert.InDelta(t, 2.0, got[2], 1e-12)
}

func TestATR_ShortSeriesAndMismatch(t *testing.T) {
	got, err := ATR([]float64{1, 2}, []float64{0, 1}, []float64{1, 2}, 14)
	require.NoError(t, err)
	for _, v := range got {
		assert.True(t, math.IsNaN(v))
	}

	_, err = ATR([]float64{1}, []float64{1, 2}, []float64{1}, 14)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestRSI_MonotonicIncreaseIs100(t *testing.T) {
	got, err := RSI(ramp(30, 100, 1), 14)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, 100.0, Last(got))
}

func TestRSI_Bounded(t *testing.T) {
	prices := []float64{44, 44.3, 44.1, 44.2, 43.6, 44.3, 44.8, 45.1, 45.4, 45.8,
		46.1, 45.9, 46.2, 45.6, 46.3, 46.3, 46.0, 46.4, 46.2, 45.6, 44.9}
	got, err := RSI(prices, 14)
	require.NoError(t, err)
	for _, v := range got[1:] {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestRSI_MonotonicDecreaseIsZero(t *testing.T) {
	got, err := RSI(ramp(30, 100, -1), 14)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, Last(got), 1e-9)
}

func TestRSI_FlatSeriesIs100(t *testing.T) {
	got, err := RSI(ramp(30, 100, 0), 14)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got[0]))
	for _, v := range got[1:] {
		assert.Equal(t, 100.0, v)
	}
}

func TestRSI_ShortSeries(t *testing.T) {
	got, err := RSI(ramp(14, 1, 1), 14)
	require.NoError(t, err)
	for _, v := range got {
		assert.True(t, math.IsNaN(v))
	}
}

func TestEMACrossover_Signals(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   int
	}{
		{name: "diverging up", prices: ramp(40, 100, 1), want: 1},
		{name: "diverging down", prices: ramp(40, 100, -1), want: -1},
		{name: "flat", prices: ramp(40, 0, 0), want: 0},
		{name: "too short", prices: ramp(20, 100, 1), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fast, slow, sig, err := EMACrossover(tt.prices, 9, 21)
			require.NoError(t, err)
			assert.Len(t, fast, len(tt.prices))
			assert.Len(t, slow, len(tt.prices))
			assert.Equal(t, tt.want, sig)
		})
	}
}

func TestEMACrossover_ConvergingSeriesFlipsSign(t *testing.T) {
	// long decline followed by a sharp rally pulls the fast EMA above the slow one
	prices := append(ramp(30, 130, -1), ramp(15, 102, 5)...)
	_, _, sig, err := EMACrossover(prices, 9, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, sig)
}
