package indicators

import (
	"errors"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
)

// Default periods used by the factor calculator.
const (
	DefaultMACDFast      = 12
	DefaultMACDSlow      = 26
	DefaultMACDSignal    = 9
	DefaultBBPeriod      = 20
	DefaultBBStdDev      = 2.0
	DefaultATRPeriod     = 14
	DefaultRSIPeriod     = 14
	DefaultCrossoverFast = 9
	DefaultCrossoverSlow = 21
)

// ErrInvalidPeriod is returned for non-positive periods or mismatched inputs.
var ErrInvalidPeriod = errors.New("indicators: invalid period")

// EMA computes an exponential moving average with alpha = 2/(span+1),
// seeded from the first value.
func EMA(series []float64, span int) ([]float64, error) {
	if span <= 0 {
		return nil, fmt.Errorf("ema span %d: %w", span, ErrInvalidPeriod)
	}
	return ewm(series, 2.0/float64(span+1)), nil
}

// MACD returns the MACD line, its signal line and the histogram.
// All three are NaN-filled when len(prices) < slow.
func MACD(prices []float64, fast, slow, signal int) (macd, signalLine, hist []float64, err error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return nil, nil, nil, fmt.Errorf("macd %d/%d/%d: %w", fast, slow, signal, ErrInvalidPeriod)
	}
	n := len(prices)
	if n < slow {
		return nanSeries(n), nanSeries(n), nanSeries(n), nil
	}

	fastEMA := ewm(prices, 2.0/float64(fast+1))
	slowEMA := ewm(prices, 2.0/float64(slow+1))
	macd = make([]float64, n)
	for i := range prices {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine = ewm(macd, 2.0/float64(signal+1))
	hist = make([]float64, n)
	for i := range macd {
		hist[i] = macd[i] - signalLine[i]
	}
	return macd, signalLine, hist, nil
}

// BollingerBands returns upper, middle and lower bands using a rolling mean
// and k times the rolling population standard deviation. Indices before the
// first full window are NaN.
func BollingerBands(prices []float64, period int, k float64) (upper, middle, lower []float64, err error) {
	if period <= 0 {
		return nil, nil, nil, fmt.Errorf("bollinger period %d: %w", period, ErrInvalidPeriod)
	}
	n := len(prices)
	if n < period {
		return nanSeries(n), nanSeries(n), nanSeries(n), nil
	}

	upper, middle, lower = talib.BBands(prices, period, k, k, talib.SMA)
	for i := 0; i < period-1; i++ {
		upper[i], middle[i], lower[i] = math.NaN(), math.NaN(), math.NaN()
	}
	return upper, middle, lower, nil
}

// ATR computes the average true range with Wilder smoothing.
// The first true range is high-low since there is no previous close.
func ATR(high, low, closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("atr period %d: %w", period, ErrInvalidPeriod)
	}
	if len(high) != len(low) || len(low) != len(closes) {
		return nil, fmt.Errorf("atr lengths %d/%d/%d: %w", len(high), len(low), len(closes), ErrInvalidPeriod)
	}
	n := len(closes)
	if n < period+1 {
		return nanSeries(n), nil
	}

	tr := make([]float64, n)
	tr[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - closes[i-1])
		lc := math.Abs(low[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return ewm(tr, 1.0/float64(period)), nil
}

// RSI computes the relative strength index with Wilder smoothing.
// Index 0 is NaN. RSI is 100 whenever the average loss is zero, flat
// series included.
func RSI(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("rsi period %d: %w", period, ErrInvalidPeriod)
	}
	n := len(prices)
	if n < period+1 {
		return nanSeries(n), nil
	}

	gains := make([]float64, n-1)
	losses := make([]float64, n-1)
	for i := 1; i < n; i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}
	alpha := 1.0 / float64(period)
	avgGain := ewm(gains, alpha)
	avgLoss := ewm(losses, alpha)

	out := make([]float64, n)
	out[0] = math.NaN()
	for i := range avgGain {
		out[i+1] = rsiValue(avgGain[i], avgLoss[i])
	}
	return out, nil
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// EMACrossover returns the fast and slow EMAs and a signal of +1 when the
// latest fast EMA is above the slow one, -1 when below and 0 otherwise.
func EMACrossover(prices []float64, fast, slow int) (fastEMA, slowEMA []float64, signal int, err error) {
	if fast <= 0 || slow <= 0 {
		return nil, nil, 0, fmt.Errorf("crossover %d/%d: %w", fast, slow, ErrInvalidPeriod)
	}
	n := len(prices)
	if n < slow {
		return nanSeries(n), nanSeries(n), 0, nil
	}

	fastEMA = ewm(prices, 2.0/float64(fast+1))
	slowEMA = ewm(prices, 2.0/float64(slow+1))
	f, s := fastEMA[n-1], slowEMA[n-1]
	switch {
	case math.IsNaN(f) || math.IsNaN(s):
		signal = 0
	case f > s:
		signal = 1
	case f < s:
		signal = -1
	}
	return fastEMA, slowEMA, signal, nil
}

// Last returns the final element or NaN for an empty series.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// ewm is the adjust=false exponential recurrence shared by EMA, ATR and RSI.
func ewm(series []float64, alpha float64) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = alpha*series[i] + (1-alpha)*out[i-1]
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
