package factors

import (
	"math"

	"FactorPulse/internal/domain/models"
	"FactorPulse/internal/services/features"
	"FactorPulse/internal/services/indicators"
)

// Momentum computes price returns, their percentile rank, MACD trend and
// the EMA crossover signal. All fields are null below 24 candles.
func (c *Calculator) Momentum(candles []models.Candle) models.MomentumFactors {
	closes := features.Closes(candles)
	n := len(closes)
	if n < periods[len(periods)-1] {
		return models.MomentumFactors{}
	}

	ret := func(p int) *float64 {
		if n < p+1 {
			return nil
		}
		return pctChange(closes[n-1], closes[n-1-p])
	}
	out := models.MomentumFactors{
		Momentum1h:  ret(1),
		Momentum4h:  ret(4),
		Momentum24h: ret(24),
	}

	if n >= lookback+1 && out.Momentum1h != nil {
		window := closes[n-lookback-1:]
		returns := make([]float64, lookback)
		for i := range returns {
			returns[i] = (window[i+1] - window[i]) / window[i] * 100
		}
		out.MomentumPercentile = num(percentBelow(returns, *out.Momentum1h))
	}

	macdSignal, trend := 0.0, 0.0
	macd, signal, hist, err := indicators.MACD(closes,
		indicators.DefaultMACDFast, indicators.DefaultMACDSlow, indicators.DefaultMACDSignal)
	if err == nil {
		m, s := indicators.Last(macd), indicators.Last(signal)
		if !math.IsNaN(m) && !math.IsNaN(s) {
			macdSignal = -1
			if m > s {
				macdSignal = 1
			}
			trend = valueOr(num(indicators.Last(hist)/(closes[n-1]*0.01)), 0)
		}
	}
	out.MACDSignal = ptr(macdSignal)
	out.TrendStrength = ptr(trend)

	_, _, cross, err := indicators.EMACrossover(closes,
		indicators.DefaultCrossoverFast, indicators.DefaultCrossoverSlow)
	if err == nil {
		out.EMASignal = ptr(float64(cross))
	}
	return out
}
