package factors

import (
	"math"

	"FactorPulse/internal/domain/models"
	"FactorPulse/internal/services/features"
	"FactorPulse/internal/services/indicators"
)

// MeanReversion computes the trailing z-score, RSI and Bollinger position.
func (c *Calculator) MeanReversion(candles []models.Candle) models.MeanReversionFactors {
	closes := features.Closes(candles)
	n := len(closes)
	if n < lookback {
		return models.MeanReversionFactors{}
	}
	current := closes[n-1]

	window := closes[n-lookback:]
	z := 0.0
	if std := popStd(window); std > 0 {
		z = (current - mean(window)) / std
	}

	var out models.MeanReversionFactors
	out.ZScore = num(z)

	if rsi, err := indicators.RSI(closes, indicators.DefaultRSIPeriod); err == nil {
		out.RSI = num(indicators.Last(rsi))
	}

	bb := 0.0
	upper, _, lower, err := indicators.BollingerBands(closes, indicators.DefaultBBPeriod, indicators.DefaultBBStdDev)
	if err == nil {
		u, l := indicators.Last(upper), indicators.Last(lower)
		if !math.IsNaN(u) && u-l > 0 {
			bb = ((current-l)/(u-l) - 0.5) * 2
		}
	}
	out.BBPosition = num(bb)
	return out
}

// Volatility computes ATR(14) as a percentage of the latest close.
func (c *Calculator) Volatility(candles []models.Candle) models.VolatilityFactors {
	if len(candles) < indicators.DefaultATRPeriod+1 {
		return models.VolatilityFactors{}
	}
	high, low, closes := features.HighLowClose(candles)
	atr, err := indicators.ATR(high, low, closes, indicators.DefaultATRPeriod)
	if err != nil {
		return models.VolatilityFactors{}
	}
	current := closes[len(closes)-1]
	if current <= 0 {
		return models.VolatilityFactors{ATRPct: ptr(0)}
	}
	return models.VolatilityFactors{ATRPct: num(indicators.Last(atr) / current * 100)}
}
