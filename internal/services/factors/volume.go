package factors

import (
	"math"

	"FactorPulse/internal/domain/models"
	"FactorPulse/internal/services/features"
)

// Volume computes volume momentum, the volume anomaly z-score, its
// percentile and the volume-price divergence.
//
// Volume momentum compares the latest volume with vol[n-p], so the 1h
// value always compares the latest candle with itself.
func (c *Calculator) Volume(candles []models.Candle) models.VolumeFactors {
	n := len(candles)
	if n < lookback {
		return models.VolumeFactors{}
	}
	volumes := features.Volumes(candles)
	closes := features.Closes(candles)
	current := volumes[n-1]

	momentum := func(p int) *float64 {
		if n < p {
			return nil
		}
		past := volumes[n-p]
		if past <= 0 {
			return nil
		}
		return pctChange(current, past)
	}
	out := models.VolumeFactors{
		Momentum1h:  momentum(1),
		Momentum4h:  momentum(4),
		Momentum24h: momentum(24),
	}

	window := volumes[n-lookback:]
	z := 0.0
	if std := popStd(window); std > 0 {
		z = (current - mean(window)) / std
	}
	out.AnomalyZScore = num(z)
	out.Percentile = num(percentBelow(window, current))
	out.PriceDivergence = divergence(window, closes[n-lookback:])
	return out
}

// divergence is the negated Pearson correlation of the standardized first
// differences of volume and price.
func divergence(volumes, closes []float64) *float64 {
	dv := features.Diff(volumes)
	dp := features.Diff(closes)
	if len(dv) < 2 || len(dp) < 2 {
		return nil
	}
	corr := pearson(standardize(dv), standardize(dp))
	if math.IsNaN(corr) || corr == 0 {
		return ptr(0)
	}
	return ptr(-corr)
}
