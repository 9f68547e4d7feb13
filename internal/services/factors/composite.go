package factors

import (
	"math"

	"FactorPulse/internal/domain/models"
)

// Normalization denominators for the composite score.
const (
	momentumScale   = 10.0
	zScoreScale     = 3.0
	fundingScale    = 50.0
	volumeZScale    = 3.0
	divergenceScale = 2.0
	signalWeight    = 0.5
)

// CompositeScore blends the factor families into one score bounded by the
// sum of the absolute weights. Nil inputs count as zero.
func (c *Calculator) CompositeScore(m models.MomentumFactors, mr models.MeanReversionFactors, carry models.CarryFactors, v models.VolumeFactors) float64 {
	w := c.cfg.Weights

	momentum := math.Tanh(valueOr(m.Momentum24h, 0)/momentumScale + valueOr(m.MACDSignal, 0)*signalWeight)
	meanReversion := math.Tanh(valueOr(mr.ZScore, 0)/zScoreScale + valueOr(mr.BBPosition, 0)*signalWeight)
	carryScore := math.Tanh(valueOr(carry.FundingAnnualized, 0) / fundingScale)
	volume := (math.Tanh(valueOr(v.AnomalyZScore, 0)/volumeZScale) +
		math.Tanh(valueOr(v.PriceDivergence, 0)/divergenceScale)) / 2

	return w.Momentum*momentum +
		w.MeanReversion*meanReversion +
		w.Carry*carryScore +
		w.Volume*volume
}

// Score computes the composite score for a factor set.
func (c *Calculator) Score(fs models.FactorSet) float64 {
	return c.CompositeScore(fs.Momentum, fs.MeanReversion, fs.Carry, fs.Volume)
}
