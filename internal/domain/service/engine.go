package service

import "FactorPulse/internal/domain/models"

// FactorEngine computes factor families and the composite score for one asset.
type FactorEngine interface {
	CalculateAll(candles []models.Candle, snapshot *models.MarketSnapshot, btcCandles []models.Candle) models.FactorSet
	BTCCorrelation(asset, btc []models.Candle) models.BTCCorrelationFactors
	NormalizeToBTC(price, btcPrice float64) *float64
	Score(fs models.FactorSet) float64
	MinDataPoints() int
}

// OutlierDetector flags anomalous records within one score batch.
type OutlierDetector interface {
	IdentifyOutliers(records []models.ScoreRecord) []models.ScoreRecord
}
