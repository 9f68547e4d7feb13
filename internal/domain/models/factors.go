package models

// Factor records hold nullable values: nil means the factor could not be
// computed from the available data.

type MomentumFactors struct {
	Momentum1h         *float64 `json:"momentum_1h"`
	Momentum4h         *float64 `json:"momentum_4h"`
	Momentum24h        *float64 `json:"momentum_24h"`
	MomentumPercentile *float64 `json:"momentum_percentile"`
	MACDSignal         *float64 `json:"macd_signal"`
	TrendStrength      *float64 `json:"trend_strength"`
	EMASignal          *float64 `json:"ema_signal"`
}

type MeanReversionFactors struct {
	ZScore     *float64 `json:"mean_reversion_zscore"`
	RSI        *float64 `json:"rsi"`
	BBPosition *float64 `json:"bb_position"`
}

type VolatilityFactors struct {
	ATRPct *float64 `json:"volatility_atr_pct"`
}

type CarryFactors struct {
	FundingAnnualized *float64 `json:"carry_funding_annualized"`
	Basis             *float64 `json:"carry_basis"`
}

type VolumeFactors struct {
	Momentum1h      *float64 `json:"volume_momentum_1h"`
	Momentum4h      *float64 `json:"volume_momentum_4h"`
	Momentum24h     *float64 `json:"volume_momentum_24h"`
	AnomalyZScore   *float64 `json:"volume_anomaly_zscore"`
	Percentile      *float64 `json:"volume_percentile"`
	PriceDivergence *float64 `json:"volume_price_divergence"`
}

type OpenInterestFactors struct {
	Change1h  *float64 `json:"oi_change_1h"`
	Change4h  *float64 `json:"oi_change_4h"`
	Change24h *float64 `json:"oi_change_24h"`
}

type BTCCorrelationFactors struct {
	Correlation *float64 `json:"btc_correlation"`
	Beta        *float64 `json:"btc_beta"`
}

// FactorSet groups every factor family computed for one asset.
type FactorSet struct {
	Momentum       MomentumFactors
	MeanReversion  MeanReversionFactors
	Volatility     VolatilityFactors
	Carry          CarryFactors
	Volume         VolumeFactors
	OpenInterest   OpenInterestFactors
	BTCCorrelation BTCCorrelationFactors
}
