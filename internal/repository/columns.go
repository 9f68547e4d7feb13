package repository

import (
	"time"

	"FactorPulse/internal/domain/models"
)

var candleColumns = []string{"ts", "exchange", "symbol", "timeframe", "open", "high", "low", "close", "volume", "open_interest"}

func candleArgs(c models.Candle) []interface{} {
	return []interface{}{c.Bucket.UTC(), c.Exchange, c.Symbol, c.Interval, c.Open, c.High, c.Low, c.Close, c.Volume, nullable(c.OpenInterest)}
}

func scanCandle(rows rowScanner) (models.Candle, error) {
	var c models.Candle
	err := rows.Scan(&c.Bucket, &c.Exchange, &c.Symbol, &c.Interval, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.OpenInterest)
	c.Bucket = c.Bucket.UTC()
	return c, err
}

var snapshotColumns = []string{"ts", "exchange", "symbol", "price", "mark_price", "index_price", "volume_24h", "open_interest", "funding_rate", "next_funding_time"}

func snapshotArgs(s models.MarketSnapshot) []interface{} {
	var nft *time.Time
	if s.NextFundingTime != nil {
		t := s.NextFundingTime.UTC()
		nft = &t
	}
	return []interface{}{
		s.Timestamp.UTC(), s.Exchange, s.Symbol, s.Price,
		nullable(s.MarkPrice), nullable(s.IndexPrice), nullable(s.Volume24h),
		nullable(s.OpenInterest), nullable(s.FundingRate), nullable(nft),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (models.MarketSnapshot, error) {
	var s models.MarketSnapshot
	err := row.Scan(&s.Timestamp, &s.Exchange, &s.Symbol, &s.Price,
		&s.MarkPrice, &s.IndexPrice, &s.Volume24h, &s.OpenInterest, &s.FundingRate, &s.NextFundingTime)
	s.Timestamp = s.Timestamp.UTC()
	return s, err
}

// scoreColumns is the flat factor_scores layout shared by every SQL store.
var scoreColumns = []string{
	"ts", "run_id", "exchange", "symbol", "price_btc",
	"momentum_1h", "momentum_4h", "momentum_24h", "momentum_percentile", "macd_signal", "trend_strength", "ema_signal",
	"mean_reversion_zscore", "rsi", "bb_position",
	"volatility_atr_pct",
	"carry_funding_annualized", "carry_basis",
	"volume_momentum_1h", "volume_momentum_4h", "volume_momentum_24h", "volume_anomaly_zscore", "volume_percentile", "volume_price_divergence",
	"oi_change_1h", "oi_change_4h", "oi_change_24h",
	"btc_correlation", "btc_beta",
	"open_interest", "funding_rate", "funding_rate_apr",
	"composite_score", "is_outlier", "outlier_type",
}

// scoreFactorPtrs lists the nullable fields in scoreColumns order, after the
// leading ts, run_id, exchange and symbol.
func scoreFactorPtrs(r *models.ScoreRecord) []**float64 {
	return []**float64{
		&r.PriceBTC,
		&r.MomentumFactors.Momentum1h, &r.MomentumFactors.Momentum4h, &r.MomentumFactors.Momentum24h,
		&r.MomentumPercentile, &r.MACDSignal, &r.TrendStrength, &r.EMASignal,
		&r.ZScore, &r.RSI, &r.BBPosition,
		&r.ATRPct,
		&r.FundingAnnualized, &r.Basis,
		&r.VolumeFactors.Momentum1h, &r.VolumeFactors.Momentum4h, &r.VolumeFactors.Momentum24h,
		&r.AnomalyZScore, &r.Percentile, &r.PriceDivergence,
		&r.Change1h, &r.Change4h, &r.Change24h,
		&r.Correlation, &r.Beta,
		&r.OpenInterest, &r.FundingRate, &r.FundingRateAPR,
		&r.CompositeScore,
	}
}

func scoreArgs(r models.ScoreRecord) []interface{} {
	ptrs := scoreFactorPtrs(&r)
	args := make([]interface{}, 0, len(scoreColumns))
	args = append(args, r.Timestamp.UTC(), r.RunID, r.Exchange, r.Symbol)
	for _, p := range ptrs {
		args = append(args, nullable(*p))
	}
	outlierType := r.OutlierType
	if outlierType == "" {
		outlierType = models.OutlierNone
	}
	return append(args, r.IsOutlier, string(outlierType))
}

func scanScore(row rowScanner) (models.ScoreRecord, error) {
	var r models.ScoreRecord
	var outlierType string
	dest := make([]interface{}, 0, len(scoreColumns))
	dest = append(dest, &r.Timestamp, &r.RunID, &r.Exchange, &r.Symbol)
	for _, p := range scoreFactorPtrs(&r) {
		dest = append(dest, p)
	}
	dest = append(dest, &r.IsOutlier, &outlierType)
	if err := row.Scan(dest...); err != nil {
		return r, err
	}
	r.Timestamp = r.Timestamp.UTC()
	r.OutlierType = models.OutlierType(outlierType)
	return r, nil
}

var summaryColumns = []string{"ts", "run_id", "summary_hash", "summary_text", "sent"}

func summaryArgs(s models.Summary) []interface{} {
	return []interface{}{s.Timestamp.UTC(), s.RunID, s.Hash, s.Text, s.Sent}
}

func scanSummary(row rowScanner) (models.Summary, error) {
	var s models.Summary
	err := row.Scan(&s.Timestamp, &s.RunID, &s.Hash, &s.Text, &s.Sent)
	s.Timestamp = s.Timestamp.UTC()
	return s, err
}
