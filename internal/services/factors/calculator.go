package factors

import (
	"math"

	"FactorPulse/internal/domain/models"
	"FactorPulse/internal/services/features"
)

const (
	// lookback is the trailing window used by the statistical factors.
	lookback = 24
	// fundingPerYear annualizes an 8-hourly funding rate.
	fundingPerYear = 3 * 365
)

// periods are the return horizons in candles.
var periods = [3]int{1, 4, 24}

// Calculator computes factor families, the composite score and outlier
// flags. It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator returns a calculator with DefaultConfig and the given overrides.
func NewCalculator(opts ...Option) *Calculator {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IQRMultiplier <= 0 {
		cfg.IQRMultiplier = DefaultConfig().IQRMultiplier
	}
	return &Calculator{cfg: cfg}
}

// Config returns a copy of the active configuration.
func (c *Calculator) Config() Config { return c.cfg }

// MinDataPoints is the candle count below which an asset is skipped.
func (c *Calculator) MinDataPoints() int { return c.cfg.Thresholds.MinDataPoints }

// CalculateAll computes every factor family for one asset. snapshot may be
// nil, in which case carry is null. btcCandles may be empty.
func (c *Calculator) CalculateAll(candles []models.Candle, snapshot *models.MarketSnapshot, btcCandles []models.Candle) models.FactorSet {
	fs := models.FactorSet{
		Momentum:      c.Momentum(candles),
		MeanReversion: c.MeanReversion(candles),
		Volatility:    c.Volatility(candles),
		Volume:        c.Volume(candles),
		OpenInterest:  c.OpenInterest(candles),
	}
	if snapshot != nil {
		fs.Carry = c.Carry(snapshot.FundingRate, snapshot.MarkPrice, snapshot.IndexPrice)
	}
	if len(btcCandles) > 0 {
		fs.BTCCorrelation = c.BTCCorrelation(candles, btcCandles)
	}
	return fs
}

// NormalizeToBTC prices an asset in BTC. It returns nil when the BTC price
// is not positive.
func (c *Calculator) NormalizeToBTC(price, btcPrice float64) *float64 {
	if btcPrice > 0 {
		return num(price / btcPrice)
	}
	return nil
}

// Carry annualizes the funding rate and computes the mark/index basis.
func (c *Calculator) Carry(fundingRate, markPrice, indexPrice *float64) models.CarryFactors {
	var out models.CarryFactors
	if fundingRate != nil {
		out.FundingAnnualized = num(*fundingRate * fundingPerYear)
	}
	if markPrice != nil && indexPrice != nil && *indexPrice > 0 {
		out.Basis = num((*markPrice - *indexPrice) / *indexPrice * 100)
	}
	return out
}

// OpenInterest computes open interest rate of change over each period.
// It needs merged open interest on the latest candle.
func (c *Calculator) OpenInterest(candles []models.Candle) models.OpenInterestFactors {
	n := len(candles)
	if n < periods[len(periods)-1] || candles[n-1].OpenInterest == nil {
		return models.OpenInterestFactors{}
	}
	oi := features.OpenInterest(candles)
	change := func(p int) *float64 {
		if n < p+1 {
			return nil
		}
		cur, past := oi[n-1], oi[n-1-p]
		if past <= 0 || math.IsNaN(past) || math.IsNaN(cur) {
			return nil
		}
		return pctChange(cur, past)
	}
	return models.OpenInterestFactors{
		Change1h:  change(1),
		Change4h:  change(4),
		Change24h: change(24),
	}
}

// BTCCorrelation computes the correlation and beta of the asset's returns
// against BTC over the trailing window.
func (c *Calculator) BTCCorrelation(asset, btc []models.Candle) models.BTCCorrelationFactors {
	if len(asset) < lookback || len(btc) < lookback {
		return models.BTCCorrelationFactors{}
	}
	a := features.Tail(features.Closes(asset), lookback)
	b := features.Tail(features.Closes(btc), lookback)
	n := min(len(a), len(b))
	if n < 2 {
		return models.BTCCorrelationFactors{}
	}
	ar := features.SimpleReturns(a[len(a)-n:])
	br := features.SimpleReturns(b[len(b)-n:])
	if len(ar) < 2 {
		return models.BTCCorrelationFactors{}
	}

	corr := pearson(ar, br)
	if math.IsNaN(corr) {
		corr = 0
	}
	// cov/var written through the correlation: corr * sd(a) / sd(b).
	beta := 1.0
	if sb := popStd(br); sb > 0 {
		beta = corr * popStd(ar) / sb
	}
	return models.BTCCorrelationFactors{
		Correlation: num(corr),
		Beta:        num(beta),
	}
}
