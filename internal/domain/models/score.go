package models

import "time"

// OutlierType classifies a flagged record.
type OutlierType string

const (
	OutlierNone   OutlierType = "none"
	OutlierTop    OutlierType = "top"
	OutlierBottom OutlierType = "bottom"
)

// ScoreRecord is the per-asset result of one pipeline run. Factor families
// are embedded so the record serializes as one flat row.
type ScoreRecord struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	PriceBTC  *float64  `json:"price_btc"`

	MomentumFactors
	MeanReversionFactors
	VolatilityFactors
	CarryFactors
	VolumeFactors
	OpenInterestFactors
	BTCCorrelationFactors

	OpenInterest   *float64 `json:"open_interest"`
	FundingRate    *float64 `json:"funding_rate"`
	FundingRateAPR *float64 `json:"funding_rate_apr"`

	CompositeScore *float64    `json:"composite_score"`
	IsOutlier      bool        `json:"is_outlier"`
	OutlierType    OutlierType `json:"outlier_type"`
}

// NewScoreRecord builds an unflagged record from a factor set.
func NewScoreRecord(ts time.Time, exchange, symbol string, fs FactorSet) ScoreRecord {
	return ScoreRecord{
		Timestamp:             ts,
		Exchange:              exchange,
		Symbol:                symbol,
		MomentumFactors:       fs.Momentum,
		MeanReversionFactors:  fs.MeanReversion,
		VolatilityFactors:     fs.Volatility,
		CarryFactors:          fs.Carry,
		VolumeFactors:         fs.Volume,
		OpenInterestFactors:   fs.OpenInterest,
		BTCCorrelationFactors: fs.BTCCorrelation,
		OutlierType:           OutlierNone,
	}
}

// Factors returns the factor families carried by the record.
func (r ScoreRecord) Factors() FactorSet {
	return FactorSet{
		Momentum:       r.MomentumFactors,
		MeanReversion:  r.MeanReversionFactors,
		Volatility:     r.VolatilityFactors,
		Carry:          r.CarryFactors,
		Volume:         r.VolumeFactors,
		OpenInterest:   r.OpenInterestFactors,
		BTCCorrelation: r.BTCCorrelationFactors,
	}
}

// Score returns the composite score and whether it is set.
func (r ScoreRecord) Score() (float64, bool) {
	if r.CompositeScore == nil {
		return 0, false
	}
	return *r.CompositeScore, true
}

// ScoreBatch is every record sharing one timestamp.
type ScoreBatch struct {
	Timestamp time.Time
	RunID     string
	Records   []ScoreRecord
}

// Outliers returns the flagged records in batch order.
func (b ScoreBatch) Outliers() []ScoreRecord {
	out := make([]ScoreRecord, 0)
	for _, r := range b.Records {
		if r.IsOutlier {
			out = append(out, r)
		}
	}
	return out
}
