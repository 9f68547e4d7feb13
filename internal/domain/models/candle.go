package models

import "time"

// Candle represents one OHLCV bar for a symbol on an exchange at a fixed interval.
type Candle struct {
	Bucket   time.Time `json:"timestamp" db:"ts"`
	Exchange string    `json:"exchange" db:"exchange"`
	Symbol   string    `json:"symbol" db:"symbol"`
	Interval string    `json:"interval" db:"timeframe"`
	Open     float64   `json:"open" db:"open"`
	High     float64   `json:"high" db:"high"`
	Low      float64   `json:"low" db:"low"`
	Close    float64   `json:"close" db:"close"`
	Volume   float64   `json:"volume" db:"volume"`

	// OpenInterest is only set when open interest history was merged in.
	OpenInterest *float64 `json:"open_interest,omitempty" db:"open_interest"`
}

// MarketSnapshot is the latest market state of one symbol.
// Futures-only fields are nil for spot symbols.
type MarketSnapshot struct {
	Timestamp       time.Time  `json:"timestamp" db:"ts"`
	Exchange        string     `json:"exchange" db:"exchange"`
	Symbol          string     `json:"symbol" db:"symbol"`
	Price           float64    `json:"price" db:"price"`
	MarkPrice       *float64   `json:"mark_price" db:"mark_price"`
	IndexPrice      *float64   `json:"index_price" db:"index_price"`
	Volume24h       *float64   `json:"volume_24h" db:"volume_24h"`
	OpenInterest    *float64   `json:"open_interest" db:"open_interest"`
	FundingRate     *float64   `json:"funding_rate" db:"funding_rate"`
	NextFundingTime *time.Time `json:"next_funding_time" db:"next_funding_time"`
}

// MarkPrice is one entry of the futures mark price stream.
type MarkPrice struct {
	Symbol          string
	MarkPrice       float64
	IndexPrice      float64
	FundingRate     float64
	NextFundingTime time.Time
	EventTime       time.Time
}

// OpenInterestPoint is one sample of the open interest history.
type OpenInterestPoint struct {
	Timestamp    time.Time
	Symbol       string
	OpenInterest float64
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// Deref returns *p or 0 when p is nil.
func Deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
