package models

import "time"

// Summary is a rendered market report kept for audit and deduplication.
type Summary struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Hash      string    `json:"summary_hash"`
	Text      string    `json:"summary_text"`
	Sent      bool      `json:"sent"`
}

// Sentiment is the market mood derived from composite score signs.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentMixed   Sentiment = "mixed"
)

// MarketState aggregates a score batch for reporting.
type MarketState struct {
	Analyzed           int
	Bullish            int
	Bearish            int
	BullishPct         float64
	BearishPct         float64
	AvgMomentum24h     float64
	VolumeAnomalies    int
	Sentiment          Sentiment
	TopOutliers        []ScoreRecord
	BottomOutliers     []ScoreRecord
	MomentumVolumeHits []ScoreRecord
	OversoldHits       []ScoreRecord
}
