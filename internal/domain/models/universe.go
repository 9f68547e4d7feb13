package models

import "time"

// Asset is one member of the tracked universe.
type Asset struct {
	BaseAsset     string    `json:"base_asset"`
	Exchange      string    `json:"exchange"`
	Symbol        string    `json:"symbol"`
	SpotSymbol    string    `json:"spot_symbol,omitempty"`
	SpotQuote     string    `json:"spot_quote,omitempty"`
	FuturesSymbol string    `json:"futures_symbol,omitempty"`
	FuturesQuote  string    `json:"futures_quote,omitempty"`
	Volume24h     float64   `json:"volume_24h"`
	Price         float64   `json:"price"`
	Rank          int       `json:"rank"`
	LastUpdated   time.Time `json:"last_updated"`
}

// TradingSymbol prefers the futures contract over the spot pair.
func (a Asset) TradingSymbol() string {
	if a.FuturesSymbol != "" {
		return a.FuturesSymbol
	}
	return a.SpotSymbol
}

// IsFutures reports whether the trading symbol is a futures contract.
func (a Asset) IsFutures() bool { return a.FuturesSymbol != "" }

// Universe is the ranked asset list with the time it was built.
type Universe struct {
	Assets    []Asset   `json:"assets"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ticker is a normalized 24h ticker.
type Ticker struct {
	Symbol      string
	LastPrice   float64
	Volume      float64
	QuoteVolume float64
	High        float64
	Low         float64
	Change24h   float64
}
