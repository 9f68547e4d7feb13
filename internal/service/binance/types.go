package binance

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Wire types. Binance encodes prices and quantities as decimal strings.

type ticker24h struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
	HighPrice          decimal.Decimal `json:"highPrice"`
	LowPrice           decimal.Decimal `json:"lowPrice"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
}

type premiumIndex struct {
	Symbol          string          `json:"symbol"`
	MarkPrice       decimal.Decimal `json:"markPrice"`
	IndexPrice      decimal.Decimal `json:"indexPrice"`
	LastFundingRate decimal.Decimal `json:"lastFundingRate"`
	NextFundingTime int64           `json:"nextFundingTime"`
	Time            int64           `json:"time"`
}

type openInterest struct {
	Symbol       string          `json:"symbol"`
	OpenInterest decimal.Decimal `json:"openInterest"`
	Time         int64           `json:"time"`
}

type openInterestHist struct {
	Symbol               string          `json:"symbol"`
	SumOpenInterest      decimal.Decimal `json:"sumOpenInterest"`
	SumOpenInterestValue decimal.Decimal `json:"sumOpenInterestValue"`
	Timestamp            int64           `json:"timestamp"`
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}

// kline is one row of the klines array:
// [openTime, open, high, low, close, volume, closeTime, ...].
type kline struct {
	OpenTime int64
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

func (k *kline) UnmarshalJSON(b []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(b, &row); err != nil {
		return err
	}
	if len(row) < 6 {
		return fmt.Errorf("kline: %d fields", len(row))
	}
	if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
		return fmt.Errorf("kline open time: %w", err)
	}
	for i, dst := range []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
		if err := json.Unmarshal(row[i+1], dst); err != nil {
			return fmt.Errorf("kline field %d: %w", i+1, err)
		}
	}
	return nil
}

func f64(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}
