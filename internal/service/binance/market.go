package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"FactorPulse/internal/domain/models"
	"FactorPulse/internal/domain/repository"
	applogger "FactorPulse/pkg/logger"
	"FactorPulse/pkg/util"
)

var _ repository.MarketData = (*Client)(nil)

func symbolParam(symbol string) map[string][]string {
	return map[string][]string{"symbol": {symbol}}
}

func (c *Client) fetchTradingFutures(ctx context.Context) (map[string]struct{}, error) {
	var info exchangeInfo
	if err := c.get(ctx, Futures, "/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			set[s.Symbol] = struct{}{}
		}
	}
	return set, nil
}

// IsFutures reports whether symbol is an actively trading futures contract.
func (c *Client) IsFutures(ctx context.Context, symbol string) bool {
	return c.symbols.Contains(ctx, symbol)
}

func (c *Client) endpointFor(ctx context.Context, symbol string) Endpoint {
	if c.IsFutures(ctx, symbol) {
		return Futures
	}
	return Spot
}

func tickerPath(ep Endpoint) string {
	if ep == Futures {
		return "/fapi/v1/ticker/24hr"
	}
	return "/api/v3/ticker/24hr"
}

func klinesPath(ep Endpoint) string {
	if ep == Futures {
		return "/fapi/v1/klines"
	}
	return "/api/v3/klines"
}

func (t ticker24h) model() models.Ticker {
	return models.Ticker{
		Symbol:      t.Symbol,
		LastPrice:   f64(t.LastPrice),
		Volume:      f64(t.Volume),
		QuoteVolume: f64(t.QuoteVolume),
		High:        f64(t.HighPrice),
		Low:         f64(t.LowPrice),
		Change24h:   f64(t.PriceChangePercent),
	}
}

// Tickers returns every 24h ticker of the endpoint.
func (c *Client) Tickers(ctx context.Context, ep Endpoint) ([]models.Ticker, error) {
	var raw []ticker24h
	if err := c.get(ctx, ep, tickerPath(ep), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]models.Ticker, 0, len(raw))
	for _, t := range raw {
		out = append(out, t.model())
	}
	return out, nil
}

func (c *Client) SpotTickers(ctx context.Context) ([]models.Ticker, error) {
	return c.Tickers(ctx, Spot)
}

func (c *Client) FuturesTickers(ctx context.Context) ([]models.Ticker, error) {
	return c.Tickers(ctx, Futures)
}

// Ticker returns the 24h ticker for one symbol.
func (c *Client) Ticker(ctx context.Context, ep Endpoint, symbol string) (models.Ticker, error) {
	var raw ticker24h
	if err := c.get(ctx, ep, tickerPath(ep), symbolParam(symbol), &raw); err != nil {
		return models.Ticker{}, err
	}
	return raw.model(), nil
}

// PremiumIndex returns mark price, index price and funding for a futures symbol.
func (c *Client) PremiumIndex(ctx context.Context, symbol string) (models.MarkPrice, error) {
	var raw premiumIndex
	if err := c.get(ctx, Futures, "/fapi/v1/premiumIndex", symbolParam(symbol), &raw); err != nil {
		return models.MarkPrice{}, err
	}
	return models.MarkPrice{
		Symbol:          raw.Symbol,
		MarkPrice:       f64(raw.MarkPrice),
		IndexPrice:      f64(raw.IndexPrice),
		FundingRate:     f64(raw.LastFundingRate),
		NextFundingTime: util.FromMillis(raw.NextFundingTime),
		EventTime:       util.FromMillis(raw.Time),
	}, nil
}

// OpenInterest returns the current open interest of a futures symbol.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	var raw openInterest
	if err := c.get(ctx, Futures, "/fapi/v1/openInterest", symbolParam(symbol), &raw); err != nil {
		return 0, err
	}
	return f64(raw.OpenInterest), nil
}

// Candles returns up to limit candles in ascending order. Limits above the
// API maximum are clamped.
func (c *Client) Candles(ctx context.Context, symbol string, tf repository.Timeframe, limit int) ([]models.Candle, error) {
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	ep := c.endpointFor(ctx, symbol)
	params := map[string][]string{
		"symbol":   {symbol},
		"interval": {string(tf)},
		"limit":    {strconv.Itoa(limit)},
	}
	var rows []kline
	if err := c.get(ctx, ep, klinesPath(ep), params, &rows); err != nil {
		return nil, err
	}
	out := make([]models.Candle, 0, len(rows))
	for _, k := range rows {
		out = append(out, models.Candle{
			Bucket:   util.FromMillis(k.OpenTime),
			Exchange: ExchangeName,
			Symbol:   symbol,
			Interval: string(tf),
			Open:     f64(k.Open),
			High:     f64(k.High),
			Low:      f64(k.Low),
			Close:    f64(k.Close),
			Volume:   f64(k.Volume),
		})
	}
	return out, nil
}

// OpenInterestHistory returns the open interest series of a futures symbol.
func (c *Client) OpenInterestHistory(ctx context.Context, symbol string, tf repository.Timeframe, limit int) ([]models.OpenInterestPoint, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	params := map[string][]string{
		"symbol": {symbol},
		"period": {string(tf)},
		"limit":  {strconv.Itoa(limit)},
	}
	var rows []openInterestHist
	if err := c.get(ctx, Futures, "/futures/data/openInterestHist", params, &rows); err != nil {
		return nil, err
	}
	out := make([]models.OpenInterestPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.OpenInterestPoint{
			Timestamp:    util.FromMillis(r.Timestamp),
			Symbol:       symbol,
			OpenInterest: f64(r.SumOpenInterest),
		})
	}
	return out, nil
}

// MarketSnapshot combines ticker, funding and open interest for symbol.
// Spot symbols report the spot price as mark and index and carry no
// futures fields. For futures, a failed mark price falls back to the spot
// price and a failed index price falls back to the mark price.
func (c *Client) MarketSnapshot(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	ep := c.endpointFor(ctx, symbol)
	t, err := c.Ticker(ctx, ep, symbol)
	if err != nil {
		return nil, fmt.Errorf("ticker %s: %w", symbol, err)
	}

	snap := &models.MarketSnapshot{
		Timestamp: time.Now().UTC(),
		Exchange:  ExchangeName,
		Symbol:    symbol,
		Price:     t.LastPrice,
		Volume24h: models.Float64Ptr(t.Volume),
	}
	if ep == Spot {
		snap.MarkPrice = models.Float64Ptr(t.LastPrice)
		snap.IndexPrice = models.Float64Ptr(t.LastPrice)
		return snap, nil
	}

	mp, ok := c.streamedMark(symbol)
	if !ok {
		mp, err = c.PremiumIndex(ctx, symbol)
		if err != nil {
			c.l.Debug("premium index unavailable", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	if err == nil {
		snap.FundingRate = models.Float64Ptr(mp.FundingRate)
		if !mp.NextFundingTime.IsZero() {
			nft := mp.NextFundingTime
			snap.NextFundingTime = &nft
		}
		snap.MarkPrice = positiveOr(mp.MarkPrice, t.LastPrice)
		snap.IndexPrice = positiveOr(mp.IndexPrice, *snap.MarkPrice)
	} else {
		snap.MarkPrice = models.Float64Ptr(t.LastPrice)
		snap.IndexPrice = models.Float64Ptr(t.LastPrice)
	}

	if oi, err := c.OpenInterest(ctx, symbol); err == nil {
		snap.OpenInterest = models.Float64Ptr(oi)
	} else {
		c.l.Debug("open interest unavailable", applogger.String("symbol", symbol), applogger.Error(err))
	}
	return snap, nil
}

func (c *Client) streamedMark(symbol string) (models.MarkPrice, bool) {
	if c.marks == nil {
		return models.MarkPrice{}, false
	}
	return c.marks.Fresh(symbol)
}

func positiveOr(v, fallback float64) *float64 {
	if v > 0 {
		return models.Float64Ptr(v)
	}
	return models.Float64Ptr(fallback)
}
