package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	applogger "FactorPulse/pkg/logger"
)

// quoteAssets are tried in order; the first suffix match splits the symbol.
var quoteAssets = []string{"USDT", "BUSD", "BTC", "ETH", "BNB"}

// SplitSymbol returns base and quote of an exchange symbol, or ok=false when
// no known quote matches.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) {
			base = strings.TrimSuffix(symbol, q)
			if base == "" {
				return "", "", false
			}
			return base, q, true
		}
	}
	return "", "", false
}

// UniverseBuilder ranks tradable assets by 24h quote volume and keeps the top N.
type UniverseBuilder struct {
	market   domrepo.MarketData
	store    domrepo.UniverseStore
	exchange string
	topN     int
	maxAge   time.Duration
	now      func() time.Time
	l        *applogger.Logger
}

func NewUniverseBuilder(market domrepo.MarketData, store domrepo.UniverseStore, exchange string, topN int, maxAge time.Duration, l *applogger.Logger) *UniverseBuilder {
	if l == nil {
		l = applogger.NewNop()
	}
	return &UniverseBuilder{
		market:   market,
		store:    store,
		exchange: exchange,
		topN:     topN,
		maxAge:   maxAge,
		now:      time.Now,
		l:        l,
	}
}

// Build fetches tickers, ranks assets and persists the universe.
func (b *UniverseBuilder) Build(ctx context.Context) (*models.Universe, error) {
	spot, err := b.market.SpotTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("spot tickers: %w", err)
	}
	futures, err := b.market.FuturesTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("futures tickers: %w", err)
	}

	now := b.now().UTC()
	u := &models.Universe{Assets: RankAssets(spot, futures, b.exchange, b.topN, now), UpdatedAt: now}
	if err := b.store.SaveUniverse(ctx, *u); err != nil {
		return nil, err
	}
	b.l.Info("universe built",
		applogger.Int("assets", len(u.Assets)),
		applogger.Int("spot_tickers", len(spot)),
		applogger.Int("futures_tickers", len(futures)),
	)
	return u, nil
}

// ShouldUpdate reports whether the stored universe is missing or older than maxAge.
func (b *UniverseBuilder) ShouldUpdate(ctx context.Context) (bool, *models.Universe, error) {
	u, err := b.store.LoadUniverse(ctx)
	if errors.Is(err, domrepo.ErrNotFound) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return b.now().Sub(u.UpdatedAt) >= b.maxAge, u, nil
}

// UpdateIfNeeded rebuilds a stale universe and otherwise returns the stored one.
// A load failure falls back to a rebuild.
func (b *UniverseBuilder) UpdateIfNeeded(ctx context.Context) (*models.Universe, error) {
	stale, u, err := b.ShouldUpdate(ctx)
	if err != nil {
		b.l.Warn("universe load failed, rebuilding", applogger.Error(err))
		return b.Build(ctx)
	}
	if stale {
		return b.Build(ctx)
	}
	b.l.Debug("universe fresh", applogger.Int("assets", len(u.Assets)), applogger.Time("updated_at", u.UpdatedAt))
	return u, nil
}

type rankedTicker struct {
	symbol string
	quote  string
	volume float64
	price  float64
}

// RankAssets merges spot and futures tickers per base asset. Only assets with
// a spot pair qualify; a USDT pair replaces any earlier pair of the same base.
// The volume is the larger of spot and futures quote volume.
func RankAssets(spot, futures []models.Ticker, exchange string, topN int, now time.Time) []models.Asset {
	spotByBase := make(map[string]rankedTicker)
	order := make([]string, 0)
	for _, t := range spot {
		base, quote, ok := SplitSymbol(t.Symbol)
		if !ok {
			continue
		}
		if _, seen := spotByBase[base]; !seen {
			order = append(order, base)
		} else if quote != "USDT" {
			continue
		}
		spotByBase[base] = rankedTicker{symbol: t.Symbol, quote: quote, volume: t.QuoteVolume, price: t.LastPrice}
	}

	futByBase := make(map[string]rankedTicker)
	for _, t := range futures {
		base, quote, ok := SplitSymbol(t.Symbol)
		if !ok {
			continue
		}
		futByBase[base] = rankedTicker{symbol: t.Symbol, quote: quote, volume: t.QuoteVolume, price: t.LastPrice}
	}

	assets := make([]models.Asset, 0, len(order))
	for _, base := range order {
		s := spotByBase[base]
		a := models.Asset{
			BaseAsset:   base,
			Exchange:    exchange,
			Symbol:      s.symbol,
			SpotSymbol:  s.symbol,
			SpotQuote:   s.quote,
			Volume24h:   s.volume,
			Price:       s.price,
			LastUpdated: now,
		}
		if f, ok := futByBase[base]; ok {
			a.FuturesSymbol = f.symbol
			a.FuturesQuote = f.quote
			if f.volume > a.Volume24h {
				a.Volume24h = f.volume
			}
			if a.Price == 0 {
				a.Price = f.price
			}
		}
		assets = append(assets, a)
	}

	sort.SliceStable(assets, func(i, j int) bool { return assets[i].Volume24h > assets[j].Volume24h })
	if topN > 0 && len(assets) > topN {
		assets = assets[:topN]
	}
	for i := range assets {
		assets[i].Rank = i + 1
	}
	return assets
}
