package binance

import (
	"context"
	"sync"
	"time"

	"FactorPulse/internal/service/cache"
)

const tradingSymbolsKey = "futures:trading"

// SymbolCache holds the set of futures symbols currently TRADING. The set is
// refreshed lazily once its TTL passes or after Invalidate.
type SymbolCache struct {
	ttl   time.Duration
	fetch func(ctx context.Context) (map[string]struct{}, error)
	store *cache.TTLCache[map[string]struct{}]
	mu    sync.Mutex // serializes refreshes
}

func NewSymbolCache(ttl time.Duration, fetch func(ctx context.Context) (map[string]struct{}, error)) *SymbolCache {
	return &SymbolCache{
		ttl:   ttl,
		fetch: fetch,
		store: cache.NewTTLCache[map[string]struct{}](),
	}
}

// Contains reports whether symbol is a trading futures contract. A failed
// refresh yields an empty set until the next attempt so spot symbols keep
// working when the futures API is down.
func (s *SymbolCache) Contains(ctx context.Context, symbol string) bool {
	set, err := s.load(ctx)
	if err != nil {
		return false
	}
	_, ok := set[symbol]
	return ok
}

func (s *SymbolCache) load(ctx context.Context) (map[string]struct{}, error) {
	if set, ok := s.store.Get(tradingSymbolsKey); ok {
		return set, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.store.Get(tradingSymbolsKey); ok {
		return set, nil
	}
	set, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.store.Set(tradingSymbolsKey, set, s.ttl)
	return set, nil
}

// Invalidate forces the next lookup to refetch.
func (s *SymbolCache) Invalidate() {
	s.store.Delete(tradingSymbolsKey)
}
