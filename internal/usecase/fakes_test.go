package usecase

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type nopMetrics struct {
	mu     sync.Mutex
	runs   []string
	steps  []string
	errors []string
	sent   int
}

func (m *nopMetrics) RecordPipelineRun(status string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, status)
}

func (m *nopMetrics) RecordStep(step string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
}

func (m *nopMetrics) RecordAssets(int, int)                {}
func (m *nopMetrics) RecordOutliers(int, int)              {}
func (m *nopMetrics) RecordCompositeScore(string, float64) {}
func (m *nopMetrics) RecordLatency(string, float64)        {}

func (m *nopMetrics) RecordMessageSent(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *nopMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, kind)
}

// memStore is an in-memory Storage.
type memStore struct {
	mu          sync.Mutex
	candles     []models.Candle
	snapshots   []models.MarketSnapshot
	scores      []models.ScoreRecord
	saveCalls   [][]models.ScoreRecord
	summaries   []models.Summary
	cleanups    int
	healthErr   error
	saveScErr   error
	cleanupArgs [2]time.Time
}

var _ domrepo.Storage = (*memStore)(nil)

func (s *memStore) SaveCandles(_ context.Context, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, candles...)
	return nil
}

func (s *memStore) GetCandles(_ context.Context, symbol string, tf domrepo.Timeframe, limit int) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Candle, 0)
	for _, c := range s.candles {
		if c.Symbol == symbol && c.Interval == string(tf) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) SaveSnapshots(_ context.Context, snaps []models.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snaps...)
	return nil
}

func (s *memStore) LatestSnapshot(_ context.Context, symbol string) (*models.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if s.snapshots[i].Symbol == symbol {
			snap := s.snapshots[i]
			return &snap, nil
		}
	}
	return nil, domrepo.ErrNotFound
}

func (s *memStore) LatestSnapshots(_ context.Context, symbol, exchange string) ([]models.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[string]models.MarketSnapshot)
	for _, snap := range s.snapshots {
		if (symbol == "" || snap.Symbol == symbol) && (exchange == "" || snap.Exchange == exchange) {
			latest[snap.Symbol] = snap
		}
	}
	out := make([]models.MarketSnapshot, 0, len(latest))
	for _, snap := range latest {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *memStore) SaveScores(_ context.Context, records []models.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveScErr != nil {
		return s.saveScErr
	}
	s.saveCalls = append(s.saveCalls, append([]models.ScoreRecord(nil), records...))
	for _, r := range records {
		replaced := false
		for i := range s.scores {
			if s.scores[i].Symbol == r.Symbol && s.scores[i].Timestamp.Equal(r.Timestamp) {
				s.scores[i] = r
				replaced = true
			}
		}
		if !replaced {
			s.scores = append(s.scores, r)
		}
	}
	return nil
}

func (s *memStore) LatestScoreTime(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, r := range s.scores {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	if latest.IsZero() {
		return time.Time{}, domrepo.ErrNotFound
	}
	return latest, nil
}

func (s *memStore) latestBatch() []models.ScoreRecord {
	var latest time.Time
	for _, r := range s.scores {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	out := make([]models.ScoreRecord, 0)
	for _, r := range s.scores {
		if r.Timestamp.Equal(latest) {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) LatestScores(_ context.Context, symbol string, limit int) ([]models.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScoreRecord, 0)
	for _, r := range s.latestBatch() {
		if symbol == "" || r.Symbol == symbol {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LatestOutliers(_ context.Context, limit int) ([]models.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScoreRecord, 0)
	for _, r := range s.latestBatch() {
		if r.IsOutlier {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(models.Deref(out[i].CompositeScore)) > math.Abs(models.Deref(out[j].CompositeScore))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ScoreHistory(_ context.Context, symbol string, since time.Time) ([]models.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScoreRecord, 0)
	for _, r := range s.scores {
		if r.Symbol == symbol && !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) SaveSummary(_ context.Context, sum models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return nil
}

func (s *memStore) LastSentHash(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.summaries) - 1; i >= 0; i-- {
		if s.summaries[i].Sent {
			return s.summaries[i].Hash, nil
		}
	}
	return "", domrepo.ErrNotFound
}

func (s *memStore) ListSummaries(_ context.Context, limit int) ([]models.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Summary, 0, limit)
	for i := len(s.summaries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.summaries[i])
	}
	return out, nil
}

func (s *memStore) Cleanup(_ context.Context, dataBefore, summariesBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
	s.cleanupArgs = [2]time.Time{dataBefore, summariesBefore}
	return nil
}

func (s *memStore) Init(context.Context) error { return nil }

func (s *memStore) Health(context.Context) error { return s.healthErr }

func (s *memStore) Close() error { return nil }

type memUniverse struct {
	mu      sync.Mutex
	u       *models.Universe
	saves   int
	loadErr error
}

func (m *memUniverse) SaveUniverse(_ context.Context, u models.Universe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.u = &u
	m.saves++
	return nil
}

func (m *memUniverse) LoadUniverse(context.Context) (*models.Universe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.u == nil {
		return nil, domrepo.ErrNotFound
	}
	u := *m.u
	return &u, nil
}

// fakeMarket serves canned exchange data.
type fakeMarket struct {
	spot, futures []models.Ticker
	snapshots     map[string]*models.MarketSnapshot
	candles       map[string][]models.Candle
	oi            map[string][]models.OpenInterestPoint
	futuresSet    map[string]bool
	snapErr       map[string]error
}

var errExchangeDown = errors.New("exchange unavailable")

func (f *fakeMarket) SpotTickers(context.Context) ([]models.Ticker, error)    { return f.spot, nil }
func (f *fakeMarket) FuturesTickers(context.Context) ([]models.Ticker, error) { return f.futures, nil }

func (f *fakeMarket) MarketSnapshot(_ context.Context, symbol string) (*models.MarketSnapshot, error) {
	if err := f.snapErr[symbol]; err != nil {
		return nil, err
	}
	snap, ok := f.snapshots[symbol]
	if !ok {
		return nil, errExchangeDown
	}
	cp := *snap
	return &cp, nil
}

func (f *fakeMarket) Candles(_ context.Context, symbol string, _ domrepo.Timeframe, limit int) ([]models.Candle, error) {
	c, ok := f.candles[symbol]
	if !ok {
		return nil, errExchangeDown
	}
	if len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]models.Candle(nil), c...), nil
}

func (f *fakeMarket) OpenInterestHistory(_ context.Context, symbol string, _ domrepo.Timeframe, _ int) ([]models.OpenInterestPoint, error) {
	return f.oi[symbol], nil
}

func (f *fakeMarket) IsFutures(_ context.Context, symbol string) bool { return f.futuresSet[symbol] }

type enqueued struct {
	msgType string
	payload interface{}
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []enqueued
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, enqueued{msgType: msgType, payload: payload})
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// hourlyCandles builds n hourly candles ending at t0 following a drift
// plus a deterministic wobble.
func hourlyCandles(symbol string, n int, start, drift float64) []models.Candle {
	out := make([]models.Candle, n)
	price := start
	for i := range out {
		open := price
		price *= 1 + drift + 0.004*math.Sin(float64(i)*0.9)
		out[i] = models.Candle{
			Bucket:   t0.Add(time.Duration(i-n) * time.Hour),
			Exchange: "binance",
			Symbol:   symbol,
			Interval: "1h",
			Open:     open,
			High:     math.Max(open, price) * 1.003,
			Low:      math.Min(open, price) * 0.997,
			Close:    price,
			Volume:   1000 + 50*math.Cos(float64(i)*0.7) + float64(i),
		}
	}
	return out
}

func ptr(v float64) *float64 { return &v }
