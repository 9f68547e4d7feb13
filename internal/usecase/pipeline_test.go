package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	"FactorPulse/internal/services/factors"
)

type staticUniverse struct {
	u   *models.Universe
	err error
}

func (s staticUniverse) UpdateIfNeeded(context.Context) (*models.Universe, error) {
	return s.u, s.err
}

// storePublisher delivers batches straight to a memStore.
type storePublisher struct {
	store *memStore
}

func (p storePublisher) PublishScores(ctx context.Context, b models.ScoreBatch) error {
	return p.store.SaveScores(ctx, b.Records)
}

func (p storePublisher) Close() error { return nil }

func testUniverse() *models.Universe {
	return &models.Universe{
		UpdatedAt: t0,
		Assets: []models.Asset{
			{BaseAsset: "BTC", Exchange: "binance", FuturesSymbol: "BTCUSDT", SpotSymbol: "BTCUSDT", Rank: 1},
			{BaseAsset: "ETH", Exchange: "binance", SpotSymbol: "ETHUSDT", Rank: 2},
			{BaseAsset: "SOL", Exchange: "binance", SpotSymbol: "SOLUSDT", Rank: 3},
			{BaseAsset: "XRP", Exchange: "binance", SpotSymbol: "XRPUSDT", Rank: 4},
			{BaseAsset: "DOGE", Exchange: "binance", SpotSymbol: "DOGEUSDT", Rank: 5},
		},
	}
}

func testMarket() *fakeMarket {
	snap := func(symbol string, price float64) *models.MarketSnapshot {
		return &models.MarketSnapshot{Timestamp: t0, Exchange: "binance", Symbol: symbol, Price: price}
	}
	btc := snap("BTCUSDT", 60000)
	btc.FundingRate = ptr(0.0001)
	return &fakeMarket{
		snapshots: map[string]*models.MarketSnapshot{
			"BTCUSDT": btc,
			"ETHUSDT": snap("ETHUSDT", 3000),
			"SOLUSDT": snap("SOLUSDT", 150),
			"XRPUSDT": snap("XRPUSDT", 0.6),
		},
		candles: map[string][]models.Candle{
			"BTCUSDT": hourlyCandles("BTCUSDT", 48, 60000, 0.004),
			"ETHUSDT": hourlyCandles("ETHUSDT", 48, 3000, -0.003),
			"SOLUSDT": hourlyCandles("SOLUSDT", 48, 150, 0.008),
			"XRPUSDT": hourlyCandles("XRPUSDT", 12, 0.6, 0.001),
		},
	}
}

type pipelineFixture struct {
	p       *Pipeline
	store   *memStore
	market  *fakeMarket
	jobs    *fakeQueue
	metrics *nopMetrics
}

func newPipelineFixture(t *testing.T, notify bool) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store:   &memStore{},
		market:  testMarket(),
		jobs:    &fakeQueue{},
		metrics: &nopMetrics{},
	}
	calc := factors.NewCalculator(factors.WithThresholds(factors.Thresholds{
		OutlierZScore: 2.0,
		TopN:          1,
		BottomN:       1,
		MinDataPoints: 24,
	}))
	summaries := NewSummaryGenerator("UTC")
	summaries.now = func() time.Time { return t0 }

	f.p = NewPipeline(
		PipelineConfig{Exchange: "binance", Notify: notify},
		staticUniverse{u: testUniverse()},
		f.market,
		f.store,
		calc,
		calc,
		NewScoreProcessor(storePublisher{store: f.store}, f.metrics, "store"),
		summaries,
		f.jobs,
		f.metrics,
		nil,
	)
	f.p.now = func() time.Time { return t0 }
	runs := 0
	f.p.newRunID = func() string {
		runs++
		return fmt.Sprintf("run-%d", runs)
	}
	return f
}

func (f *pipelineFixture) record(t *testing.T, symbol string) models.ScoreRecord {
	t.Helper()
	for _, r := range f.store.scores {
		if r.Symbol == symbol {
			return r
		}
	}
	t.Fatalf("no score stored for %s", symbol)
	return models.ScoreRecord{}
}

func TestPipelineRunHourly(t *testing.T) {
	f := newPipelineFixture(t, true)

	res, err := f.p.RunHourly(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, t0, res.Timestamp)
	assert.Equal(t, 5, res.Assets)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 2, res.Outliers)
	assert.False(t, res.Duplicate)
	assert.Equal(t, []string{"success"}, f.metrics.runs)
	assert.Equal(t, []string{
		"universe", "snapshots", "candles", "factors", "outliers", "btc_correlation", "summary", "cleanup",
	}, f.metrics.steps)

	require.Len(t, f.store.scores, 3)
	for _, r := range f.store.scores {
		assert.Equal(t, "run-1", r.RunID)
		assert.Equal(t, t0, r.Timestamp)
		assert.NotNil(t, r.CompositeScore)
	}

	eth := f.record(t, "ETHUSDT")
	require.NotNil(t, eth.PriceBTC)
	assert.InDelta(t, 0.05, *eth.PriceBTC, 1e-12)

	btc := f.record(t, "BTCUSDT")
	require.NotNil(t, btc.FundingRateAPR)
	assert.InDelta(t, 10.95, *btc.FundingRateAPR, 1e-9)
	assert.Nil(t, btc.BTCCorrelationFactors.Correlation)

	enriched := 0
	for _, r := range f.store.scores {
		if r.IsOutlier && r.Symbol != "BTCUSDT" {
			enriched++
			assert.NotNil(t, r.BTCCorrelationFactors.Correlation, r.Symbol)
			assert.NotNil(t, r.BTCCorrelationFactors.Beta, r.Symbol)
		}
	}
	assert.Equal(t, enriched, res.Enriched)
	assert.Len(t, f.store.saveCalls, 2)
	assert.Len(t, f.store.saveCalls[1], enriched)

	require.NotNil(t, res.Summary)
	assert.True(t, res.Summary.Sent)
	assert.Equal(t, "run-1", res.Summary.RunID)
	require.Equal(t, 1, f.jobs.count())
	assert.Equal(t, JobSummarySend, f.jobs.msgs[0].msgType)
	job, ok := f.jobs.msgs[0].payload.(SummaryJob)
	require.True(t, ok)
	assert.Equal(t, res.Summary.Hash, job.Hash)
	assert.Equal(t, res.Summary.Text, job.Text)

	require.Len(t, f.store.summaries, 1)
	assert.True(t, f.store.summaries[0].Sent)

	assert.Equal(t, 1, f.store.cleanups)
	assert.Equal(t, t0.Add(-30*24*time.Hour), f.store.cleanupArgs[0])
	assert.Equal(t, t0.Add(-90*24*time.Hour), f.store.cleanupArgs[1])

	assert.Len(t, f.store.snapshots, 4)
	assert.Contains(t, f.metrics.errors, "snapshot")
	assert.Contains(t, f.metrics.errors, "candles")
}

func TestPipelineSkipsDuplicateSummary(t *testing.T) {
	f := newPipelineFixture(t, true)
	ctx := context.Background()

	first, err := f.p.RunHourly(ctx)
	require.NoError(t, err)
	second, err := f.p.RunHourly(ctx)
	require.NoError(t, err)

	assert.Equal(t, "run-2", second.RunID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Summary.Hash, second.Summary.Hash)
	assert.Equal(t, 1, f.jobs.count())

	require.Len(t, f.store.summaries, 2)
	assert.False(t, f.store.summaries[1].Sent)
}

func TestPipelineWithoutNotifications(t *testing.T) {
	f := newPipelineFixture(t, false)

	res, err := f.p.RunHourly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.jobs.count())
	require.NotNil(t, res.Summary)
	assert.False(t, res.Summary.Sent)
	require.Len(t, f.store.summaries, 1)
}

func TestPipelineEnqueueFailureKeepsSummary(t *testing.T) {
	f := newPipelineFixture(t, true)
	f.jobs.err = errors.New("redis down")

	res, err := f.p.RunHourly(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Summary.Sent)
	require.Len(t, f.store.summaries, 1)
	assert.Contains(t, f.metrics.errors, "summary_enqueue")
}

func TestPipelineBTCPriceFromStorage(t *testing.T) {
	f := newPipelineFixture(t, false)
	f.market.snapErr = map[string]error{"BTCUSDT": errExchangeDown}
	f.store.snapshots = []models.MarketSnapshot{{Timestamp: t0.Add(-time.Hour), Symbol: "BTCUSDT", Price: 50000}}

	res, err := f.p.RunHourly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)

	eth := f.record(t, "ETHUSDT")
	require.NotNil(t, eth.PriceBTC)
	assert.InDelta(t, 0.06, *eth.PriceBTC, 1e-12)
}

func TestPipelineBTCPriceUnknown(t *testing.T) {
	f := newPipelineFixture(t, false)
	f.market.snapErr = map[string]error{"BTCUSDT": errExchangeDown}

	res, err := f.p.RunHourly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	sol := f.record(t, "SOLUSDT")
	require.NotNil(t, sol.PriceBTC)
	assert.InDelta(t, 150, *sol.PriceBTC, 1e-12)
}

func TestPipelineMergesOpenInterest(t *testing.T) {
	f := newPipelineFixture(t, false)
	var points []models.OpenInterestPoint
	for i, c := range f.market.candles["BTCUSDT"] {
		points = append(points, models.OpenInterestPoint{
			Timestamp:    c.Bucket.Add(7 * time.Minute),
			Symbol:       "BTCUSDT",
			OpenInterest: 1000 + 10*float64(i),
		})
	}
	f.market.oi = map[string][]models.OpenInterestPoint{"BTCUSDT": points}
	f.market.futuresSet = map[string]bool{"BTCUSDT": true}

	_, err := f.p.RunHourly(context.Background())
	require.NoError(t, err)

	btc := f.record(t, "BTCUSDT")
	require.NotNil(t, btc.OpenInterestFactors.Change1h)
	require.NotNil(t, btc.OpenInterestFactors.Change24h)
	assert.InDelta(t, (1470.0/1460.0-1)*100, *btc.OpenInterestFactors.Change1h, 1e-9)
	assert.InDelta(t, (1470.0/1230.0-1)*100, *btc.OpenInterestFactors.Change24h, 1e-9)

	eth := f.record(t, "ETHUSDT")
	assert.Nil(t, eth.OpenInterestFactors.Change1h)
}

func TestPipelineFailures(t *testing.T) {
	t.Run("universe", func(t *testing.T) {
		f := newPipelineFixture(t, true)
		f.p.universe = staticUniverse{err: errExchangeDown}

		_, err := f.p.RunHourly(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, errExchangeDown)
		assert.Equal(t, []string{"error"}, f.metrics.runs)
		assert.Empty(t, f.store.snapshots)
	})

	t.Run("score persistence", func(t *testing.T) {
		f := newPipelineFixture(t, true)
		f.store.saveScErr = errors.New("disk full")

		_, err := f.p.RunHourly(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outliers: process batch")
		assert.Empty(t, f.store.summaries)
		assert.Equal(t, 0, f.jobs.count())
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newPipelineFixture(t, true)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.p.RunHourly(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTopOutliers(t *testing.T) {
	recs := []models.ScoreRecord{
		asOutlier(scored("A", 0.2), models.OutlierTop),
		scored("B", 0.9),
		asOutlier(scored("C", -0.5), models.OutlierBottom),
		asOutlier(scored("D", 0.3), models.OutlierTop),
	}
	out := topOutliers(recs, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "C", out[0].Symbol)
	assert.Equal(t, "D", out[1].Symbol)
}

var _ domrepo.ScorePublisher = storePublisher{}
