package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	"FactorPulse/internal/domain/service"
	"FactorPulse/internal/services/features"
	applogger "FactorPulse/pkg/logger"
	"FactorPulse/pkg/queue"
)

// JobSummarySend is the queue message type that delivers a summary.
const JobSummarySend = "summary.send"

// fundingAPR converts an 8-hourly funding rate to an annual percentage.
const fundingAPR = 3 * 365 * 100

// UniverseSource supplies the assets of a run.
type UniverseSource interface {
	UpdateIfNeeded(ctx context.Context) (*models.Universe, error)
}

// PipelineConfig holds the run parameters.
type PipelineConfig struct {
	Exchange         string
	Interval         domrepo.Timeframe
	Lookback         int
	Concurrency      int
	BTCBaseAsset     string
	OutlierLimit     int
	DataRetention    time.Duration
	SummaryRetention time.Duration
	// Notify enables the summary send job. Summaries are stored either way.
	Notify bool
}

func (c *PipelineConfig) setDefaults() {
	if c.Interval == "" {
		c.Interval = domrepo.TF1h
	}
	if c.Lookback <= 0 {
		c.Lookback = 48
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.BTCBaseAsset == "" {
		c.BTCBaseAsset = "BTC"
	}
	if c.OutlierLimit <= 0 {
		c.OutlierLimit = 20
	}
	if c.DataRetention <= 0 {
		c.DataRetention = 30 * 24 * time.Hour
	}
	if c.SummaryRetention <= 0 {
		c.SummaryRetention = 90 * 24 * time.Hour
	}
}

// SummaryJob is the payload of JobSummarySend.
type SummaryJob struct {
	RunID string `json:"run_id"`
	Hash  string `json:"hash"`
	Text  string `json:"text"`
}

// RunResult describes one completed run.
type RunResult struct {
	RunID     string
	Timestamp time.Time
	Assets    int
	Processed int
	Skipped   int
	Outliers  int
	Enriched  int
	Summary   *models.Summary
	Duplicate bool
	Duration  time.Duration
}

// Pipeline is the hourly batch: universe, snapshots, candles, factors,
// outliers, correlation enrichment, summary and retention.
type Pipeline struct {
	cfg       PipelineConfig
	universe  UniverseSource
	market    domrepo.MarketData
	store     domrepo.Storage
	engine    service.FactorEngine
	detector  service.OutlierDetector
	scores    *ScoreProcessor
	summaries *SummaryGenerator
	jobs      queue.Publisher
	metrics   domrepo.Metrics
	l         *applogger.Logger
	now       func() time.Time
	newRunID  func() string
}

func NewPipeline(
	cfg PipelineConfig,
	universe UniverseSource,
	market domrepo.MarketData,
	store domrepo.Storage,
	engine service.FactorEngine,
	detector service.OutlierDetector,
	scores *ScoreProcessor,
	summaries *SummaryGenerator,
	jobs queue.Publisher,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *Pipeline {
	cfg.setDefaults()
	if l == nil {
		l = applogger.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		universe:  universe,
		market:    market,
		store:     store,
		engine:    engine,
		detector:  detector,
		scores:    scores,
		summaries: summaries,
		jobs:      jobs,
		metrics:   metrics,
		l:         l,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
}

// assetData is everything fetched for one universe member.
type assetData struct {
	asset    models.Asset
	symbol   string
	snapshot *models.MarketSnapshot
	candles  []models.Candle
}

// run is the state of one RunHourly call.
type run struct {
	id       string
	l        *applogger.Logger
	assets   []*assetData
	btc      *assetData
	btcPrice float64
	ts       time.Time
	records  []models.ScoreRecord
	res      *RunResult
}

// RunHourly executes one full pipeline run. Per-asset failures are logged
// and skipped; failures of the universe or of score persistence abort.
func (p *Pipeline) RunHourly(ctx context.Context) (*RunResult, error) {
	start := p.now()
	r := &run{id: p.newRunID()}
	r.l = p.l.With(applogger.String("run_id", r.id))
	r.res = &RunResult{RunID: r.id}
	r.l.Info("pipeline run started")

	err := p.execute(ctx, r)
	r.res.Duration = p.now().Sub(start)
	if err != nil {
		p.metrics.RecordPipelineRun("error", r.res.Duration.Seconds())
		r.l.Error("pipeline run failed", applogger.Error(err), applogger.Duration("elapsed", r.res.Duration))
		return r.res, err
	}
	p.metrics.RecordPipelineRun("success", r.res.Duration.Seconds())
	r.l.Info("pipeline run completed",
		applogger.Int("processed", r.res.Processed),
		applogger.Int("skipped", r.res.Skipped),
		applogger.Int("outliers", r.res.Outliers),
		applogger.Duration("elapsed", r.res.Duration),
	)
	return r.res, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	steps := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{"universe", p.loadUniverse},
		{"snapshots", p.fetchSnapshots},
		{"candles", p.fetchCandles},
		{"factors", p.computeFactors},
		{"outliers", p.flagOutliers},
		{"btc_correlation", p.enrichOutliers},
		{"summary", p.summarize},
		{"cleanup", p.cleanup},
	}
	for _, s := range steps {
		if err := p.step(ctx, r, s.name, s.fn); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func (p *Pipeline) step(ctx context.Context, r *run, name string, fn func(context.Context, *run) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn(ctx, r)
	elapsed := time.Since(start)
	p.metrics.RecordStep(name, elapsed.Seconds())
	r.l.Debug("pipeline step finished", applogger.String("step", name), applogger.Duration("elapsed", elapsed))
	return err
}

func (p *Pipeline) loadUniverse(ctx context.Context, r *run) error {
	u, err := p.universe.UpdateIfNeeded(ctx)
	if err != nil {
		return err
	}
	r.assets = make([]*assetData, 0, len(u.Assets))
	for _, a := range u.Assets {
		sym := a.TradingSymbol()
		if sym == "" {
			r.l.Warn("asset has no symbol", applogger.String("base_asset", a.BaseAsset))
			continue
		}
		d := &assetData{asset: a, symbol: sym}
		r.assets = append(r.assets, d)
		if a.BaseAsset == p.cfg.BTCBaseAsset && r.btc == nil {
			r.btc = d
		}
	}
	r.res.Assets = len(u.Assets)
	r.l.Info("universe loaded", applogger.Int("assets", len(r.assets)))
	return nil
}

// forEach runs fn for every asset with bounded parallelism. fn errors are
// per-asset and only logged; the group fails only on cancellation.
func (p *Pipeline) forEach(ctx context.Context, r *run, what string, fn func(context.Context, *assetData) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, d := range r.assets {
		d := d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(gctx, d); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				p.metrics.RecordError(what)
				r.l.Error("fetch failed",
					applogger.String("kind", what),
					applogger.String("symbol", d.symbol),
					applogger.Error(err),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) fetchSnapshots(ctx context.Context, r *run) error {
	err := p.forEach(ctx, r, "snapshot", func(ctx context.Context, d *assetData) error {
		snap, err := p.market.MarketSnapshot(ctx, d.symbol)
		if err != nil {
			return err
		}
		if snap.Exchange == "" {
			snap.Exchange = d.asset.Exchange
		}
		d.snapshot = snap
		return nil
	})
	if err != nil {
		return err
	}

	snaps := make([]models.MarketSnapshot, 0, len(r.assets))
	for _, d := range r.assets {
		if d.snapshot != nil {
			snaps = append(snaps, *d.snapshot)
		}
	}
	if r.btc != nil && r.btc.snapshot != nil {
		r.btcPrice = r.btc.snapshot.Price
	}
	r.l.Info("saving market snapshots", applogger.Int("count", len(snaps)))
	return p.store.SaveSnapshots(ctx, snaps)
}

func (p *Pipeline) fetchCandles(ctx context.Context, r *run) error {
	interval := p.cfg.Interval
	err := p.forEach(ctx, r, "candles", func(ctx context.Context, d *assetData) error {
		candles, err := p.market.Candles(ctx, d.symbol, interval, p.cfg.Lookback)
		if err != nil {
			return err
		}
		if d.asset.IsFutures() {
			points, err := p.market.OpenInterestHistory(ctx, d.symbol, interval, p.cfg.Lookback)
			if err != nil {
				r.l.Warn("open interest history unavailable", applogger.String("symbol", d.symbol), applogger.Error(err))
			} else {
				candles = features.MergeOpenInterest(candles, points, interval.Duration())
			}
		}
		d.candles = features.SortCandles(candles)
		return nil
	})
	if err != nil {
		return err
	}

	all := make([]models.Candle, 0, len(r.assets)*p.cfg.Lookback)
	for _, d := range r.assets {
		all = append(all, d.candles...)
	}
	r.l.Info("saving candles", applogger.Int("count", len(all)))
	return p.store.SaveCandles(ctx, all)
}

// resolveBTCPrice falls back to the stored BTC snapshot and then to 1.0.
func (p *Pipeline) resolveBTCPrice(ctx context.Context, r *run) {
	if r.btcPrice > 0 {
		return
	}
	snap, err := p.store.LatestSnapshot(ctx, p.btcSymbol(r))
	if err == nil && snap.Price > 0 {
		r.btcPrice = snap.Price
		r.l.Warn("btc price taken from storage", applogger.Float64("price", r.btcPrice))
		return
	}
	r.l.Error("could not determine BTC price for normalization", applogger.String("symbol", p.btcSymbol(r)))
	r.btcPrice = 1.0
}

func (p *Pipeline) btcSymbol(r *run) string {
	if r.btc != nil {
		return r.btc.symbol
	}
	return p.cfg.BTCBaseAsset + "USDT"
}

// loadFromStore fills inputs the fetch steps could not provide.
func (p *Pipeline) loadFromStore(ctx context.Context, d *assetData) {
	if d.snapshot == nil {
		if snap, err := p.store.LatestSnapshot(ctx, d.symbol); err == nil {
			d.snapshot = snap
		}
	}
	if len(d.candles) == 0 {
		if candles, err := p.store.GetCandles(ctx, d.symbol, p.cfg.Interval, p.cfg.Lookback); err == nil {
			d.candles = candles
		}
	}
}

func (p *Pipeline) computeFactors(ctx context.Context, r *run) error {
	p.resolveBTCPrice(ctx, r)
	r.ts = p.now().UTC()
	r.res.Timestamp = r.ts

	slots := make([]*models.ScoreRecord, len(r.assets))
	minPoints := p.engine.MinDataPoints()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, d := range r.assets {
		i, d := i, d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p.loadFromStore(gctx, d)
			switch {
			case d.snapshot == nil:
				r.l.Debug("no market data, skipping", applogger.String("symbol", d.symbol))
				return nil
			case len(d.candles) == 0:
				r.l.Debug("no candle data, skipping", applogger.String("symbol", d.symbol))
				return nil
			case len(d.candles) < minPoints:
				r.l.Info("insufficient data, skipping",
					applogger.String("symbol", d.symbol),
					applogger.Int("candles", len(d.candles)),
					applogger.Int("need", minPoints),
				)
				return nil
			}
			rec := p.scoreAsset(r, d)
			slots[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.records = make([]models.ScoreRecord, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			r.records = append(r.records, *s)
		}
	}
	r.res.Processed = len(r.records)
	r.res.Skipped = r.res.Assets - r.res.Processed
	p.metrics.RecordAssets(r.res.Processed, r.res.Skipped)
	r.l.Info("factor calculation complete",
		applogger.Int("processed", r.res.Processed),
		applogger.Int("skipped", r.res.Skipped),
		applogger.Int("total", r.res.Assets),
	)
	return nil
}

func (p *Pipeline) scoreAsset(r *run, d *assetData) models.ScoreRecord {
	fs := p.engine.CalculateAll(d.candles, d.snapshot, nil)
	score := p.engine.Score(fs)

	exchange := d.asset.Exchange
	if exchange == "" {
		exchange = p.cfg.Exchange
	}
	rec := models.NewScoreRecord(r.ts, exchange, d.symbol, fs)
	rec.RunID = r.id
	rec.PriceBTC = p.engine.NormalizeToBTC(d.snapshot.Price, r.btcPrice)
	rec.OpenInterest = d.snapshot.OpenInterest
	rec.FundingRate = d.snapshot.FundingRate
	if fr := d.snapshot.FundingRate; fr != nil {
		rec.FundingRateAPR = models.Float64Ptr(*fr * fundingAPR)
	}
	if !math.IsNaN(score) && !math.IsInf(score, 0) {
		rec.CompositeScore = models.Float64Ptr(score)
	}
	return rec
}

func (p *Pipeline) flagOutliers(ctx context.Context, r *run) error {
	if len(r.records) == 0 {
		r.l.Warn("no scores computed, nothing to persist")
		return nil
	}
	r.records = p.detector.IdentifyOutliers(r.records)

	var top, bottom int
	for _, rec := range r.records {
		if s, ok := rec.Score(); ok {
			p.metrics.RecordCompositeScore(rec.Symbol, s)
		}
		switch rec.OutlierType {
		case models.OutlierTop:
			top++
		case models.OutlierBottom:
			bottom++
		}
	}
	r.res.Outliers = top + bottom
	p.metrics.RecordOutliers(top, bottom)

	batch := models.ScoreBatch{Timestamp: r.ts, RunID: r.id, Records: r.records}
	if err := p.scores.Process(ctx, batch); err != nil {
		return err
	}
	r.l.Info("factor scores saved", applogger.Int("count", len(r.records)), applogger.Int("top", top), applogger.Int("bottom", bottom))
	return nil
}

// enrichOutliers adds BTC correlation and beta to outliers and re-persists
// only the records that changed. Failures here never abort the run.
func (p *Pipeline) enrichOutliers(ctx context.Context, r *run) error {
	if r.res.Outliers == 0 {
		return nil
	}
	btcCandles := p.btcCandles(ctx, r)
	if len(btcCandles) == 0 {
		r.l.Warn("no BTC candles, skipping outlier correlation")
		return nil
	}

	bySymbol := make(map[string]*assetData, len(r.assets))
	for _, d := range r.assets {
		bySymbol[d.symbol] = d
	}
	btcSym := p.btcSymbol(r)

	enriched := make([]models.ScoreRecord, 0)
	for i := range r.records {
		rec := &r.records[i]
		if !rec.IsOutlier || rec.Symbol == btcSym || rec.BTCCorrelationFactors.Correlation != nil {
			continue
		}
		d, ok := bySymbol[rec.Symbol]
		if !ok || len(d.candles) == 0 {
			continue
		}
		bc := p.engine.BTCCorrelation(d.candles, btcCandles)
		if bc.Correlation == nil && bc.Beta == nil {
			continue
		}
		rec.BTCCorrelationFactors = bc
		enriched = append(enriched, *rec)
	}
	if len(enriched) == 0 {
		return nil
	}
	r.res.Enriched = len(enriched)

	batch := models.ScoreBatch{Timestamp: r.ts, RunID: r.id, Records: enriched}
	if err := p.scores.Process(ctx, batch); err != nil {
		r.l.Error("saving outlier correlation failed", applogger.Error(err))
		return nil
	}
	r.l.Info("calculated BTC correlation for outliers", applogger.Int("count", len(enriched)))
	return nil
}

func (p *Pipeline) btcCandles(ctx context.Context, r *run) []models.Candle {
	if r.btc != nil && len(r.btc.candles) > 0 {
		return r.btc.candles
	}
	candles, err := p.store.GetCandles(ctx, p.btcSymbol(r), p.cfg.Interval, p.cfg.Lookback)
	if err != nil {
		r.l.Warn("loading BTC candles failed", applogger.Error(err))
		return nil
	}
	return candles
}

// topOutliers orders flagged records by absolute score, largest first.
func topOutliers(records []models.ScoreRecord, limit int) []models.ScoreRecord {
	out := make([]models.ScoreRecord, 0)
	for _, rec := range records {
		if rec.IsOutlier {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(models.Deref(out[i].CompositeScore)) > math.Abs(models.Deref(out[j].CompositeScore))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// summarize renders the report, dedupes it against the last sent one and
// queues delivery. Failures are logged; the scores are already stored.
func (p *Pipeline) summarize(ctx context.Context, r *run) error {
	if len(r.records) == 0 {
		return nil
	}
	s := p.summaries.Generate(topOutliers(r.records, p.cfg.OutlierLimit), r.records)
	s.RunID = r.id
	r.res.Summary = &s

	last, err := p.store.LastSentHash(ctx)
	if err != nil && !errors.Is(err, domrepo.ErrNotFound) {
		r.l.Warn("last summary hash unavailable", applogger.Error(err))
	}
	r.res.Duplicate = last != "" && last == s.Hash

	switch {
	case r.res.Duplicate:
		r.l.Info("summary identical to last sent, skipping send", applogger.String("hash", s.Hash[:8]))
	case !p.cfg.Notify || p.jobs == nil:
		r.l.Debug("notifications disabled, summary stored only")
	default:
		err := p.jobs.Enqueue(ctx, JobSummarySend, SummaryJob{RunID: r.id, Hash: s.Hash, Text: s.Text})
		if err != nil {
			p.metrics.RecordError("summary_enqueue")
			r.l.Error("queueing summary failed", applogger.Error(err))
		} else {
			s.Sent = true
			r.l.Info("summary queued", applogger.String("hash", s.Hash[:8]))
		}
	}

	if err := p.store.SaveSummary(ctx, s); err != nil {
		r.l.Error("saving summary failed", applogger.Error(err))
	}
	return nil
}

func (p *Pipeline) cleanup(ctx context.Context, r *run) error {
	now := p.now().UTC()
	if err := p.store.Cleanup(ctx, now.Add(-p.cfg.DataRetention), now.Add(-p.cfg.SummaryRetention)); err != nil {
		p.metrics.RecordError("cleanup")
		r.l.Warn("retention cleanup failed", applogger.Error(err))
	}
	return nil
}
