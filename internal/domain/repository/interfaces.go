package repository

import (
	"context"
	"errors"
	"time"

	"FactorPulse/internal/domain/models"
)

// ErrNotFound is returned by lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// MarketData is the exchange as seen by the pipeline. Implementations pick
// the spot or futures endpoint per symbol.
type MarketData interface {
	SpotTickers(ctx context.Context) ([]models.Ticker, error)
	FuturesTickers(ctx context.Context) ([]models.Ticker, error)
	MarketSnapshot(ctx context.Context, symbol string) (*models.MarketSnapshot, error)
	Candles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Candle, error)
	OpenInterestHistory(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.OpenInterestPoint, error)
	IsFutures(ctx context.Context, symbol string) bool
}

type CandleStore interface {
	SaveCandles(ctx context.Context, candles []models.Candle) error
	// GetCandles returns the latest limit candles in ascending order.
	GetCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Candle, error)
}

type SnapshotStore interface {
	SaveSnapshots(ctx context.Context, snaps []models.MarketSnapshot) error
	LatestSnapshot(ctx context.Context, symbol string) (*models.MarketSnapshot, error)
	// LatestSnapshots returns the newest snapshot per symbol. Empty filters match all.
	LatestSnapshots(ctx context.Context, symbol, exchange string) ([]models.MarketSnapshot, error)
}

type ScoreStore interface {
	SaveScores(ctx context.Context, records []models.ScoreRecord) error
	LatestScoreTime(ctx context.Context) (time.Time, error)
	// LatestScores returns records of the newest batch ordered by symbol.
	LatestScores(ctx context.Context, symbol string, limit int) ([]models.ScoreRecord, error)
	// LatestOutliers returns flagged records of the newest batch by |score| desc.
	LatestOutliers(ctx context.Context, limit int) ([]models.ScoreRecord, error)
	ScoreHistory(ctx context.Context, symbol string, since time.Time) ([]models.ScoreRecord, error)
}

type SummaryStore interface {
	SaveSummary(ctx context.Context, s models.Summary) error
	// LastSentHash returns ErrNotFound when nothing was sent yet.
	LastSentHash(ctx context.Context) (string, error)
	ListSummaries(ctx context.Context, limit int) ([]models.Summary, error)
}

type RetentionStore interface {
	Cleanup(ctx context.Context, dataBefore, summariesBefore time.Time) error
}

// Storage is a complete persistence backend.
type Storage interface {
	CandleStore
	SnapshotStore
	ScoreStore
	SummaryStore
	RetentionStore
	Init(ctx context.Context) error // ensure tables
	Health(ctx context.Context) error
	Close() error
}

type UniverseStore interface {
	SaveUniverse(ctx context.Context, u models.Universe) error
	// LoadUniverse returns ErrNotFound when no universe was saved.
	LoadUniverse(ctx context.Context) (*models.Universe, error)
}

// ScorePublisher hands a scored batch to its delivery backend.
type ScorePublisher interface {
	PublishScores(ctx context.Context, batch models.ScoreBatch) error
	Close() error
}

// Notifier delivers a rendered summary.
type Notifier interface {
	Notify(ctx context.Context, summary models.Summary) error
}

// Locker guards work that must not overlap across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordPipelineRun(status string, seconds float64)
	RecordStep(step string, seconds float64)
	RecordAssets(processed, skipped int)
	RecordOutliers(top, bottom int)
	RecordCompositeScore(symbol string, score float64)
	RecordMessageSent(backend, channel string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
