package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	pkgch "FactorPulse/pkg/clickhouse"
	applogger "FactorPulse/pkg/logger"
)

// CHStore implements domain Storage on ClickHouse. Candles and scores live in
// ReplacingMergeTree tables so re-inserting a row replaces it; reads use
// FINAL to see the merged view.
type CHStore struct {
	ch *pkgch.Client
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.Storage = (*CHStore)(nil)

func NewCHStore(ch *pkgch.Client) *CHStore {
	return &CHStore{ch: ch, db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHStore) table(name string) string {
	return s.ch.Database() + "." + name
}

// Schema returns the DDL applied by Init.
func (s *CHStore) Schema() []string {
	db := s.ch.Database()
	floats := func(cols []string) string {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = c + " Nullable(Float64)"
		}
		return strings.Join(parts, ",\n            ")
	}
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            ts DateTime64(3, 'UTC'),
            exchange LowCardinality(String),
            symbol LowCardinality(String),
            timeframe LowCardinality(String),
            open Float64,
            high Float64,
            low Float64,
            close Float64,
            volume Float64,
            open_interest Nullable(Float64),
            inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
        ) ENGINE = ReplacingMergeTree(inserted_at)
        PARTITION BY toYYYYMM(ts)
        ORDER BY (exchange, symbol, timeframe, ts)`, s.table("candles")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            ts DateTime64(3, 'UTC'),
            exchange LowCardinality(String),
            symbol LowCardinality(String),
            price Float64,
            %s,
            next_funding_time Nullable(DateTime64(3, 'UTC'))
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(ts)
        ORDER BY (exchange, symbol, ts)`, s.table("market_snapshots"),
			floats([]string{"mark_price", "index_price", "volume_24h", "open_interest", "funding_rate"})),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            ts DateTime64(3, 'UTC'),
            run_id String,
            exchange LowCardinality(String),
            symbol LowCardinality(String),
            %s,
            is_outlier Bool,
            outlier_type LowCardinality(String),
            inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
        ) ENGINE = ReplacingMergeTree(inserted_at)
        PARTITION BY toYYYYMM(ts)
        ORDER BY (exchange, symbol, ts)`, s.table("factor_scores"),
			floats(scoreColumns[4:len(scoreColumns)-2])),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            ts DateTime64(3, 'UTC'),
            run_id String,
            summary_hash String,
            summary_text String,
            sent Bool
        ) ENGINE = MergeTree
        ORDER BY ts`, s.table("summaries")),
	}
}

func (s *CHStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, s.Schema())
}

func (s *CHStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHStore) Close() error {
	return s.ch.Close()
}

func (s *CHStore) logError(op string, err error, fields ...applogger.Field) {
	if s.l == nil {
		return
	}
	s.l.Error("clickhouse "+op+" failed", append(fields, applogger.Error(err))...)
}

func (s *CHStore) SaveCandles(ctx context.Context, candles []models.Candle) error {
	err := insertChunked(ctx, s.db, s.table("candles"), candleColumns, len(candles), func(i int) []interface{} {
		if candles[i].Symbol == "" || candles[i].Bucket.IsZero() {
			return nil
		}
		return candleArgs(candles[i])
	}, "", nil)
	if err != nil {
		s.logError("save_candles", err, applogger.Int("rows", len(candles)))
	}
	return err
}

// GetCandles returns the newest limit candles in ascending order.
func (s *CHStore) GetCandles(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) ([]models.Candle, error) {
	start := time.Now()
	q := fmt.Sprintf(`SELECT %s FROM %s FINAL
        WHERE symbol = ? AND timeframe = ?
        ORDER BY ts DESC
        LIMIT ?`, strings.Join(candleColumns, ", "), s.table("candles"))
	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), limit)
	if err != nil {
		s.logError("get_candles", err, applogger.String("symbol", symbol))
		return nil, fmt.Errorf("get candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, limit)
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if s.l != nil {
		s.l.Debug("clickhouse get_candles ok",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHStore) SaveSnapshots(ctx context.Context, snaps []models.MarketSnapshot) error {
	err := insertChunked(ctx, s.db, s.table("market_snapshots"), snapshotColumns, len(snaps), func(i int) []interface{} {
		return snapshotArgs(snaps[i])
	}, "", nil)
	if err != nil {
		s.logError("save_snapshots", err, applogger.Int("rows", len(snaps)))
	}
	return err
}

func (s *CHStore) LatestSnapshot(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT 1`,
		strings.Join(snapshotColumns, ", "), s.table("market_snapshots"))
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, q, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}

func (s *CHStore) LatestSnapshots(ctx context.Context, symbol, exchange string) ([]models.MarketSnapshot, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s
        WHERE (? = '' OR symbol = ?) AND (? = '' OR exchange = ?)
        ORDER BY exchange, symbol, ts DESC
        LIMIT 1 BY exchange, symbol`, strings.Join(snapshotColumns, ", "), s.table("market_snapshots"))
	rows, err := s.db.QueryContext(ctx, q, symbol, symbol, exchange, exchange)
	if err != nil {
		s.logError("latest_snapshots", err)
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()
	out := make([]models.MarketSnapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *CHStore) SaveScores(ctx context.Context, records []models.ScoreRecord) error {
	err := insertChunked(ctx, s.db, s.table("factor_scores"), scoreColumns, len(records), func(i int) []interface{} {
		return scoreArgs(records[i])
	}, "", nil)
	if err != nil {
		s.logError("save_scores", err, applogger.Int("rows", len(records)))
	}
	return err
}

func (s *CHStore) LatestScoreTime(ctx context.Context) (time.Time, error) {
	var ts time.Time
	q := fmt.Sprintf(`SELECT ts FROM %s ORDER BY ts DESC LIMIT 1`, s.table("factor_scores"))
	err := s.db.QueryRowContext(ctx, q).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, domrepo.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest score time: %w", err)
	}
	return ts.UTC(), nil
}

func (s *CHStore) queryScores(ctx context.Context, q string, args ...interface{}) ([]models.ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logError("query_scores", err)
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()
	out := make([]models.ScoreRecord, 0)
	for rows.Next() {
		r, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *CHStore) scoreSelect() string {
	return fmt.Sprintf("SELECT %s FROM %s FINAL", strings.Join(scoreColumns, ", "), s.table("factor_scores"))
}

func (s *CHStore) LatestScores(ctx context.Context, symbol string, limit int) ([]models.ScoreRecord, error) {
	ts, err := s.LatestScoreTime(ctx)
	if errors.Is(err, domrepo.ErrNotFound) {
		return []models.ScoreRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	q := s.scoreSelect() + ` WHERE ts = ? AND (? = '' OR symbol = ?) ORDER BY symbol LIMIT ?`
	return s.queryScores(ctx, q, ts, symbol, symbol, limit)
}

func (s *CHStore) LatestOutliers(ctx context.Context, limit int) ([]models.ScoreRecord, error) {
	ts, err := s.LatestScoreTime(ctx)
	if errors.Is(err, domrepo.ErrNotFound) {
		return []models.ScoreRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	q := s.scoreSelect() + ` WHERE ts = ? AND is_outlier ORDER BY abs(composite_score) DESC LIMIT ?`
	return s.queryScores(ctx, q, ts, limit)
}

func (s *CHStore) ScoreHistory(ctx context.Context, symbol string, since time.Time) ([]models.ScoreRecord, error) {
	q := s.scoreSelect() + ` WHERE symbol = ? AND ts >= ? ORDER BY ts ASC`
	return s.queryScores(ctx, q, symbol, since.UTC())
}

func (s *CHStore) SaveSummary(ctx context.Context, sum models.Summary) error {
	return insertChunked(ctx, s.db, s.table("summaries"), summaryColumns, 1, func(int) []interface{} {
		return summaryArgs(sum)
	}, "", nil)
}

func (s *CHStore) LastSentHash(ctx context.Context) (string, error) {
	var hash string
	q := fmt.Sprintf(`SELECT summary_hash FROM %s WHERE sent ORDER BY ts DESC LIMIT 1`, s.table("summaries"))
	err := s.db.QueryRowContext(ctx, q).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domrepo.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("last sent hash: %w", err)
	}
	return hash, nil
}

func (s *CHStore) ListSummaries(ctx context.Context, limit int) ([]models.Summary, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY ts DESC LIMIT ?`, strings.Join(summaryColumns, ", "), s.table("summaries"))
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()
	out := make([]models.Summary, 0, limit)
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Cleanup issues lightweight mutations deleting rows older than the cutoffs.
func (s *CHStore) Cleanup(ctx context.Context, dataBefore, summariesBefore time.Time) error {
	for _, t := range []string{"candles", "market_snapshots", "factor_scores"} {
		q := fmt.Sprintf("ALTER TABLE %s DELETE WHERE ts < ?", s.table(t))
		if _, err := s.db.ExecContext(ctx, q, dataBefore.UTC()); err != nil {
			s.logError("cleanup", err, applogger.String("table", t))
			return fmt.Errorf("cleanup %s: %w", t, err)
		}
	}
	q := fmt.Sprintf("ALTER TABLE %s DELETE WHERE ts < ?", s.table("summaries"))
	if _, err := s.db.ExecContext(ctx, q, summariesBefore.UTC()); err != nil {
		return fmt.Errorf("cleanup summaries: %w", err)
	}
	return nil
}
