package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	applogger "FactorPulse/pkg/logger"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresConfig holds connection settings for the PostgreSQL store.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DSN renders the lib/pq connection URL.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// OpenPostgres opens and pings a pool.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// PGStore implements domain Storage on PostgreSQL (TimescaleDB compatible).
// Writes are upserts keyed like the ClickHouse sort keys.
type PGStore struct {
	db      *sqlx.DB
	timeout time.Duration
	l       *applogger.Logger
}

var _ domrepo.Storage = (*PGStore)(nil)

func NewPGStore(db *sqlx.DB, timeout time.Duration) *PGStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PGStore{db: db, timeout: timeout}
}

// SetLogger injects a structured logger.
func (s *PGStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *PGStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Schema returns the DDL applied by Init.
func (s *PGStore) Schema() []string {
	floats := make([]string, 0, len(scoreColumns))
	for _, c := range scoreColumns[4 : len(scoreColumns)-2] {
		floats = append(floats, c+" DOUBLE PRECISION")
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS candles (
            ts TIMESTAMPTZ NOT NULL,
            exchange TEXT NOT NULL,
            symbol TEXT NOT NULL,
            timeframe TEXT NOT NULL,
            open DOUBLE PRECISION NOT NULL,
            high DOUBLE PRECISION NOT NULL,
            low DOUBLE PRECISION NOT NULL,
            close DOUBLE PRECISION NOT NULL,
            volume DOUBLE PRECISION NOT NULL,
            open_interest DOUBLE PRECISION,
            PRIMARY KEY (exchange, symbol, timeframe, ts)
        )`,
		`CREATE TABLE IF NOT EXISTS market_snapshots (
            ts TIMESTAMPTZ NOT NULL,
            exchange TEXT NOT NULL,
            symbol TEXT NOT NULL,
            price DOUBLE PRECISION NOT NULL,
            mark_price DOUBLE PRECISION,
            index_price DOUBLE PRECISION,
            volume_24h DOUBLE PRECISION,
            open_interest DOUBLE PRECISION,
            funding_rate DOUBLE PRECISION,
            next_funding_time TIMESTAMPTZ,
            PRIMARY KEY (exchange, symbol, ts)
        )`,
		`CREATE TABLE IF NOT EXISTS factor_scores (
            ts TIMESTAMPTZ NOT NULL,
            run_id TEXT NOT NULL DEFAULT '',
            exchange TEXT NOT NULL,
            symbol TEXT NOT NULL,
            ` + strings.Join(floats, ",\n            ") + `,
            is_outlier BOOLEAN NOT NULL DEFAULT FALSE,
            outlier_type TEXT NOT NULL DEFAULT 'none',
            PRIMARY KEY (exchange, symbol, ts)
        )`,
		`CREATE INDEX IF NOT EXISTS factor_scores_ts_idx ON factor_scores (ts DESC)`,
		`CREATE TABLE IF NOT EXISTS summaries (
            id BIGSERIAL PRIMARY KEY,
            ts TIMESTAMPTZ NOT NULL,
            run_id TEXT NOT NULL DEFAULT '',
            summary_hash TEXT NOT NULL,
            summary_text TEXT NOT NULL,
            sent BOOLEAN NOT NULL DEFAULT FALSE
        )`,
	}
}

func (s *PGStore) Init(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PGStore) Health(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) Close() error { return s.db.Close() }

// upsertClause updates every non-key column from the excluded row.
func upsertClause(cols []string, keys ...string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
	}
	return " ON CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// inTx runs a chunked upsert inside one transaction.
func (s *PGStore) inTx(ctx context.Context, table string, cols []string, n int, rowArgs func(int) []interface{}, suffix string) error {
	if n == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", table, err)
	}
	defer tx.Rollback()

	if err := insertChunked(ctx, tx, table, cols, n, rowArgs, suffix, s.db.Rebind); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && s.l != nil {
			s.l.Error("postgres write failed",
				applogger.String("table", table),
				applogger.String("code", string(pqErr.Code)),
				applogger.Error(err),
			)
		}
		return err
	}
	return tx.Commit()
}

func (s *PGStore) SaveCandles(ctx context.Context, candles []models.Candle) error {
	return s.inTx(ctx, "candles", candleColumns, len(candles), func(i int) []interface{} {
		if candles[i].Symbol == "" || candles[i].Bucket.IsZero() {
			return nil
		}
		return candleArgs(candles[i])
	}, upsertClause(candleColumns, "exchange", "symbol", "timeframe", "ts"))
}

func (s *PGStore) GetCandles(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) ([]models.Candle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM (
            SELECT %s FROM candles WHERE symbol = ? AND timeframe = ? ORDER BY ts DESC LIMIT ?
        ) latest ORDER BY ts ASC`, strings.Join(candleColumns, ", "), strings.Join(candleColumns, ", ")))
	rows, err := s.db.QueryxContext(ctx, q, symbol, string(tf), limit)
	if err != nil {
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
	return out, rows.Err()
}

func (s *PGStore) SaveSnapshots(ctx context.Context, snaps []models.MarketSnapshot) error {
	return s.inTx(ctx, "market_snapshots", snapshotColumns, len(snaps), func(i int) []interface{} {
		return snapshotArgs(snaps[i])
	}, upsertClause(snapshotColumns, "exchange", "symbol", "ts"))
}

func (s *PGStore) LatestSnapshot(ctx context.Context, symbol string) (*models.MarketSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM market_snapshots WHERE symbol = ? ORDER BY ts DESC LIMIT 1`,
		strings.Join(snapshotColumns, ", ")))
	snap, err := scanSnapshot(s.db.QueryRowxContext(ctx, q, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PGStore) LatestSnapshots(ctx context.Context, symbol, exchange string) ([]models.MarketSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := s.db.Rebind(fmt.Sprintf(`SELECT DISTINCT ON (exchange, symbol) %s FROM market_snapshots
        WHERE (? = '' OR symbol = ?) AND (? = '' OR exchange = ?)
        ORDER BY exchange, symbol, ts DESC`, strings.Join(snapshotColumns, ", ")))
	rows, err := s.db.QueryxContext(ctx, q, symbol, symbol, exchange, exchange)
	if err != nil {
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

func (s *PGStore) SaveScores(ctx context.Context, records []models.ScoreRecord) error {
	return s.inTx(ctx, "factor_scores", scoreColumns, len(records), func(i int) []interface{} {
		return scoreArgs(records[i])
	}, upsertClause(scoreColumns, "exchange", "symbol", "ts"))
}

func (s *PGStore) LatestScoreTime(ctx context.Context) (time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ts time.Time
	err := s.db.QueryRowxContext(ctx, `SELECT ts FROM factor_scores ORDER BY ts DESC LIMIT 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, domrepo.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest score time: %w", err)
	}
	return ts.UTC(), nil
}

func (s *PGStore) queryScores(ctx context.Context, where string, args ...interface{}) ([]models.ScoreRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := s.db.Rebind(fmt.Sprintf("SELECT %s FROM factor_scores %s", strings.Join(scoreColumns, ", "), where))
	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
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

func (s *PGStore) LatestScores(ctx context.Context, symbol string, limit int) ([]models.ScoreRecord, error) {
	ts, err := s.LatestScoreTime(ctx)
	if errors.Is(err, domrepo.ErrNotFound) {
		return []models.ScoreRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.queryScores(ctx, `WHERE ts = ? AND (? = '' OR symbol = ?) ORDER BY symbol LIMIT ?`, ts, symbol, symbol, limit)
}

func (s *PGStore) LatestOutliers(ctx context.Context, limit int) ([]models.ScoreRecord, error) {
	ts, err := s.LatestScoreTime(ctx)
	if errors.Is(err, domrepo.ErrNotFound) {
		return []models.ScoreRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.queryScores(ctx, `WHERE ts = ? AND is_outlier ORDER BY abs(composite_score) DESC NULLS LAST LIMIT ?`, ts, limit)
}

func (s *PGStore) ScoreHistory(ctx context.Context, symbol string, since time.Time) ([]models.ScoreRecord, error) {
	return s.queryScores(ctx, `WHERE symbol = ? AND ts >= ? ORDER BY ts ASC`, symbol, since.UTC())
}

func (s *PGStore) SaveSummary(ctx context.Context, sum models.Summary) error {
	return s.inTx(ctx, "summaries", summaryColumns, 1, func(int) []interface{} {
		return summaryArgs(sum)
	}, "")
}

func (s *PGStore) LastSentHash(ctx context.Context) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var hash string
	err := s.db.QueryRowxContext(ctx, `SELECT summary_hash FROM summaries WHERE sent ORDER BY ts DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domrepo.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("last sent hash: %w", err)
	}
	return hash, nil
}

func (s *PGStore) ListSummaries(ctx context.Context, limit int) ([]models.Summary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM summaries ORDER BY ts DESC LIMIT ?`, strings.Join(summaryColumns, ", ")))
	rows, err := s.db.QueryxContext(ctx, q, limit)
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

func (s *PGStore) Cleanup(ctx context.Context, dataBefore, summariesBefore time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, t := range []string{"candles", "market_snapshots", "factor_scores"} {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM "+t+" WHERE ts < ?"), dataBefore.UTC()); err != nil {
			return fmt.Errorf("cleanup %s: %w", t, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM summaries WHERE ts < ?"), summariesBefore.UTC()); err != nil {
		return fmt.Errorf("cleanup summaries: %w", err)
	}
	return nil
}
