package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPGStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGStore(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, Database: "factorpulse", User: "fp", Password: "s3cr#t", SSLMode: "disable"}
	assert.Equal(t, "postgres://fp:s3cr%23t@db:5432/factorpulse?sslmode=disable", cfg.DSN())
}

func TestUpsertClause(t *testing.T) {
	got := upsertClause([]string{"ts", "symbol", "close", "volume"}, "symbol", "ts")
	assert.Equal(t, " ON CONFLICT (symbol, ts) DO UPDATE SET close = EXCLUDED.close, volume = EXCLUDED.volume", got)
}

func TestPGStore_SaveScoresUpsertsInTx(t *testing.T) {
	s, mock := newPGStore(t)
	rec := models.NewScoreRecord(t0, "binance", "BTCUSDT", models.FactorSet{})
	rec.CompositeScore = models.Float64Ptr(0.3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO factor_scores (ts, run_id, exchange, symbol") +
		`.*VALUES \(\$1, \$2, .*\$35\) ON CONFLICT \(exchange, symbol, ts\) DO UPDATE SET run_id = EXCLUDED\.run_id`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveScores(context.Background(), []models.ScoreRecord{rec}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_SaveRollsBackOnError(t *testing.T) {
	s, mock := newPGStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO candles`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.SaveCandles(context.Background(), []models.Candle{{Bucket: t0, Symbol: "ETHUSDT", Exchange: "binance", Interval: "1h"}})
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_SaveSkipsEmpty(t *testing.T) {
	s, mock := newPGStore(t)
	require.NoError(t, s.SaveSnapshots(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_LatestSnapshotsDistinctOn(t *testing.T) {
	s, mock := newPGStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (exchange, symbol)") + `.*WHERE \(\$1 = '' OR symbol = \$2\)`).
		WithArgs("SOLUSDT", "SOLUSDT", "", "").
		WillReturnRows(sqlmock.NewRows(snapshotColumns).
			AddRow(t0, "binance", "SOLUSDT", 150.0, 150.1, 149.9, 1e8, 2e6, 0.0002, nil))

	got, err := s.LatestSnapshots(context.Background(), "SOLUSDT", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 150.1, *got[0].MarkPrice)
	assert.Nil(t, got[0].NextFundingTime)
}

func TestPGStore_LatestOutliers(t *testing.T) {
	s, mock := newPGStore(t)
	mock.ExpectQuery(`SELECT ts FROM factor_scores ORDER BY ts DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"ts"}).AddRow(t0))
	mock.ExpectQuery(`WHERE ts = \$1 AND is_outlier ORDER BY abs\(composite_score\) DESC NULLS LAST LIMIT \$2`).
		WithArgs(t0, 20).
		WillReturnRows(sqlmock.NewRows(scoreColumns).AddRow(scoreRow(t0, "PEPEUSDT", -0.9, models.OutlierBottom)...))

	got, err := s.LatestOutliers(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.OutlierBottom, got[0].OutlierType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_LastSentHashNotFound(t *testing.T) {
	s, mock := newPGStore(t)
	mock.ExpectQuery(`SELECT summary_hash FROM summaries WHERE sent`).
		WillReturnRows(sqlmock.NewRows([]string{"summary_hash"}))

	_, err := s.LastSentHash(context.Background())
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}

func TestPGStore_ListSummaries(t *testing.T) {
	s, mock := newPGStore(t)
	mock.ExpectQuery(`FROM summaries ORDER BY ts DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(summaryColumns).
			AddRow(t0.Add(time.Hour), "r2", "h2", "text 2", true).
			AddRow(t0, "r1", "h1", "text 1", false))

	got, err := s.ListSummaries(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "h2", got[0].Hash)
	assert.False(t, got[1].Sent)
}

func TestPGStore_Cleanup(t *testing.T) {
	s, mock := newPGStore(t)
	for _, tbl := range []string{"candles", "market_snapshots", "factor_scores", "summaries"} {
		mock.ExpectExec(`DELETE FROM ` + tbl + ` WHERE ts < \$1`).WillReturnResult(sqlmock.NewResult(0, 3))
	}
	require.NoError(t, s.Cleanup(context.Background(), t0, t0))
	require.NoError(t, mock.ExpectationsWereMet())
}
