package repository

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	pkgch "FactorPulse/pkg/clickhouse"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func newCHStore(t *testing.T) (*CHStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCHStore(pkgch.NewFromDB(db, "factorpulse")), mock
}

// scoreRow renders a factor_scores row with composite set and every other factor null.
func scoreRow(ts time.Time, symbol string, composite float64, outlier models.OutlierType) []driver.Value {
	row := []driver.Value{ts, "run-1", "binance", symbol}
	for i := 0; i < len(scoreColumns)-7; i++ {
		row = append(row, nil)
	}
	row = append(row, composite, outlier != models.OutlierNone, string(outlier))
	return row
}

func TestCHStore_SchemaCoversEveryTable(t *testing.T) {
	s, _ := newCHStore(t)
	schema := s.Schema()
	require.Len(t, schema, 5)
	assert.Contains(t, schema[1], "factorpulse.candles")
	assert.Contains(t, schema[1], "ReplacingMergeTree(inserted_at)")
	assert.Contains(t, schema[3], "composite_score Nullable(Float64)")
	assert.Contains(t, schema[4], "factorpulse.summaries")
}

func TestCHStore_SaveCandlesSkipsInvalidRows(t *testing.T) {
	s, mock := newCHStore(t)
	candles := []models.Candle{
		{Bucket: t0, Exchange: "binance", Symbol: "BTCUSDT", Interval: "1h", Close: 1, OpenInterest: models.Float64Ptr(5)},
		{Bucket: t0, Symbol: ""},
	}
	mock.ExpectExec(`INSERT INTO factorpulse\.candles \(ts, exchange, symbol, timeframe`).
		WithArgs(t0, "binance", "BTCUSDT", "1h", 0.0, 0.0, 0.0, 1.0, 0.0, 5.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveCandles(context.Background(), candles))
	require.NoError(t, s.SaveCandles(context.Background(), []models.Candle{{Symbol: ""}}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHStore_GetCandlesReturnsAscending(t *testing.T) {
	s, mock := newCHStore(t)
	rows := sqlmock.NewRows(candleColumns).
		AddRow(t0.Add(time.Hour), "binance", "ETHUSDT", "1h", 2.0, 2.0, 2.0, 2.0, 10.0, nil).
		AddRow(t0, "binance", "ETHUSDT", "1h", 1.0, 1.0, 1.0, 1.0, 5.0, 42.0)
	mock.ExpectQuery(`FROM factorpulse\.candles FINAL`).
		WithArgs("ETHUSDT", "1h", 2).
		WillReturnRows(rows)

	got, err := s.GetCandles(context.Background(), "ETHUSDT", domrepo.TF1h, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, t0, got[0].Bucket)
	require.NotNil(t, got[0].OpenInterest)
	assert.Equal(t, 42.0, *got[0].OpenInterest)
	assert.Nil(t, got[1].OpenInterest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHStore_LatestSnapshotNotFound(t *testing.T) {
	s, mock := newCHStore(t)
	mock.ExpectQuery(`FROM factorpulse\.market_snapshots WHERE symbol = \?`).
		WithArgs("XRPUSDT").
		WillReturnRows(sqlmock.NewRows(snapshotColumns))

	_, err := s.LatestSnapshot(context.Background(), "XRPUSDT")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}

func TestCHStore_LatestSnapshotsScansNullables(t *testing.T) {
	s, mock := newCHStore(t)
	nft := t0.Add(8 * time.Hour)
	rows := sqlmock.NewRows(snapshotColumns).
		AddRow(t0, "binance", "BTCUSDT", 60000.0, 60010.0, 59990.0, 1e9, 1e5, 0.0001, nft).
		AddRow(t0, "binance", "DOGEUSDT", 0.1, nil, nil, 5e6, nil, nil, nil)
	mock.ExpectQuery(`LIMIT 1 BY exchange, symbol`).
		WithArgs("", "", "binance", "binance").
		WillReturnRows(rows)

	got, err := s.LatestSnapshots(context.Background(), "", "binance")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].NextFundingTime)
	assert.Equal(t, nft, *got[0].NextFundingTime)
	assert.Equal(t, 0.0001, *got[0].FundingRate)
	assert.Nil(t, got[1].MarkPrice)
	assert.Nil(t, got[1].NextFundingTime)
}

func TestCHStore_LatestScoresUsesNewestBatch(t *testing.T) {
	s, mock := newCHStore(t)
	mock.ExpectQuery(`SELECT ts FROM factorpulse\.factor_scores`).
		WillReturnRows(sqlmock.NewRows([]string{"ts"}).AddRow(t0))
	mock.ExpectQuery(`FROM factorpulse\.factor_scores FINAL WHERE ts = \?`).
		WithArgs(t0, "", "", 50).
		WillReturnRows(sqlmock.NewRows(scoreColumns).
			AddRow(scoreRow(t0, "BTCUSDT", 0.5, models.OutlierTop)...).
			AddRow(scoreRow(t0, "ETHUSDT", -0.1, models.OutlierNone)...))

	got, err := s.LatestScores(context.Background(), "", 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.True(t, got[0].IsOutlier)
	assert.Equal(t, models.OutlierTop, got[0].OutlierType)
	score, ok := got[1].Score()
	assert.True(t, ok)
	assert.Equal(t, -0.1, score)
	assert.Nil(t, got[1].RSI)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCHStore_LatestScoresEmptyStore(t *testing.T) {
	s, mock := newCHStore(t)
	mock.ExpectQuery(`SELECT ts FROM factorpulse\.factor_scores`).
		WillReturnRows(sqlmock.NewRows([]string{"ts"}))

	got, err := s.LatestScores(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCHStore_LastSentHash(t *testing.T) {
	s, mock := newCHStore(t)
	mock.ExpectQuery(`SELECT summary_hash FROM factorpulse\.summaries WHERE sent`).
		WillReturnRows(sqlmock.NewRows([]string{"summary_hash"}))
	_, err := s.LastSentHash(context.Background())
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	mock.ExpectQuery(`SELECT summary_hash FROM factorpulse\.summaries WHERE sent`).
		WillReturnRows(sqlmock.NewRows([]string{"summary_hash"}).AddRow("abc"))
	h, err := s.LastSentHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", h)
}

func TestCHStore_Cleanup(t *testing.T) {
	s, mock := newCHStore(t)
	data := t0.AddDate(0, 0, -30)
	sums := t0.AddDate(0, 0, -90)
	for _, tbl := range []string{"candles", "market_snapshots", "factor_scores"} {
		mock.ExpectExec(`ALTER TABLE factorpulse\.` + tbl + ` DELETE WHERE ts < \?`).
			WithArgs(data).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(`ALTER TABLE factorpulse\.summaries DELETE`).
		WithArgs(sums).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Cleanup(context.Background(), data, sums))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertChunked_SplitsLargeBatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	n := insertChunkSize + 1
	mock.ExpectExec(`INSERT INTO t \(a\) VALUES`).WillReturnResult(sqlmock.NewResult(0, int64(insertChunkSize)))
	mock.ExpectExec(`INSERT INTO t \(a\) VALUES \(\?\)$`).WithArgs(insertChunkSize).WillReturnResult(sqlmock.NewResult(0, 1))

	err = insertChunked(context.Background(), db, "t", []string{"a"}, n, func(i int) []interface{} {
		return []interface{}{i}
	}, "", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
