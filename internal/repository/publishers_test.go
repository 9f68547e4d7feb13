package repository

import (
	"context"
	"testing"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	"FactorPulse/pkg/cache"
	pkgkafka "FactorPulse/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	topic string
	msgs  []pkgkafka.Message
}

func (p *recordingProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	p.topic = topic
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type recordingScoreStore struct {
	domrepo.ScoreStore
	saved []models.ScoreRecord
}

func (s *recordingScoreStore) SaveScores(_ context.Context, r []models.ScoreRecord) error {
	s.saved = append(s.saved, r...)
	return nil
}

func testBatch() models.ScoreBatch {
	a := models.NewScoreRecord(t0, "binance", "BTCUSDT", models.FactorSet{})
	b := models.NewScoreRecord(t0, "binance", "ETHUSDT", models.FactorSet{})
	return models.ScoreBatch{Timestamp: t0, RunID: "run-7", Records: []models.ScoreRecord{a, b}}
}

func TestKafkaScorePublisher(t *testing.T) {
	p := &recordingProducer{}
	pub := NewKafkaScorePublisher(p, "scores")

	require.NoError(t, pub.PublishScores(context.Background(), testBatch()))
	assert.Equal(t, "scores", p.topic)
	require.Len(t, p.msgs, 2)
	assert.Equal(t, "binance:ETHUSDT", string(p.msgs[1].Key))
	assert.Equal(t, "run-7", p.msgs[0].Headers[pkgkafka.HeaderRunID])
	assert.Equal(t, "1714521600000", p.msgs[0].Headers[HeaderBatchTS])
	rec, ok := p.msgs[0].Value.(models.ScoreRecord)
	require.True(t, ok)
	assert.Equal(t, "run-7", rec.RunID)

	require.NoError(t, pub.PublishScores(context.Background(), models.ScoreBatch{}))
	assert.Len(t, p.msgs, 2)
}

func TestStoreScorePublisher(t *testing.T) {
	store := &recordingScoreStore{}
	pub := NewStoreScorePublisher(store)
	require.NoError(t, pub.PublishScores(context.Background(), testBatch()))
	require.Len(t, store.saved, 2)
	assert.Equal(t, "run-7", store.saved[1].RunID)
}

func TestRedisUniverseStore(t *testing.T) {
	ctx := context.Background()
	store := NewRedisUniverseStore(cache.NewMemoryCache(), "universe")

	_, err := store.LoadUniverse(ctx)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	updated := time.Date(2024, 5, 1, 4, 0, 0, 0, time.FixedZone("GST", 4*3600))
	u := models.Universe{
		Assets:    []models.Asset{{BaseAsset: "BTC", Symbol: "BTCUSDT", SpotSymbol: "BTCUSDT", FuturesSymbol: "BTCUSDT", Rank: 1}},
		UpdatedAt: updated,
	}
	require.NoError(t, store.SaveUniverse(ctx, u))

	got, err := store.LoadUniverse(ctx)
	require.NoError(t, err)
	require.Len(t, got.Assets, 1)
	assert.Equal(t, "BTCUSDT", got.Assets[0].TradingSymbol())
	assert.True(t, got.UpdatedAt.Equal(t0))
}
