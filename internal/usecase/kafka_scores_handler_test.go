package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FactorPulse/internal/domain/models"
	pkgkafka "FactorPulse/pkg/kafka"
)

func TestKafkaScoresHandler(t *testing.T) {
	rec := scored("BTCUSDT", 0.35)
	rec.OutlierType = ""
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	t.Run("stores record with run id from headers", func(t *testing.T) {
		store := &memStore{}
		m := &nopMetrics{}
		h := NewKafkaScoresHandler("scores", store, m)
		assert.Equal(t, "scores", h.Topic())

		msg := kafka.Message{Headers: []kafka.Header{{Key: pkgkafka.HeaderRunID, Value: []byte("run-7")}}}
		ctx, _, err := pkgkafka.RunIDHook().BeforeHandle(context.Background(), msg)
		require.NoError(t, err)

		require.NoError(t, h.Handle(ctx, payload))
		require.Len(t, store.scores, 1)
		got := store.scores[0]
		assert.Equal(t, "run-7", got.RunID)
		assert.Equal(t, models.OutlierNone, got.OutlierType)
		assert.True(t, t0.Equal(got.Timestamp))
		require.NotNil(t, got.CompositeScore)
		assert.InDelta(t, 0.35, *got.CompositeScore, 1e-12)
		assert.Equal(t, 1, m.sent)
	})

	t.Run("redelivery upserts", func(t *testing.T) {
		store := &memStore{}
		h := NewKafkaScoresHandler("scores", store, &nopMetrics{})
		require.NoError(t, h.Handle(context.Background(), payload))
		require.NoError(t, h.Handle(context.Background(), payload))
		assert.Len(t, store.scores, 1)
	})

	t.Run("malformed payload", func(t *testing.T) {
		m := &nopMetrics{}
		h := NewKafkaScoresHandler("scores", &memStore{}, m)
		require.Error(t, h.Handle(context.Background(), []byte("{not json")))
		assert.Equal(t, []string{"consumer_unmarshal"}, m.errors)
	})

	t.Run("missing symbol", func(t *testing.T) {
		m := &nopMetrics{}
		h := NewKafkaScoresHandler("scores", &memStore{}, m)
		require.Error(t, h.Handle(context.Background(), []byte(`{"timestamp":"2025-03-01T12:00:00Z"}`)))
		assert.Equal(t, []string{"consumer_invalid"}, m.errors)
	})
}
