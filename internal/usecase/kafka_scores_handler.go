package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	pkgkafka "FactorPulse/pkg/kafka"
)

// KafkaScoresHandler consumes score records from Kafka and upserts them.
type KafkaScoresHandler struct {
	topic   string
	store   domrepo.ScoreStore
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaScoresHandler)(nil)

func NewKafkaScoresHandler(topic string, store domrepo.ScoreStore, metrics domrepo.Metrics) *KafkaScoresHandler {
	return &KafkaScoresHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaScoresHandler) Topic() string { return h.topic }

// Handle decodes one ScoreRecord. Malformed payloads are returned as errors
// so the consumer routes them to the DLQ after its retries.
func (h *KafkaScoresHandler) Handle(ctx context.Context, b []byte) error {
	var r models.ScoreRecord
	if err := json.Unmarshal(b, &r); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode score: %w", err)
	}
	if r.Symbol == "" || r.Timestamp.IsZero() {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("decode score: missing symbol or timestamp")
	}
	if r.RunID == "" {
		r.RunID = pkgkafka.RunIDFrom(ctx)
	}
	if r.OutlierType == "" {
		r.OutlierType = models.OutlierNone
	}

	// batch to consumer lag
	h.metrics.RecordLatency("score_ingest_lag_seconds", time.Since(r.Timestamp).Seconds())

	start := time.Now()
	err := h.store.SaveScores(ctx, []models.ScoreRecord{r})
	h.metrics.RecordLatency("score_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordMessageSent("store", r.Symbol)
	return nil
}
