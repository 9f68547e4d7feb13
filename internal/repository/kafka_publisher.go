package repository

import (
	"context"
	"fmt"
	"strconv"

	"FactorPulse/internal/domain/models"
	domrepo "FactorPulse/internal/domain/repository"
	pkgkafka "FactorPulse/pkg/kafka"
)

// HeaderBatchTS carries the batch timestamp in unix milliseconds.
const HeaderBatchTS = "batch_ts"

type batchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaScorePublisher publishes one message per score record, keyed by
// symbol so a symbol's history stays ordered within its partition.
type KafkaScorePublisher struct {
	producer batchProducer
	topic    string
}

var _ domrepo.ScorePublisher = (*KafkaScorePublisher)(nil)

func NewKafkaScorePublisher(producer batchProducer, topic string) *KafkaScorePublisher {
	return &KafkaScorePublisher{producer: producer, topic: topic}
}

func (p *KafkaScorePublisher) PublishScores(ctx context.Context, batch models.ScoreBatch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	headers := map[string]string{
		pkgkafka.HeaderSource: "pipeline",
		HeaderBatchTS:         strconv.FormatInt(batch.Timestamp.UnixMilli(), 10),
	}
	if batch.RunID != "" {
		headers[pkgkafka.HeaderRunID] = batch.RunID
	}

	msgs := make([]pkgkafka.Message, 0, len(batch.Records))
	for _, r := range batch.Records {
		if r.RunID == "" {
			r.RunID = batch.RunID
		}
		msgs = append(msgs, pkgkafka.Message{
			Key:     []byte(r.Exchange + ":" + r.Symbol),
			Value:   r,
			Headers: headers,
		})
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return fmt.Errorf("publish %d scores: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaScorePublisher) Close() error {
	return p.producer.Close()
}

// StoreScorePublisher delivers batches straight to the score store.
type StoreScorePublisher struct {
	store domrepo.ScoreStore
}

var _ domrepo.ScorePublisher = (*StoreScorePublisher)(nil)

func NewStoreScorePublisher(store domrepo.ScoreStore) *StoreScorePublisher {
	return &StoreScorePublisher{store: store}
}

func (p *StoreScorePublisher) PublishScores(ctx context.Context, batch models.ScoreBatch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	records := make([]models.ScoreRecord, len(batch.Records))
	for i, r := range batch.Records {
		if r.RunID == "" {
			r.RunID = batch.RunID
		}
		records[i] = r
	}
	return p.store.SaveScores(ctx, records)
}

func (p *StoreScorePublisher) Close() error { return nil }
