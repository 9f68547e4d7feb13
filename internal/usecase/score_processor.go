package usecase

import (
	"context"
	"fmt"
	"time"

	"FactorPulse/internal/domain/models"
	drepo "FactorPulse/internal/domain/repository"
)

// ScoreProcessor hands scored batches to the configured delivery backend.
type ScoreProcessor struct {
	pub     drepo.ScorePublisher
	metrics drepo.Metrics
	backend string
}

// NewScoreProcessor creates a new ScoreProcessor instance. backend only
// labels metrics; the publisher decides where records go.
func NewScoreProcessor(pub drepo.ScorePublisher, metrics drepo.Metrics, backend string) *ScoreProcessor {
	return &ScoreProcessor{pub: pub, metrics: metrics, backend: backend}
}

// Process delivers one batch. Records without a run id inherit the batch's.
func (p *ScoreProcessor) Process(ctx context.Context, batch models.ScoreBatch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	if p.pub == nil {
		return fmt.Errorf("no publisher for backend: %s", p.backend)
	}

	start := time.Now()
	if err := p.pub.PublishScores(ctx, batch); err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, r := range batch.Records {
		p.metrics.RecordMessageSent(p.backend, r.Symbol)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (p *ScoreProcessor) Close() error {
	if p.pub != nil {
		return p.pub.Close()
	}
	return nil
}
