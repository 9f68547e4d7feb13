package usecase

import (
	"context"
	"errors"
	"sync"

	drepo "FactorPulse/internal/domain/repository"
	applogger "FactorPulse/pkg/logger"
)

// MarkStream is a reconnecting market stream.
type MarkStream interface {
	Run(ctx context.Context) error
	IsConnected() bool
	Close() error
}

// MarkPriceCollector keeps the futures mark price stream running so the
// pipeline can read fresh mark, index and funding values.
type MarkPriceCollector struct {
	stream  MarkStream
	metrics drepo.Metrics
	l       *applogger.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMarkPriceCollector creates a new MarkPriceCollector instance.
func NewMarkPriceCollector(stream MarkStream, metrics drepo.Metrics, l *applogger.Logger) *MarkPriceCollector {
	if l == nil {
		l = applogger.NewNop()
	}
	return &MarkPriceCollector{stream: stream, metrics: metrics, l: l}
}

// IsConnected returns true if the market stream is connected.
func (c *MarkPriceCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *MarkPriceCollector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.stream.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.metrics.RecordError("stream")
			c.l.Error("mark price stream stopped", applogger.Error(err))
		}
	}()
}

// Shutdown stops the stream and waits for the reader to exit.
func (c *MarkPriceCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
