package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FactorPulse/internal/domain/models"
	"FactorPulse/internal/domain/repository"
	"FactorPulse/internal/service/telegram"
	"FactorPulse/internal/usecase"
	"FactorPulse/pkg/config"
	xhttp "FactorPulse/pkg/http"
	pkgkafka "FactorPulse/pkg/kafka"
	applogger "FactorPulse/pkg/logger"
	"FactorPulse/pkg/queue"
)

// Components are the wired parts the App drives. Optional parts are nil
// when their feature is disabled in config.
type Components struct {
	Logger      *applogger.Logger
	Store       repository.Storage
	Pipeline    *usecase.Pipeline
	Universe    *usecase.UniverseBuilder
	Scheduler   *usecase.Scheduler
	Queries     *usecase.QueryUseCase
	Scores      *usecase.ScoreProcessor
	HTTPServer  *xhttp.Server
	Queue       *queue.RedisQueue
	Notifier    *usecase.Notifier
	Digests     applogger.Publisher
	Telegram    *telegram.Client
	Consumer    *pkgkafka.Consumer
	ScoresTopic pkgkafka.MessageHandler
	MarkPrices  *usecase.MarkPriceCollector
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	c   Components
	l   *applogger.Logger
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, c Components) *App {
	l := c.Logger
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{cfg: cfg, c: c, l: l}
}

// Serve starts every long-running component and blocks until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Logging.Collector.Enabled && a.cfg.TelegramConfigured() && a.c.Digests != nil {
		a.l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   a.cfg.Logging.Collector.Interval,
			CountThreshold: a.cfg.Logging.Collector.CountThreshold,
			Publisher:      a.c.Digests,
		})
		defer a.l.RemoveCollector()
	}

	if err := a.initStorage(ctx); err != nil {
		return err
	}

	if a.c.Queue != nil && a.c.Notifier != nil {
		for _, job := range a.c.Notifier.Jobs() {
			a.c.Queue.RegisterJob(job)
		}
		if err := a.c.Queue.Start(ctx); err != nil {
			return fmt.Errorf("start notification queue: %w", err)
		}
	}

	if a.c.Consumer != nil && a.c.ScoresTopic != nil {
		a.c.Consumer.WithConsumerHook(pkgkafka.RunIDHook())
		a.c.Consumer.RegisterHandler(a.c.ScoresTopic)
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.c.ScoresTopic.Topic()))
	}

	if a.c.MarkPrices != nil {
		a.c.MarkPrices.Start(ctx)
		a.l.Info("mark price stream started")
	}

	if a.c.Scheduler != nil {
		a.c.Scheduler.Start(ctx)
		a.l.Info("scheduler started",
			applogger.Duration("every", a.cfg.Pipeline.Frequency),
			applogger.Bool("align_to_hour", a.cfg.Pipeline.AlignToHour),
		)
	}

	if a.c.HTTPServer != nil {
		if err := a.c.HTTPServer.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// RunHourly executes a single pipeline run and refreshes the API cache.
func (a *App) RunHourly(ctx context.Context) (*usecase.RunResult, error) {
	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	res, err := a.c.Pipeline.RunHourly(ctx)
	if err != nil {
		return res, err
	}
	if a.c.Queries != nil {
		if err := a.c.Queries.Invalidate(ctx); err != nil {
			a.l.Warn("cache invalidation failed", applogger.Error(err))
		}
	}
	return res, nil
}

// UpdateUniverse rebuilds the universe regardless of its age.
func (a *App) UpdateUniverse(ctx context.Context) (*models.Universe, error) {
	return a.c.Universe.Build(ctx)
}

// TestTelegram checks the bot token and the configured chat.
func (a *App) TestTelegram(ctx context.Context) (*telegram.ConnectionReport, error) {
	if a.c.Telegram == nil {
		return nil, telegram.ErrNotConfigured
	}
	return a.c.Telegram.TestConnection(ctx)
}

func (a *App) initStorage(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.c.Store.Init(initCtx); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	return nil
}

// shutdown stops components in reverse start order.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.c.HTTPServer != nil {
		if err := a.c.HTTPServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.c.Scheduler != nil {
		a.c.Scheduler.Wait()
	}
	if a.c.MarkPrices != nil {
		if err := a.c.MarkPrices.Shutdown(ctx); err != nil {
			a.l.Warn("mark price stream stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if a.c.Queue != nil {
		if err := a.c.Queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

// Close releases the score publisher and storage. Shared clients are
// released by the injector cleanup.
func (a *App) Close() error {
	var errs []error
	if a.c.Scores != nil {
		if err := a.c.Scores.Close(); err != nil {
			errs = append(errs, fmt.Errorf("score publisher: %w", err))
		}
	}
	if a.c.Store != nil {
		if err := a.c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
