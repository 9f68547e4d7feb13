package di

import (
	"context"
	"fmt"
	"time"

	"FactorPulse/internal/domain/repository"
	"FactorPulse/internal/domain/service"
	"FactorPulse/internal/handler/api"
	internalrepo "FactorPulse/internal/repository"
	"FactorPulse/internal/service/binance"
	"FactorPulse/internal/service/ratelimit"
	"FactorPulse/internal/service/telegram"
	"FactorPulse/internal/services/factors"
	"FactorPulse/internal/usecase"
	"FactorPulse/pkg/cache"
	pkgch "FactorPulse/pkg/clickhouse"
	"FactorPulse/pkg/config"
	xhttp "FactorPulse/pkg/http"
	pkgkafka "FactorPulse/pkg/kafka"
	applogger "FactorPulse/pkg/logger"
	"FactorPulse/pkg/metrics"
	"FactorPulse/pkg/queue"
	"FactorPulse/pkg/server"
)

const storeQueryTimeout = 30 * time.Second

// ProvideLogger creates the root structured logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: time.RFC3339,
		Service:    "factorpulse",
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to Redis. The cleanup closes the client after
// the queue, locker and universe store are done with it.
func ProvideRedisCache(cfg *config.Config, l *applogger.Logger) (*cache.RedisCache, func(), error) {
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 5*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	cleanup := func() {
		if err := rc.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}
	return rc, cleanup, nil
}

// ProvideAPICache keeps hot query results in process in front of Redis.
func ProvideAPICache(rc *cache.RedisCache, cfg *config.Config) cache.Service {
	l1 := cfg.API.CacheTTL / 2
	if l1 > 5*time.Second {
		l1 = 5 * time.Second
	}
	return cache.NewLayeredCache(rc, l1, cache.WithMemoryMaxSize(1024))
}

// ProvideLocker guards scheduled runs across replicas.
func ProvideLocker(rc *cache.RedisCache) repository.Locker {
	return rc
}

// ProvideUniverseStore keeps the asset universe in Redis.
func ProvideUniverseStore(rc *cache.RedisCache, cfg *config.Config) repository.UniverseStore {
	return internalrepo.NewRedisUniverseStore(rc, cfg.Universe.Key)
}

// ProvideStorage opens the configured time series store.
func ProvideStorage(cfg *config.Config, l *applogger.Logger) (repository.Storage, error) {
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		db, err := internalrepo.OpenPostgres(context.Background(), internalrepo.PostgresConfig{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			QueryTimeout:    storeQueryTimeout,
		})
		if err != nil {
			return nil, err
		}
		store := internalrepo.NewPGStore(db, storeQueryTimeout)
		store.SetLogger(l.With(applogger.String("storage", config.StoragePostgres)))
		return store, nil
	default:
		client, err := pkgch.NewClient(context.Background(),
			pkgch.WithHost(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store := internalrepo.NewCHStore(client)
		store.SetLogger(l.With(applogger.String("storage", config.StorageClickHouse)))
		return store, nil
	}
}

// ProvideMarkPriceBook returns nil when the mark price stream is disabled.
func ProvideMarkPriceBook(cfg *config.Config) *binance.MarkPriceBook {
	if !cfg.Exchange.Stream.Enabled {
		return nil
	}
	return binance.NewMarkPriceBook(cfg.Exchange.Stream.MaxStaleness)
}

// ProvideMarkPriceCollector feeds book from the futures WebSocket.
func ProvideMarkPriceCollector(
	cfg *config.Config,
	book *binance.MarkPriceBook,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.MarkPriceCollector {
	if book == nil {
		return nil
	}
	sl := l.With(applogger.String("component", "mark_price_stream"))
	stream := binance.NewMarkPriceStream(
		cfg.Exchange.Stream.URL,
		cfg.Exchange.Stream.ReconnectDelay,
		cfg.Exchange.Stream.PingInterval,
		book,
		sl,
	)
	return usecase.NewMarkPriceCollector(stream, m, sl)
}

// ProvideMarketData creates the Binance REST client.
func ProvideMarketData(
	cfg *config.Config,
	book *binance.MarkPriceBook,
	m repository.Metrics,
	l *applogger.Logger,
) repository.MarketData {
	return binance.NewClient(binance.Config{
		SpotURL:            cfg.Exchange.SpotURL,
		FuturesURL:         cfg.Exchange.FuturesURL,
		APIKey:             cfg.Exchange.APIKey,
		RateLimitPerMinute: cfg.Exchange.RateLimitPerMinute,
		Timeout:            cfg.Exchange.Timeout,
		MaxRetries:         cfg.Exchange.MaxRetries,
		SymbolCacheTTL:     cfg.Exchange.SymbolCacheTTL,
		BreakerFailures:    cfg.Exchange.Breaker.ConsecutiveFailures,
		BreakerInterval:    cfg.Exchange.Breaker.Interval,
		BreakerTimeout:     cfg.Exchange.Breaker.Timeout,
	},
		binance.WithLogger(l.With(applogger.String("exchange", cfg.Exchange.Name))),
		binance.WithMetrics(m),
		binance.WithMarkPriceBook(book),
	)
}

// ProvideCalculator builds the factor calculator from weights and thresholds.
func ProvideCalculator(cfg *config.Config) *factors.Calculator {
	return factors.NewCalculator(
		factors.WithWeights(factors.Weights{
			Momentum:      cfg.FactorWeights.Momentum,
			MeanReversion: cfg.FactorWeights.MeanReversion,
			Carry:         cfg.FactorWeights.Carry,
			Volume:        cfg.FactorWeights.Volume,
		}),
		factors.WithThresholds(factors.Thresholds{
			OutlierZScore: cfg.Thresholds.OutlierZScore,
			TopN:          cfg.Thresholds.TopNOutliers,
			BottomN:       cfg.Thresholds.BottomNOutliers,
			MinDataPoints: cfg.Thresholds.MinDataPoints,
		}),
		factors.WithIQR(cfg.Thresholds.UseIQR, cfg.Thresholds.IQRMultiplier),
	)
}

func ProvideFactorEngine(c *factors.Calculator) service.FactorEngine { return c }

func ProvideOutlierDetector(c *factors.Calculator) service.OutlierDetector { return c }

// ProvideScorePublisher picks the score delivery path for backend.type.
func ProvideScorePublisher(cfg *config.Config, store repository.Storage) (repository.ScorePublisher, error) {
	if cfg.Backend.Type != config.BackendKafka {
		return internalrepo.NewStoreScorePublisher(store), nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaScorePublisher(producer, cfg.Kafka.Topic), nil
}

// ProvideScoreProcessor creates the score processor use case.
func ProvideScoreProcessor(pub repository.ScorePublisher, m repository.Metrics, cfg *config.Config) *usecase.ScoreProcessor {
	return usecase.NewScoreProcessor(pub, m, cfg.Backend.Type)
}

// ProvideUniverseBuilder creates the universe use case.
func ProvideUniverseBuilder(
	cfg *config.Config,
	market repository.MarketData,
	store repository.UniverseStore,
	l *applogger.Logger,
) *usecase.UniverseBuilder {
	maxAge := time.Duration(cfg.Universe.UpdateFrequencyHours) * time.Hour
	return usecase.NewUniverseBuilder(market, store, cfg.Exchange.Name, cfg.Universe.TopN, maxAge,
		l.With(applogger.String("component", "universe")))
}

// ProvideQueue creates the notification job queue on the shared Redis client.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) *queue.RedisQueue {
	return queue.NewRedisQueue(l.With(applogger.String("component", "queue")), rc.Client(), queue.Config{
		Workers:      cfg.Queue.Workers,
		MaxRetries:   cfg.Queue.MaxRetries,
		RetryDelay:   cfg.Queue.RetryDelay,
		PollInterval: cfg.Queue.PollInterval,
		KeyPrefix:    cfg.Queue.Name,
	})
}

func ProvideJobPublisher(q *queue.RedisQueue) queue.Publisher { return q }

// ProvideSummaryGenerator renders summaries in the report timezone.
func ProvideSummaryGenerator(cfg *config.Config) *usecase.SummaryGenerator {
	return usecase.NewSummaryGenerator(cfg.Report.Timezone)
}

// ProvidePipeline creates the hourly pipeline use case.
func ProvidePipeline(
	cfg *config.Config,
	universe *usecase.UniverseBuilder,
	market repository.MarketData,
	store repository.Storage,
	engine service.FactorEngine,
	detector service.OutlierDetector,
	scores *usecase.ScoreProcessor,
	summaries *usecase.SummaryGenerator,
	jobs queue.Publisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(
		usecase.PipelineConfig{
			Exchange:         cfg.Exchange.Name,
			Interval:         repository.Timeframe(cfg.Pipeline.CandleInterval),
			Lookback:         cfg.Pipeline.CandleLookback,
			Concurrency:      cfg.Pipeline.Concurrency,
			BTCBaseAsset:     cfg.Pipeline.BTCBaseAsset,
			OutlierLimit:     cfg.Report.OutlierLimit,
			DataRetention:    time.Duration(cfg.Storage.DataRetentionDays) * 24 * time.Hour,
			SummaryRetention: time.Duration(cfg.Storage.SummaryRetentionDays) * 24 * time.Hour,
			Notify:           cfg.TelegramConfigured(),
		},
		universe, market, store, engine, detector, scores, summaries, jobs, m,
		l.With(applogger.String("component", "pipeline")),
	)
}

// ProvideQueries creates the cached read side.
func ProvideQueries(
	cfg *config.Config,
	store repository.Storage,
	universe repository.UniverseStore,
	c cache.Service,
) *usecase.QueryUseCase {
	return usecase.NewQueryUseCase(store, universe, c, cfg.API.CacheTTL, cfg.Digest())
}

// ProvideScheduler creates the hourly scheduler. Successful runs drop the
// API cache.
func ProvideScheduler(
	cfg *config.Config,
	pipeline *usecase.Pipeline,
	locker repository.Locker,
	queries *usecase.QueryUseCase,
	l *applogger.Logger,
) *usecase.Scheduler {
	return usecase.NewScheduler(usecase.SchedulerConfig{
		Every:      cfg.Pipeline.Frequency,
		AlignToRun: cfg.Pipeline.AlignToHour,
		RunOnStart: cfg.Pipeline.RunOnStart,
		LockKey:    cfg.Pipeline.LockKey,
		RunTimeout: cfg.Pipeline.RunTimeout,
	}, pipeline, locker, queries, l.With(applogger.String("component", "scheduler")))
}

// ProvideTelegram creates the bot client. An unconfigured client is still
// returned so test-telegram can explain what is missing.
func ProvideTelegram(cfg *config.Config, l *applogger.Logger) *telegram.Client {
	return telegram.NewClient(telegram.Config{
		Enabled:  cfg.Telegram.Enabled,
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
		APIURL:   cfg.Telegram.APIURL,
		Timeout:  cfg.Telegram.Timeout,
	}, telegram.WithLogger(l.With(applogger.String("component", "telegram"))))
}

func ProvideNotifier(tg *telegram.Client, m repository.Metrics, l *applogger.Logger) *usecase.Notifier {
	return usecase.NewNotifier(tg, m, l.With(applogger.String("component", "notifier")))
}

// ProvideDigestPublisher routes log digests through the notification queue.
func ProvideDigestPublisher(jobs queue.Publisher) applogger.Publisher {
	return usecase.NewDigestPublisher(jobs)
}

// ProvideRateLimiter returns nil when per-client limits are disabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if cfg.API.RateLimit <= 0 {
		return nil
	}
	return ratelimit.New(cfg.API.RateLimit, cfg.API.Burst)
}

func ProvideScoresHandler(q *usecase.QueryUseCase, rl *ratelimit.Limiter, l *applogger.Logger) *api.ScoresEchoHandler {
	return api.NewScoresEchoHandler(l.With(applogger.String("component", "api")), q, rl)
}

// ProvideHTTPServer creates the Echo server for the read API.
func ProvideHTTPServer(cfg *config.Config, h *api.ScoresEchoHandler, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer([]xhttp.Handler{h}, opts...)
}

// ProvideKafkaConsumer returns nil unless scores travel through Kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Backend.Type != config.BackendKafka {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l.With(applogger.String("component", "kafka_consumer")),
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaScoresHandler persists consumed score records.
func ProvideKafkaScoresHandler(cfg *config.Config, store repository.Storage, m repository.Metrics) pkgkafka.MessageHandler {
	if cfg.Backend.Type != config.BackendKafka {
		return nil
	}
	return usecase.NewKafkaScoresHandler(cfg.Kafka.Topic, store, m)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	store repository.Storage,
	pipeline *usecase.Pipeline,
	universe *usecase.UniverseBuilder,
	scheduler *usecase.Scheduler,
	queries *usecase.QueryUseCase,
	scores *usecase.ScoreProcessor,
	httpServer *xhttp.Server,
	jobs *queue.RedisQueue,
	notifier *usecase.Notifier,
	digests applogger.Publisher,
	tg *telegram.Client,
	consumer *pkgkafka.Consumer,
	scoresTopic pkgkafka.MessageHandler,
	marks *usecase.MarkPriceCollector,
) *server.App {
	return server.New(cfg, server.Components{
		Logger:      l,
		Store:       store,
		Pipeline:    pipeline,
		Universe:    universe,
		Scheduler:   scheduler,
		Queries:     queries,
		Scores:      scores,
		HTTPServer:  httpServer,
		Queue:       jobs,
		Notifier:    notifier,
		Digests:     digests,
		Telegram:    tg,
		Consumer:    consumer,
		ScoresTopic: scoresTopic,
		MarkPrices:  marks,
	})
}
