//go:build wireinject
// +build wireinject

package di

import (
	"FactorPulse/pkg/config"
	"FactorPulse/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideRedisCache,
	ProvideAPICache,
	ProvideLocker,
	ProvideStorage,
)

var marketSet = wire.NewSet(
	ProvideMarkPriceBook,
	ProvideMarkPriceCollector,
	ProvideMarketData,
	ProvideUniverseStore,
	ProvideUniverseBuilder,
)

var scoringSet = wire.NewSet(
	ProvideCalculator,
	ProvideFactorEngine,
	ProvideOutlierDetector,
	ProvideScorePublisher,
	ProvideScoreProcessor,
	ProvideSummaryGenerator,
	ProvidePipeline,
	ProvideScheduler,
)

var notifySet = wire.NewSet(
	ProvideQueue,
	ProvideJobPublisher,
	ProvideTelegram,
	ProvideNotifier,
	ProvideDigestPublisher,
)

var apiSet = wire.NewSet(
	ProvideQueries,
	ProvideRateLimiter,
	ProvideScoresHandler,
	ProvideHTTPServer,
)

var kafkaSet = wire.NewSet(
	ProvideKafkaConsumer,
	ProvideKafkaScoresHandler,
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup func releases shared clients and must run after App.Close.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		marketSet,
		scoringSet,
		notifySet,
		apiSet,
		kafkaSet,
		ProvideApp,
	)
	return nil, nil, nil
}
