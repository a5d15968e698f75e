//go:build wireinject
// +build wireinject

package di

import (
	"Treasury/pkg/config"
	"Treasury/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideClickHouseClient,
		ProvideCacheStore,
		ProvideMetrics,
		ProvideRateLimiter,

		// Market data
		ProvideFinnhubStream,
		ProvideMarketSources,
		ProvideMarketAggregator,

		// Advisory
		ProvideAdvisoryReviewer,
		ProvideAdvisoryGate,

		// Repositories
		ProvidePositionStore,
		ProvideJournal,

		// Use cases and transport
		ProvideEngine,
		ProvideHandlers,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
