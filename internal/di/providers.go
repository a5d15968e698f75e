package di

import (
	"context"
	"fmt"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/repository"
	"Treasury/internal/domain/service"
	"Treasury/internal/handler/api"
	internalrepo "Treasury/internal/repository"
	"Treasury/internal/service/ratelimit"
	"Treasury/internal/services/advisory"
	"Treasury/internal/services/allocation"
	"Treasury/internal/services/marketdata"
	"Treasury/internal/services/trigger"
	"Treasury/internal/usecase"
	"Treasury/pkg/cache"
	pkgch "Treasury/pkg/clickhouse"
	"Treasury/pkg/config"
	xhttp "Treasury/pkg/http"
	pkgkafka "Treasury/pkg/kafka"
	"Treasury/pkg/logger"
	"Treasury/pkg/metrics"
	"Treasury/pkg/server"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the service logger. With log.collector on and Kafka
// available, repeated warnings and errors are batched onto the alerts topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stdout"})
	if err != nil {
		return nil, err
	}
	if cfg.Log.Collector && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval: cfg.Log.FlushEvery,
			Levels:       []string{"warn", "error"},
			Topic:        cfg.Kafka.AlertsTopic,
			Publisher:    producer,
		})
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideClickHouseClient connects only when something is stored in ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Journal.Backend != "clickhouse" && len(cfg.Positions) > 0 {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := append(append([]string{}, internalrepo.JournalSchema...), internalrepo.PositionSchema...)
	if err := client.InitSchema(ctx, schema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func ProvideCacheStore(cfg *config.Config) (cache.Store, error) {
	c := cfg.Cache
	mem := []cache.MemoryOption{
		cache.WithMemoryMaxSize(c.MemoryCapacity),
		cache.WithMemoryCleanup(c.MemoryCleanup),
	}
	if c.Backend == "memory" {
		return cache.NewMemoryStore(mem...), nil
	}

	rs, err := cache.NewRedisStore(
		cache.WithRedisAddr(c.Redis.Addr),
		cache.WithRedisPassword(c.Redis.Password),
		cache.WithRedisDB(c.Redis.DB),
		cache.WithRedisPrefix(c.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if c.Backend == "layered" {
		return cache.NewLayeredStore(rs, mem...), nil
	}
	return rs, nil
}

func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideFinnhubStream returns nil unless the Finnhub stream is enabled.
func ProvideFinnhubStream(cfg *config.Config, l *logger.Logger) *marketdata.FinnhubPriceStream {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	symbols := make(map[models.Asset]string, len(cfg.Finnhub.Symbols))
	for a, s := range cfg.Finnhub.Symbols {
		symbols[models.Asset(a)] = s
	}
	return marketdata.NewFinnhubPriceStream(marketdata.FinnhubConfig{
		APIKey:         cfg.Finnhub.APIKey,
		WebSocketURL:   cfg.Finnhub.WebSocketURL,
		Symbols:        symbols,
		ReconnectDelay: cfg.Finnhub.ReconnectDelay,
		PingInterval:   cfg.Finnhub.PingInterval,
		MaxAge:         cfg.Finnhub.MaxAge,
	}, l)
}

// ProvideMarketSources builds the REST adapters. With the stream enabled,
// prices come from it first and CoinGecko second.
func ProvideMarketSources(cfg *config.Config, limiter *ratelimit.Limiter, stream *marketdata.FinnhubPriceStream, l *logger.Logger) usecase.MarketSources {
	s := cfg.Sources
	var prices repository.PriceSource = marketdata.NewCoinGeckoPriceSource(s.Prices, limiter, l)
	if stream != nil {
		prices = marketdata.NewFallbackPriceSource(l, stream, prices)
	}
	return usecase.MarketSources{
		Prices:    prices,
		Ratio:     marketdata.NewGlassnodeRatioSource(s.Ratio, limiter, l),
		Sentiment: marketdata.NewFearGreedSource(s.Sentiment, limiter, l),
		Funding:   marketdata.NewCoinglassFundingSource(s.Funding, limiter, l),
	}
}

func ProvideMarketAggregator(sources usecase.MarketSources, store cache.Store, m repository.Metrics, cfg *config.Config, l *logger.Logger) *usecase.MarketAggregator {
	mc := marketdata.NewCache(store, l, m)
	return usecase.NewMarketAggregator(sources, mc, cfg.Sources, l)
}

func ProvideAdvisoryReviewer(cfg *config.Config) service.AdvisoryReviewer {
	a := cfg.Advisory
	if a.Provider == "anthropic" {
		return advisory.NewLLMReviewer(advisory.LLMConfig{
			APIKey:      a.Anthropic.APIKey,
			Model:       a.Anthropic.Model,
			MaxTokens:   a.Anthropic.MaxTokens,
			Temperature: a.Anthropic.Temperature,
		})
	}
	return advisory.NewHTTPReviewer(a.URL, a.Timeout)
}

func ProvideAdvisoryGate(reviewer service.AdvisoryReviewer, cfg *config.Config, l *logger.Logger, m repository.Metrics) *advisory.Gate {
	return advisory.NewGate(reviewer, cfg.Advisory.Timeout, l, m)
}

// ProvidePositionStore uses the configured seeds, or the ClickHouse
// positions table when none are given.
func ProvidePositionStore(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) (repository.PositionStore, error) {
	if len(cfg.Positions) > 0 {
		return internalrepo.NewStaticPositionStoreFromConfig(cfg.Positions)
	}
	if ch == nil {
		return nil, fmt.Errorf("positions: no seeds configured and no clickhouse client")
	}
	return internalrepo.NewCHPositionStore(ch, l), nil
}

func ProvideJournal(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer, l *logger.Logger) repository.JournalStore {
	var store repository.JournalStore
	if cfg.Journal.Backend == "clickhouse" && ch != nil {
		store = internalrepo.NewCHJournalStore(ch, l)
	} else {
		store = internalrepo.NewMemoryJournal()
	}
	if cfg.Journal.Publish && producer != nil {
		pub := internalrepo.NewKafkaJournalPublisher(producer, cfg.Kafka.JournalTopic)
		store = internalrepo.NewPublishingJournal(store, pub, l)
	}
	return store
}

func ProvideEngine(
	agg *usecase.MarketAggregator,
	gate *advisory.Gate,
	positions repository.PositionStore,
	journal repository.JournalStore,
	store cache.Store,
	m repository.Metrics,
	cfg *config.Config,
	l *logger.Logger,
) *usecase.Engine {
	return usecase.NewEngine(
		agg,
		allocation.NewClassifier(cfg.Thresholds),
		allocation.NewGenerator(cfg.Thresholds),
		trigger.New(cfg.Thresholds, cfg.Engine),
		gate,
		positions,
		journal,
		store,
		m,
		cfg,
		l,
	)
}

func ProvideHandlers(l *logger.Logger, engine *usecase.Engine) []xhttp.Handler {
	return []xhttp.Handler{api.NewTreasuryHandler(l, engine)}
}

// ProvideApp assembles the server and registers what it must close on exit.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	engine *usecase.Engine,
	handlers []xhttp.Handler,
	stream *marketdata.FinnhubPriceStream,
	store cache.Store,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
) *server.App {
	app := server.New(cfg, l, engine, handlers, stream)
	if producer != nil {
		app.AddCloser("kafka", producer)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	app.AddCloser("cache", store)
	app.AddCloser("log collector", closerFunc(func() error {
		l.RemoveCollector()
		return nil
	}))
	return app
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
