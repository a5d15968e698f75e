package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"Treasury/internal/domain/models"
	domrepo "Treasury/internal/domain/repository"
	"Treasury/internal/services/marketdata"
	"Treasury/pkg/config"
	"Treasury/pkg/logger"

	"github.com/shopspring/decimal"
)

// maxSourceTimeout caps every per-source fetch regardless of configuration.
const maxSourceTimeout = 5 * time.Second

var errSourceDisabled = errors.New("source disabled")

// MarketSources groups the adapters the aggregator fans out to. A nil source
// is treated as permanently unavailable.
type MarketSources struct {
	Prices    domrepo.PriceSource
	Ratio     domrepo.RatioSource
	Sentiment domrepo.SentimentSource
	Funding   domrepo.FundingSource
}

// MarketAggregator assembles one MarketSnapshot per call from cache-backed
// concurrent source reads. It never fails: missing data shows up as absent
// fields and in the snapshot's provenance.
type MarketAggregator struct {
	sources       MarketSources
	cache         *marketdata.Cache
	cfg           config.SourcesConfig
	assets        []models.Asset
	defaultPrices map[models.Asset]decimal.Decimal
	now           func() time.Time
	log           *logger.Logger
}

func NewMarketAggregator(sources MarketSources, c *marketdata.Cache, cfg config.SourcesConfig, l *logger.Logger) *MarketAggregator {
	assets := make([]models.Asset, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets = append(assets, models.Asset(a))
	}
	defaults := make(map[models.Asset]decimal.Decimal, len(cfg.DefaultPrices))
	for a, p := range cfg.DefaultPrices {
		defaults[models.Asset(a)] = decimal.NewFromFloat(p)
	}
	return &MarketAggregator{
		sources:       sources,
		cache:         c,
		cfg:           cfg,
		assets:        assets,
		defaultPrices: defaults,
		now:           time.Now,
		log:           l.With(logger.String("component", "market_aggregator")),
	}
}

type fieldResult struct {
	name  string
	apply func(*models.MarketSnapshot)
	prov  models.Provenance
}

func (a *MarketAggregator) Aggregate(ctx context.Context) models.MarketSnapshot {
	snap := models.MarketSnapshot{
		Timestamp:  a.now(),
		Provenance: make(map[string]models.Provenance, 4),
	}

	ch := make(chan fieldResult, 4)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r := marketdata.Fetch(ctx, a.cache, marketdata.FetchSpec[map[models.Asset]decimal.Decimal]{
			Key:     models.SourcePrices,
			TTL:     a.cfg.Prices.TTL,
			Timeout: sourceTimeout(a.cfg.Prices),
			Fetch: func(ctx context.Context) (map[models.Asset]decimal.Decimal, error) {
				if a.sources.Prices == nil || !a.cfg.Prices.Enabled {
					return nil, models.SourceUnavailable(models.SourcePrices, errSourceDisabled)
				}
				return a.sources.Prices.FetchPrices(ctx, a.assets)
			},
			Default: a.priceDefault(),
		})
		ch <- fieldResult{models.SourcePrices, func(s *models.MarketSnapshot) {
			if r.Present() {
				s.Prices = r.Value
			}
		}, r.Provenance()}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r := marketdata.Fetch(ctx, a.cache, marketdata.FetchSpec[float64]{
			Key:     models.SourceRatio,
			TTL:     a.cfg.Ratio.TTL,
			Timeout: sourceTimeout(a.cfg.Ratio),
			Fetch: func(ctx context.Context) (float64, error) {
				if a.sources.Ratio == nil || !a.cfg.Ratio.Enabled {
					return 0, models.SourceUnavailable(models.SourceRatio, errSourceDisabled)
				}
				return a.sources.Ratio.FetchValuationRatio(ctx)
			},
		})
		ch <- fieldResult{models.SourceRatio, func(s *models.MarketSnapshot) {
			if r.Present() {
				s.ValuationRatio = models.Float64(r.Value)
			}
		}, r.Provenance()}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r := marketdata.Fetch(ctx, a.cache, marketdata.FetchSpec[int]{
			Key:     models.SourceSentiment,
			TTL:     a.cfg.Sentiment.TTL,
			Timeout: sourceTimeout(a.cfg.Sentiment),
			Fetch: func(ctx context.Context) (int, error) {
				if a.sources.Sentiment == nil || !a.cfg.Sentiment.Enabled {
					return 0, models.SourceUnavailable(models.SourceSentiment, errSourceDisabled)
				}
				return a.sources.Sentiment.FetchSentiment(ctx)
			},
		})
		ch <- fieldResult{models.SourceSentiment, func(s *models.MarketSnapshot) {
			if r.Present() {
				s.Sentiment = models.Int(r.Value)
			}
		}, r.Provenance()}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r := marketdata.Fetch(ctx, a.cache, marketdata.FetchSpec[map[models.Asset]float64]{
			Key:     models.SourceFunding,
			TTL:     a.cfg.Funding.TTL,
			Timeout: sourceTimeout(a.cfg.Funding),
			Fetch: func(ctx context.Context) (map[models.Asset]float64, error) {
				if a.sources.Funding == nil || !a.cfg.Funding.Enabled {
					return nil, models.SourceUnavailable(models.SourceFunding, errSourceDisabled)
				}
				return a.sources.Funding.FetchFundingRates(ctx, a.assets)
			},
		})
		ch <- fieldResult{models.SourceFunding, func(s *models.MarketSnapshot) {
			if r.Present() {
				s.FundingRates = r.Value
			}
		}, r.Provenance()}
	}()

	go func() { wg.Wait(); close(ch) }()

	for fr := range ch {
		fr.apply(&snap)
		snap.Provenance[fr.name] = fr.prov
	}

	untrusted := snap.Untrusted()
	snap.Degraded = untrusted*2 > len(snap.Provenance)
	if snap.Degraded {
		a.log.Warn("market snapshot degraded",
			logger.Int("untrusted_sources", untrusted),
			logger.Int("sources", len(snap.Provenance)),
		)
	}
	return snap
}

// priceDefault returns the configured fallback prices, or nil when any
// tracked asset has none.
func (a *MarketAggregator) priceDefault() *map[models.Asset]decimal.Decimal {
	m := make(map[models.Asset]decimal.Decimal, len(a.assets))
	for _, asset := range a.assets {
		p, ok := a.defaultPrices[asset]
		if !ok {
			return nil
		}
		m[asset] = p
	}
	return &m
}

func sourceTimeout(cfg config.SourceConfig) time.Duration {
	if cfg.Timeout <= 0 || cfg.Timeout > maxSourceTimeout {
		return maxSourceTimeout
	}
	return cfg.Timeout
}
