package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/pkg/config"

	"github.com/shopspring/decimal"
)

var errFeedDown = errors.New("feed down")

type fakePrices struct {
	prices map[models.Asset]decimal.Decimal
	err    error
	delay  time.Duration
}

func (f *fakePrices) Name() string { return "fake-prices" }

func (f *fakePrices) FetchPrices(ctx context.Context, _ []models.Asset) (map[models.Asset]decimal.Decimal, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.prices, f.err
}

type fakeRatio struct {
	mu    sync.Mutex
	value float64
	err   error
}

func (f *fakeRatio) Name() string { return "fake-ratio" }

func (f *fakeRatio) FetchValuationRatio(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

func (f *fakeRatio) set(v float64) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

type fakeSentiment struct {
	value int
	err   error
}

func (f *fakeSentiment) Name() string { return "fake-sentiment" }

func (f *fakeSentiment) FetchSentiment(context.Context) (int, error) { return f.value, f.err }

type fakeFunding struct {
	rates map[models.Asset]float64
	err   error
}

func (f *fakeFunding) Name() string { return "fake-funding" }

func (f *fakeFunding) FetchFundingRates(context.Context, []models.Asset) (map[models.Asset]float64, error) {
	return f.rates, f.err
}

func testSourcesConfig() config.SourcesConfig {
	src := config.SourceConfig{Enabled: true, Timeout: 200 * time.Millisecond, TTL: time.Nanosecond}
	return config.SourcesConfig{
		Assets:        []string{"BTC", "ETH"},
		DefaultPrices: map[string]float64{"BTC": 98000, "ETH": 3800},
		Prices:        src,
		Ratio:         src,
		Sentiment:     src,
		Funding:       src,
	}
}

func healthySources(ratio float64) (MarketSources, *fakeRatio) {
	r := &fakeRatio{value: ratio}
	return MarketSources{
		Prices: &fakePrices{prices: map[models.Asset]decimal.Decimal{
			models.AssetBTC: decimal.NewFromInt(98000),
			models.AssetETH: decimal.NewFromInt(3800),
		}},
		Ratio:     r,
		Sentiment: &fakeSentiment{value: 50},
		Funding:   &fakeFunding{rates: map[models.Asset]float64{models.AssetBTC: 0.01, models.AssetETH: 0.01}},
	}, r
}

func failingSources() MarketSources {
	return MarketSources{
		Prices:    &fakePrices{err: errFeedDown},
		Ratio:     &fakeRatio{err: errFeedDown},
		Sentiment: &fakeSentiment{err: errFeedDown},
		Funding:   &fakeFunding{err: errFeedDown},
	}
}
