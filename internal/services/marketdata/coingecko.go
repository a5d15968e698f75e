package marketdata

import (
	"context"
	"fmt"
	"strings"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/repository"
	"Treasury/internal/service/ratelimit"
	"Treasury/pkg/config"
	"Treasury/pkg/logger"

	"github.com/shopspring/decimal"
)

const coinGeckoURL = "https://api.coingecko.com/api/v3"

var coinGeckoIDs = map[models.Asset]string{
	models.AssetBTC: "bitcoin",
	models.AssetETH: "ethereum",
}

// CoinGeckoPriceSource reads spot USD prices from /simple/price.
type CoinGeckoPriceSource struct {
	*HTTPSourceBase
}

var _ repository.PriceSource = (*CoinGeckoPriceSource)(nil)

func NewCoinGeckoPriceSource(cfg config.SourceConfig, limiter *ratelimit.Limiter, l *logger.Logger) *CoinGeckoPriceSource {
	return &CoinGeckoPriceSource{NewHTTPSourceBase("coingecko", coinGeckoURL, cfg, limiter, l)}
}

// FetchPrices fails unless every requested asset is quoted.
func (s *CoinGeckoPriceSource) FetchPrices(ctx context.Context, assets []models.Asset) (map[models.Asset]decimal.Decimal, error) {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		id, ok := coinGeckoIDs[a]
		if !ok {
			return nil, models.SourceUnavailable(s.Name(), fmt.Errorf("unsupported asset %s", a))
		}
		ids = append(ids, id)
	}

	var resp map[string]map[string]decimal.Decimal
	query := map[string][]string{
		"ids":           {strings.Join(ids, ",")},
		"vs_currencies": {"usd"},
	}
	headers := map[string]string{}
	if s.apiKey != "" {
		headers["x-cg-demo-api-key"] = s.apiKey
	}
	if err := s.GetJSON(ctx, "/simple/price", query, headers, &resp); err != nil {
		return nil, err
	}

	prices := make(map[models.Asset]decimal.Decimal, len(assets))
	for _, a := range assets {
		p, ok := resp[coinGeckoIDs[a]]["usd"]
		if !ok || !p.IsPositive() {
			return nil, models.SourceUnavailable(s.Name(), fmt.Errorf("no usd quote for %s", a))
		}
		prices[a] = p
	}
	return prices, nil
}
