package marketdata

import (
	"context"
	"errors"
	"fmt"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/repository"
	"Treasury/internal/service/ratelimit"
	"Treasury/pkg/config"
	"Treasury/pkg/logger"
)

const coinglassURL = "https://open-api.coinglass.com/public/v2"

// CoinglassFundingSource reads perpetual funding rates. Rates are in percent
// per funding interval, as published.
type CoinglassFundingSource struct {
	*HTTPSourceBase
}

var _ repository.FundingSource = (*CoinglassFundingSource)(nil)

func NewCoinglassFundingSource(cfg config.SourceConfig, limiter *ratelimit.Limiter, l *logger.Logger) *CoinglassFundingSource {
	return &CoinglassFundingSource{NewHTTPSourceBase("coinglass", coinglassURL, cfg, limiter, l)}
}

type coinglassResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Symbol string  `json:"symbol"`
		Rate   float64 `json:"rate"`
	} `json:"data"`
}

// FetchFundingRates returns whatever assets were quoted; it fails only when
// none were.
func (s *CoinglassFundingSource) FetchFundingRates(ctx context.Context, assets []models.Asset) (map[models.Asset]float64, error) {
	headers := map[string]string{}
	if s.apiKey != "" {
		headers["coinglassSecret"] = s.apiKey
	}

	rates := make(map[models.Asset]float64, len(assets))
	var lastErr error
	for _, a := range assets {
		var resp coinglassResponse
		if err := s.GetJSON(ctx, "/funding", map[string][]string{"symbol": {string(a)}}, headers, &resp); err != nil {
			lastErr = err
			continue
		}
		if resp.Code != "" && resp.Code != "0" {
			lastErr = fmt.Errorf("api code %s: %s", resp.Code, resp.Msg)
			continue
		}
		if len(resp.Data) == 0 {
			lastErr = fmt.Errorf("no funding data for %s", a)
			continue
		}
		rates[a] = resp.Data[0].Rate
	}

	if len(rates) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no assets requested")
		}
		if errors.Is(lastErr, models.ErrSourceUnavailable) {
			return nil, lastErr
		}
		return nil, models.SourceUnavailable(s.Name(), lastErr)
	}
	return rates, nil
}
