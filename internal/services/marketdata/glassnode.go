package marketdata

import (
	"context"
	"errors"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/repository"
	"Treasury/internal/service/ratelimit"
	"Treasury/pkg/config"
	"Treasury/pkg/logger"
)

const glassnodeURL = "https://api.glassnode.com/v1"

// GlassnodeRatioSource reads the BTC MVRV Z-score, used as the market
// valuation ratio.
type GlassnodeRatioSource struct {
	*HTTPSourceBase
}

var _ repository.RatioSource = (*GlassnodeRatioSource)(nil)

func NewGlassnodeRatioSource(cfg config.SourceConfig, limiter *ratelimit.Limiter, l *logger.Logger) *GlassnodeRatioSource {
	return &GlassnodeRatioSource{NewHTTPSourceBase("glassnode", glassnodeURL, cfg, limiter, l)}
}

type glassnodePoint struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// FetchValuationRatio returns the newest point of the series.
func (s *GlassnodeRatioSource) FetchValuationRatio(ctx context.Context) (float64, error) {
	if s.apiKey == "" {
		return 0, models.SourceUnavailable(s.Name(), errors.New("api key not configured"))
	}

	var points []glassnodePoint
	query := map[string][]string{
		"a":       {"BTC"},
		"api_key": {s.apiKey},
	}
	if err := s.GetJSON(ctx, "/metrics/market/mvrv_z_score", query, nil, &points); err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, models.SourceUnavailable(s.Name(), errors.New("empty series"))
	}
	return points[len(points)-1].V, nil
}
