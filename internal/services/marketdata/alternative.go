package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/repository"
	"Treasury/internal/service/ratelimit"
	"Treasury/pkg/config"
	"Treasury/pkg/logger"
)

const alternativeURL = "https://api.alternative.me"

// FearGreedSource reads the alternative.me Fear & Greed index.
type FearGreedSource struct {
	*HTTPSourceBase
}

var _ repository.SentimentSource = (*FearGreedSource)(nil)

func NewFearGreedSource(cfg config.SourceConfig, limiter *ratelimit.Limiter, l *logger.Logger) *FearGreedSource {
	return &FearGreedSource{NewHTTPSourceBase("alternative.me", alternativeURL, cfg, limiter, l)}
}

type fearGreedResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

func (s *FearGreedSource) FetchSentiment(ctx context.Context) (int, error) {
	var resp fearGreedResponse
	if err := s.GetJSON(ctx, "/fng/", map[string][]string{"limit": {"1"}}, nil, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, models.SourceUnavailable(s.Name(), errors.New("empty data"))
	}

	v, err := strconv.Atoi(resp.Data[0].Value)
	if err != nil {
		return 0, models.SourceUnavailable(s.Name(), fmt.Errorf("parse value %q: %w", resp.Data[0].Value, err))
	}
	if v < 0 || v > 100 {
		return 0, models.SourceUnavailable(s.Name(), fmt.Errorf("index %d out of range", v))
	}
	return v, nil
}
