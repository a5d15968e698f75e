package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/internal/service/ratelimit"
	"Treasury/pkg/config"
	xhttp "Treasury/pkg/http"
	"Treasury/pkg/logger"

	"github.com/sony/gobreaker"
)

// HTTPSourceBase is shared by the REST-backed sources: one client, one
// rate limit bucket and one circuit breaker per source.
type HTTPSourceBase struct {
	name    string
	baseURL string
	apiKey  string
	cfg     config.SourceConfig
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

func NewHTTPSourceBase(name, defaultURL string, cfg config.SourceConfig, limiter *ratelimit.Limiter, l *logger.Logger) *HTTPSourceBase {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultURL
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	log := l.With(logger.String("source", name))

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.Breaker.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	}

	return &HTTPSourceBase{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker(st),
		log:     log,
	}
}

func (b *HTTPSourceBase) Name() string { return b.name }

// TTL and Timeout feed the market cache's FetchSpec for this source.
func (b *HTTPSourceBase) TTL() time.Duration     { return b.cfg.TTL }
func (b *HTTPSourceBase) Timeout() time.Duration { return b.cfg.Timeout }

// GetJSON waits for a rate limit token, then issues the GET through the
// breaker. Every failure comes back wrapped in models.ErrSourceUnavailable.
func (b *HTTPSourceBase) GetJSON(ctx context.Context, path string, query map[string][]string, headers map[string]string, dest interface{}) error {
	if err := b.limiter.Wait(ctx, b.name, b.cfg.RateLimit, b.cfg.Burst); err != nil {
		return models.SourceUnavailable(b.name, fmt.Errorf("rate limit: %w", err))
	}

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.client.GetJSON(ctx, b.baseURL+path, query, headers, dest)
	})
	if err != nil {
		return models.SourceUnavailable(b.name, fmt.Errorf("get %s: %w", path, err))
	}
	return nil
}
