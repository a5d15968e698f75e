package repository

import (
	"context"
	"time"

	"Treasury/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Market data sources return models.ErrSourceUnavailable (wrapped) when they
// have nothing usable. They do no caching of their own.

type PriceSource interface {
	Name() string
	FetchPrices(ctx context.Context, assets []models.Asset) (map[models.Asset]decimal.Decimal, error)
}

type RatioSource interface {
	Name() string
	FetchValuationRatio(ctx context.Context) (float64, error)
}

type SentimentSource interface {
	Name() string
	FetchSentiment(ctx context.Context) (int, error)
}

type FundingSource interface {
	Name() string
	FetchFundingRates(ctx context.Context, assets []models.Asset) (map[models.Asset]float64, error)
}

type PositionStore interface {
	ListPositions(ctx context.Context) ([]models.Position, error)
}

// JournalStore is append-only.
type JournalStore interface {
	Append(ctx context.Context, entry models.JournalEntry) error
	// LastTriggered returns the timestamp of the newest triggered decision.
	LastTriggered(ctx context.Context) (time.Time, bool, error)
	Recent(ctx context.Context, limit int) ([]models.JournalEntry, error)
}

// JournalPublisher fans journal entries out to downstream reporting.
type JournalPublisher interface {
	PublishEntry(ctx context.Context, entry models.JournalEntry) error
}

type Metrics interface {
	RecordSourceFetch(source string, status models.FieldStatus, seconds float64)
	RecordCycle(result string, seconds float64)
	RecordSignal(phase models.MarketPhase, confidence float64, degraded bool)
	RecordDrift(bucket models.Bucket, drift float64)
	RecordTrigger(reason models.ReasonCode)
	RecordAdvisory(outcome string)
	RecordError(kind string)
}
