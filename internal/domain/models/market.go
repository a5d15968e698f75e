package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
)

// Source names double as provenance keys and cache keys.
const (
	SourcePrices    = "prices"
	SourceRatio     = "valuation_ratio"
	SourceSentiment = "sentiment"
	SourceFunding   = "funding"
)

// FieldStatus records where a snapshot field came from.
type FieldStatus string

const (
	StatusFresh   FieldStatus = "fresh"
	StatusStale   FieldStatus = "stale"   // last good value past its TTL
	StatusDefault FieldStatus = "default" // documented fallback, nothing observed
	StatusAbsent  FieldStatus = "absent"
)

type Provenance struct {
	Status    FieldStatus `json:"status"`
	FetchedAt time.Time   `json:"fetched_at,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Trusted is false for anything not fetched fresh this cycle.
func (p Provenance) Trusted() bool {
	return p.Status == StatusFresh
}

// MarketSnapshot is built once per cycle and must not be modified afterwards.
// Nil pointers and missing map keys mean the source had nothing to offer.
type MarketSnapshot struct {
	Timestamp      time.Time                 `json:"timestamp"`
	Prices         map[Asset]decimal.Decimal `json:"prices"`
	ValuationRatio *float64                  `json:"valuation_ratio,omitempty"`
	Sentiment      *int                      `json:"sentiment,omitempty"`
	FundingRates   map[Asset]float64         `json:"funding_rates,omitempty"`
	Provenance     map[string]Provenance     `json:"provenance"`
	Degraded       bool                      `json:"degraded"`
}

func (s MarketSnapshot) Ratio() (float64, bool) {
	if s.ValuationRatio == nil {
		return 0, false
	}
	return *s.ValuationRatio, true
}

func (s MarketSnapshot) SentimentIndex() (int, bool) {
	if s.Sentiment == nil {
		return 0, false
	}
	return *s.Sentiment, true
}

func (s MarketSnapshot) Price(a Asset) (decimal.Decimal, bool) {
	p, ok := s.Prices[a]
	return p, ok
}

// PricesObserved is true when the prices came from a feed, fresh or stale,
// rather than from configured defaults.
func (s MarketSnapshot) PricesObserved() bool {
	switch s.Provenance[SourcePrices].Status {
	case StatusFresh, StatusStale:
		return true
	}
	return false
}

// Untrusted counts sources that were stale, defaulted or absent.
func (s MarketSnapshot) Untrusted() int {
	n := 0
	for _, p := range s.Provenance {
		if !p.Trusted() {
			n++
		}
	}
	return n
}

type MarketPhase string

const (
	PhaseBear         MarketPhase = "bear"
	PhaseAccumulation MarketPhase = "accumulation"
	PhaseEuphoria     MarketPhase = "euphoria"
	PhaseTop          MarketPhase = "top"
	PhaseUnknown      MarketPhase = "unknown"
)

func Float64(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
