package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Position is one holding. Lists of positions are replaced, never edited.
type Position struct {
	Asset      string           `json:"asset"`
	Bucket     Bucket           `json:"bucket"`
	Protocol   string           `json:"protocol,omitempty"`
	Quantity   decimal.Decimal  `json:"quantity"`
	ValueUSD   decimal.Decimal  `json:"value_usd"`
	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
}

// PortfolioState is derived from positions on every call; nothing in it is cached.
type PortfolioState struct {
	Timestamp      time.Time                  `json:"timestamp"`
	TotalValue     decimal.Decimal            `json:"total_value"`
	Positions      []Position                 `json:"positions"`
	BucketValues   map[Bucket]decimal.Decimal `json:"bucket_values"`
	Actual         Allocation                 `json:"actual"`
	Target         Allocation                 `json:"target"`
	Drift          Allocation                 `json:"drift"`
	TacticalWeight float64                    `json:"tactical_weight"`
	LastRebalance  *time.Time                 `json:"last_rebalance,omitempty"`
}

// MaxAbsDrift returns the bucket furthest from target and its signed drift.
func (s PortfolioState) MaxAbsDrift() (Bucket, float64) {
	var worst Bucket
	var drift float64
	for _, b := range s.Drift.Buckets() {
		if d := s.Drift[b]; math.Abs(d) > math.Abs(drift) {
			worst, drift = b, d
		}
	}
	return worst, drift
}
