package portfolio

import (
	"time"

	"Treasury/internal/domain/models"

	"github.com/shopspring/decimal"
)

// ComputeState derives allocation and drift from positions. Nothing is
// carried over between calls, so identical inputs give identical states.
func ComputeState(positions []models.Position, signal models.AllocationSignal, lastRebalance *time.Time) (models.PortfolioState, error) {
	owned := make([]models.Position, len(positions))
	copy(owned, positions)

	total := decimal.Zero
	values := make(map[models.Bucket]decimal.Decimal, len(models.AllBuckets))
	for _, p := range owned {
		values[p.Bucket] = values[p.Bucket].Add(p.ValueUSD)
		total = total.Add(p.ValueUSD)
	}
	if total.IsNegative() {
		return models.PortfolioState{}, models.InvariantViolation("portfolio total value %s is negative", total.StringFixed(2))
	}

	actual := make(models.Allocation, len(values))
	if total.IsPositive() {
		for b, v := range values {
			actual[b] = v.Div(total).InexactFloat64()
		}
	}

	target := signal.Target.Clone()
	drift := make(models.Allocation)
	for _, b := range actual.Buckets(target) {
		if total.IsZero() {
			// an empty portfolio has no allocation to drift from
			drift[b] = 0
			continue
		}
		drift[b] = actual[b] - target[b]
	}

	tactical := 0.0
	for _, b := range models.TacticalBuckets {
		tactical += actual[b]
	}

	var last *time.Time
	if lastRebalance != nil {
		t := *lastRebalance
		last = &t
	}

	return models.PortfolioState{
		Timestamp:      signal.Timestamp,
		TotalValue:     total,
		Positions:      owned,
		BucketValues:   values,
		Actual:         actual,
		Target:         target,
		Drift:          drift,
		TacticalWeight: tactical,
		LastRebalance:  last,
	}, nil
}

// Revalue prices spot holdings at the snapshot's prices. Positions without a
// quantity, or whose asset has no price, keep their stored USD value, as do all
// positions when the prices are configured defaults. The input slice is not
// modified.
func Revalue(positions []models.Position, snap models.MarketSnapshot) []models.Position {
	out := make([]models.Position, len(positions))
	if !snap.PricesObserved() {
		copy(out, positions)
		return out
	}
	for i, p := range positions {
		if price, ok := snap.Price(models.Asset(p.Asset)); ok && p.Quantity.IsPositive() {
			p.ValueUSD = p.Quantity.Mul(price).Round(2)
		}
		out[i] = p
	}
	return out
}
