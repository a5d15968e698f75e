package portfolio

import (
	"Treasury/internal/domain/models"

	"github.com/shopspring/decimal"
)

// ComputePlan returns per-bucket USD deltas that move state to the signal's
// target, rounded to cents. Positive means buy.
func ComputePlan(decisionID string, state models.PortfolioState, signal models.AllocationSignal) models.RebalancePlan {
	deltas := make(map[models.Bucket]decimal.Decimal)
	current := make(models.Allocation, len(state.BucketValues))
	for b := range state.BucketValues {
		current[b] = 0
	}

	for _, b := range signal.Target.Buckets(current) {
		want := state.TotalValue.Mul(decimal.NewFromFloat(signal.Target[b]))
		deltas[b] = want.Sub(state.BucketValues[b]).Round(2)
	}

	return models.RebalancePlan{
		DecisionID: decisionID,
		TotalValue: state.TotalValue,
		Deltas:     deltas,
	}
}
