package allocation

import (
	"math"

	"Treasury/internal/domain/models"
	"Treasury/pkg/config"
)

// Tier names carried on AllocationSignal.Tier.
const (
	TierBase     = "BASE"
	TierSafe     = "SAFE"
	TierExitAll  = "EXIT_ALL"
	TierSell67   = "SELL_67"
	TierSell50   = "SELL_50"
	TierSell25   = "SELL_25"
	TierDeepBear = "DEEP_BEAR"
)

// Tier is one row of the override table: a half-open ratio band
// [Min, Max) and the allocation it imposes. Zero Max means unbounded.
type Tier struct {
	Name   string
	Min    float64
	Max    float64
	Target models.Allocation
}

func (t Tier) matches(ratio float64) bool {
	if ratio < t.Min {
		return false
	}
	return t.Max == 0 || ratio < t.Max
}

func alloc(yield, btc, eth, cash float64) models.Allocation {
	return models.Allocation{
		models.BucketYield: yield,
		models.BucketBTC:   btc,
		models.BucketETH:   eth,
		models.BucketCash:  cash,
	}
}

var (
	baseTargets = map[models.MarketPhase]models.Allocation{
		models.PhaseBear:         alloc(0.60, 0.20, 0.20, 0),
		models.PhaseAccumulation: alloc(0.60, 0.20, 0.20, 0),
		models.PhaseEuphoria:     alloc(0.60, 0.20, 0.20, 0),
		models.PhaseTop:          alloc(0.70, 0.10, 0.10, 0.10),
	}
	// Used for Unknown and anything missing from baseTargets.
	safeTarget = alloc(0.95, 0, 0, 0.05)
)

// DefaultTiers builds the override table from configured boundaries, most
// severe first. The first matching row wins.
func DefaultTiers(cfg config.ThresholdsConfig) []Tier {
	t := cfg.Tiers
	return []Tier{
		{Name: TierExitAll, Min: t.ExitAll, Target: alloc(0.85, 0, 0, 0.15)},
		{Name: TierSell67, Min: t.Sell67, Max: t.ExitAll, Target: alloc(0.80, 0.025, 0.025, 0.15)},
		{Name: TierSell50, Min: t.Sell50, Max: t.Sell67, Target: alloc(0.70, 0.10, 0.10, 0.10)},
		{Name: TierSell25, Min: t.Sell25, Max: t.Sell50, Target: alloc(0.65, 0.15, 0.15, 0.05)},
		{Name: TierDeepBear, Min: math.Inf(-1), Max: t.DeepBear, Target: alloc(0.95, 0, 0, 0.05)},
	}
}
