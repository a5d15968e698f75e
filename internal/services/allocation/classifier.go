package allocation

import (
	"Treasury/internal/domain/models"
	"Treasury/pkg/config"
)

type phaseStep struct {
	min   float64
	phase models.MarketPhase
}

// Classifier maps a snapshot to a market phase using the valuation ratio
// ladder. It is pure and safe for concurrent use.
type Classifier struct {
	ladder []phaseStep // high to low
}

func NewClassifier(cfg config.ThresholdsConfig) *Classifier {
	return &Classifier{ladder: []phaseStep{
		{cfg.Phase.Top, models.PhaseTop},
		{cfg.Phase.Euphoria, models.PhaseEuphoria},
		{cfg.Phase.Accumulation, models.PhaseAccumulation},
	}}
}

// Classify returns the phase of the highest boundary the ratio meets, Bear
// below all of them and Unknown when the ratio is absent.
func (c *Classifier) Classify(snap models.MarketSnapshot) models.MarketPhase {
	ratio, ok := snap.Ratio()
	if !ok {
		return models.PhaseUnknown
	}
	for _, step := range c.ladder {
		if ratio >= step.min {
			return step.phase
		}
	}
	return models.PhaseBear
}
