package allocation

import (
	"fmt"
	"math"
	"strings"

	"Treasury/internal/domain/models"
	"Treasury/pkg/config"
)

const (
	baseConfidence     = 0.5
	ratioBoost         = 0.2
	sentimentBoost     = 0.2
	fundingBoost       = 0.1
	degradedPenalty    = 0.2
	normalConditionsTx = "Normal market conditions"

	// Sentiment levels called out in reasoning. The confidence boost uses the
	// configured extreme_fear/extreme_greed instead.
	reasoningFear  = 25
	reasoningGreed = 75
)

// Generator turns a snapshot and its phase into a target allocation.
type Generator struct {
	cfg   config.ThresholdsConfig
	tiers []Tier
}

func NewGenerator(cfg config.ThresholdsConfig) *Generator {
	return &Generator{cfg: cfg, tiers: DefaultTiers(cfg)}
}

// Generate returns models.ErrInvariantViolation when the chosen target is not
// a valid allocation.
func (g *Generator) Generate(snap models.MarketSnapshot, phase models.MarketPhase) (models.AllocationSignal, error) {
	tier, target := g.target(snap, phase)
	if !target.Valid() {
		return models.AllocationSignal{}, models.InvariantViolation("tier %s target sums to %.8f", tier, target.Sum())
	}

	ratio, hasRatio := snap.Ratio()
	return models.AllocationSignal{
		Timestamp:            snap.Timestamp,
		Phase:                phase,
		Tier:                 tier,
		Target:               target,
		Reasoning:            g.reasoning(snap),
		Confidence:           g.Confidence(snap),
		HardThresholdCrossed: hasRatio && ratio >= g.cfg.Tiers.Sell25,
		ExtremeFunding:       g.extremeFunding(snap),
		Degraded:             snap.Degraded,
	}, nil
}

func (g *Generator) target(snap models.MarketSnapshot, phase models.MarketPhase) (string, models.Allocation) {
	ratio, ok := snap.Ratio()
	if !ok || phase == models.PhaseUnknown {
		return TierSafe, safeTarget.Clone()
	}
	for _, t := range g.tiers {
		if t.matches(ratio) {
			return t.Name, t.Target.Clone()
		}
	}
	if base, ok := baseTargets[phase]; ok {
		return TierBase, base.Clone()
	}
	return TierSafe, safeTarget.Clone()
}

// Confidence is additive over agreeing indicators, capped at 1. A degraded
// snapshot costs a fixed penalty.
func (g *Generator) Confidence(snap models.MarketSnapshot) float64 {
	c := baseConfidence
	if ratio, ok := snap.Ratio(); ok && g.clearRatio(ratio) {
		c += ratioBoost
	}
	if s, ok := snap.SentimentIndex(); ok && (s <= g.cfg.ExtremeFear || s >= g.cfg.ExtremeGreed) {
		c += sentimentBoost
	}
	if g.extremeFunding(snap) {
		c += fundingBoost
	}
	c = math.Min(c, 1.0)
	if snap.Degraded {
		c = math.Max(c-degradedPenalty, 0)
	}
	return c
}

// clearRatio reports a ratio deep in bear or top territory.
func (g *Generator) clearRatio(ratio float64) bool {
	return ratio < g.cfg.Confidence.ClearLow || ratio > g.cfg.Confidence.ClearHigh
}

func (g *Generator) extremeFunding(snap models.MarketSnapshot) bool {
	for _, r := range snap.FundingRates {
		if math.Abs(r) > g.cfg.ExtremeFunding {
			return true
		}
	}
	return false
}

func (g *Generator) reasoning(snap models.MarketSnapshot) string {
	var reasons []string

	if ratio, ok := snap.Ratio(); ok {
		switch {
		case ratio < g.cfg.Phase.Accumulation:
			reasons = append(reasons, fmt.Sprintf("MVRV %.2f indicates bear market - conservative stance", ratio))
		case ratio < g.cfg.Phase.Euphoria:
			reasons = append(reasons, fmt.Sprintf("MVRV %.2f in accumulation zone - tactical allocation optimal", ratio))
		case ratio < g.cfg.Phase.Top:
			reasons = append(reasons, fmt.Sprintf("MVRV %.2f approaching euphoria - preparing to reduce risk", ratio))
		default:
			reasons = append(reasons, fmt.Sprintf("MVRV %.2f in danger zone - heavy de-risking recommended", ratio))
		}
	}

	if s, ok := snap.SentimentIndex(); ok {
		switch {
		case s <= reasoningFear:
			reasons = append(reasons, fmt.Sprintf("Extreme Fear (%d) - contrarian opportunity", s))
		case s >= reasoningGreed:
			reasons = append(reasons, fmt.Sprintf("Extreme Greed (%d) - elevated risk", s))
		}
	}

	for _, a := range []models.Asset{models.AssetBTC, models.AssetETH} {
		r, ok := snap.FundingRates[a]
		if !ok {
			continue
		}
		switch {
		case r > g.cfg.ExtremeFunding:
			reasons = append(reasons, fmt.Sprintf("High %s funding (%.2f%%) - overcrowded longs", a, r))
		case r < g.cfg.NegativeFunding:
			reasons = append(reasons, fmt.Sprintf("Negative %s funding (%.2f%%) - potential squeeze setup", a, r))
		}
	}

	if snap.Degraded {
		reasons = append(reasons, "market data degraded - confidence reduced")
	}
	if len(reasons) == 0 {
		return normalConditionsTx
	}
	return strings.Join(reasons, " | ")
}

// FearGreedLabel names the Fear & Greed band a 0-100 index falls in.
func FearGreedLabel(v int) string {
	switch {
	case v <= 25:
		return "Extreme Fear"
	case v <= 45:
		return "Fear"
	case v <= 55:
		return "Neutral"
	case v <= 75:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}
