package trigger

import (
	"fmt"
	"math"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/pkg/config"
)

// Input is everything one evaluation looks at. LastTriggered comes from the
// journal; nothing else is remembered between evaluations.
type Input struct {
	Now           time.Time
	Snapshot      models.MarketSnapshot
	Signal        models.AllocationSignal
	Portfolio     models.PortfolioState
	LastTriggered *time.Time
}

type Outcome struct {
	State     models.TriggerState
	Triggered bool
	Reason    models.ReasonCode
	Detail    string
}

// rule is one row of the priority table. Rows without anyPhase are skipped
// when the phase is Unknown.
type rule struct {
	reason   models.ReasonCode
	anyPhase bool
	match    func(in Input) (bool, string)
}

type Engine struct {
	minInterval time.Duration
	rules       []rule
}

func New(th config.ThresholdsConfig, ec config.EngineConfig) *Engine {
	e := &Engine{minInterval: ec.MinInterval}
	e.rules = []rule{
		{reason: models.ReasonExitAll, anyPhase: true, match: exitAll(th.Tiers.ExitAll)},
		{reason: models.ReasonSell67, match: sellTier(th.Tiers.Sell67, th.Tiers.ExitAll, th.Floors.Sell67)},
		{reason: models.ReasonSell50, match: sellTier(th.Tiers.Sell50, th.Tiers.Sell67, th.Floors.Sell50)},
		{reason: models.ReasonSell25, match: sellTier(th.Tiers.Sell25, th.Tiers.Sell50, th.Floors.Sell25)},
		{reason: models.ReasonDrift, match: drift(ec.DriftThreshold)},
	}
	return e
}

// StateAt reports CoolingDown inside minInterval of the last trigger and
// Idle otherwise.
func (e *Engine) StateAt(now time.Time, lastTriggered *time.Time) models.TriggerState {
	if lastTriggered != nil && now.Sub(*lastTriggered) < e.minInterval {
		return models.StateCoolingDown
	}
	return models.StateIdle
}

// CooldownRemaining is zero once a new trigger is allowed.
func (e *Engine) CooldownRemaining(now time.Time, lastTriggered *time.Time) time.Duration {
	if lastTriggered == nil {
		return 0
	}
	if left := e.minInterval - now.Sub(*lastTriggered); left > 0 {
		return left
	}
	return 0
}

// Evaluate walks the rule table in priority order and stops at the first
// match. It is a pure function of in.
func (e *Engine) Evaluate(in Input) Outcome {
	if e.StateAt(in.Now, in.LastTriggered) == models.StateCoolingDown {
		return Outcome{
			State:  models.StateCoolingDown,
			Reason: models.ReasonCooldown,
			Detail: fmt.Sprintf("last trigger at %s, next allowed in %s",
				in.LastTriggered.UTC().Format(time.RFC3339),
				e.CooldownRemaining(in.Now, in.LastTriggered).Truncate(time.Second)),
		}
	}

	unknown := in.Signal.Phase == models.PhaseUnknown
	for _, r := range e.rules {
		if unknown && !r.anyPhase {
			continue
		}
		if ok, detail := r.match(in); ok {
			return Outcome{State: models.StateTriggered, Triggered: true, Reason: r.reason, Detail: detail}
		}
	}

	detail := "no trigger rule matched"
	if unknown {
		detail = "market phase unknown, only hard thresholds apply"
	}
	return Outcome{State: models.StateEligible, Reason: models.ReasonNone, Detail: detail}
}

func exitAll(boundary float64) func(Input) (bool, string) {
	return func(in Input) (bool, string) {
		ratio, ok := in.Snapshot.Ratio()
		if !ok || ratio < boundary {
			return false, ""
		}
		return true, fmt.Sprintf("valuation ratio %.2f at or above exit-all boundary %.2f", ratio, boundary)
	}
}

// sellTier matches only the band [lo, hi), so the highest crossed tier is
// the only one considered.
func sellTier(lo, hi, floor float64) func(Input) (bool, string) {
	return func(in Input) (bool, string) {
		ratio, ok := in.Snapshot.Ratio()
		if !ok || ratio < lo || ratio >= hi {
			return false, ""
		}
		w := in.Portfolio.TacticalWeight
		if w <= floor {
			return false, ""
		}
		return true, fmt.Sprintf("valuation ratio %.2f crossed %.2f, tactical weight %.1f%% above %.1f%% floor",
			ratio, lo, w*100, floor*100)
	}
}

func drift(threshold float64) func(Input) (bool, string) {
	return func(in Input) (bool, string) {
		b, d := in.Portfolio.MaxAbsDrift()
		if math.Abs(d) <= threshold {
			return false, ""
		}
		return true, fmt.Sprintf("%s drift %+.2f%% exceeds %.2f%%", b, d*100, threshold*100)
	}
}
