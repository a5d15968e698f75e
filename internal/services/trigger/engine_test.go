package trigger

import (
	"testing"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/pkg/config"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	var th config.ThresholdsConfig
	th.Tiers.DeepBear, th.Tiers.Sell25, th.Tiers.Sell50, th.Tiers.Sell67, th.Tiers.ExitAll = 1.0, 3.5, 5.0, 7.0, 9.0
	th.Floors.Sell25, th.Floors.Sell50, th.Floors.Sell67 = 0.30, 0.20, 0.10
	return New(th, config.EngineConfig{MinInterval: 24 * time.Hour, DriftThreshold: 0.05})
}

func input(ratio *float64, phase models.MarketPhase, tactical float64, drift models.Allocation) Input {
	return Input{
		Now:       now,
		Snapshot:  models.MarketSnapshot{ValuationRatio: ratio},
		Signal:    models.AllocationSignal{Phase: phase},
		Portfolio: models.PortfolioState{TacticalWeight: tactical, Drift: drift},
	}
}

func TestSellTierFiresRegardlessOfDrift(t *testing.T) {
	out := newTestEngine().Evaluate(input(models.Float64(7.2), models.PhaseTop, 0.40, models.Allocation{}))
	assert.True(t, out.Triggered)
	assert.Equal(t, models.StateTriggered, out.State)
	assert.Equal(t, models.ReasonSell67, out.Reason)
	assert.Contains(t, out.Detail, "7.20")
}

func TestRulePriority(t *testing.T) {
	bigDrift := models.Allocation{models.BucketBTC: 0.2}
	tests := map[string]struct {
		in   Input
		want models.ReasonCode
	}{
		"exit all beats drift":              {input(models.Float64(9.5), models.PhaseTop, 0, bigDrift), models.ReasonExitAll},
		"sell 50 band":                      {input(models.Float64(5.5), models.PhaseTop, 0.40, nil), models.ReasonSell50},
		"sell 25 band":                      {input(models.Float64(4.0), models.PhaseEuphoria, 0.40, nil), models.ReasonSell25},
		"sell 67 done, falls through drift": {input(models.Float64(7.5), models.PhaseTop, 0.05, bigDrift), models.ReasonDrift},
		"sell 67 done, lower tiers ignored": {input(models.Float64(7.5), models.PhaseTop, 0.05, nil), models.ReasonNone},
		"floor is exclusive":                {input(models.Float64(5.1), models.PhaseTop, 0.20, nil), models.ReasonNone},
		"below all tiers":                   {input(models.Float64(2.5), models.PhaseAccumulation, 0.40, nil), models.ReasonNone},
	}
	e := newTestEngine()
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			out := e.Evaluate(tc.in)
			assert.Equal(t, tc.want, out.Reason)
			assert.Equal(t, tc.want != models.ReasonNone, out.Triggered)
		})
	}
}

func TestDriftTrigger(t *testing.T) {
	e := newTestEngine()
	in := input(models.Float64(2.43), models.PhaseAccumulation, 0.46, models.Allocation{
		models.BucketYield: -0.06, models.BucketBTC: 0.06, models.BucketETH: 0, models.BucketCash: 0,
	})
	last := now.Add(-25 * time.Hour)
	in.LastTriggered = &last

	out := e.Evaluate(in)
	assert.True(t, out.Triggered)
	assert.Equal(t, models.ReasonDrift, out.Reason)

	in.Portfolio.Drift = models.Allocation{models.BucketBTC: 0.05}
	out = e.Evaluate(in)
	assert.False(t, out.Triggered)
	assert.Equal(t, models.StateEligible, out.State)
}

func TestUnknownPhaseNeverDriftsOrTiers(t *testing.T) {
	e := newTestEngine()
	out := e.Evaluate(input(nil, models.PhaseUnknown, 0.40, models.Allocation{models.BucketYield: -0.35}))
	assert.False(t, out.Triggered)
	assert.Equal(t, models.ReasonNone, out.Reason)
	assert.Equal(t, models.StateEligible, out.State)

	out = e.Evaluate(input(models.Float64(9.2), models.PhaseUnknown, 0.40, nil))
	assert.True(t, out.Triggered)
	assert.Equal(t, models.ReasonExitAll, out.Reason)

	out = e.Evaluate(input(models.Float64(7.2), models.PhaseUnknown, 0.40, nil))
	assert.False(t, out.Triggered)
}

func TestCooldown(t *testing.T) {
	e := newTestEngine()
	in := input(models.Float64(9.5), models.PhaseTop, 0.40, nil)
	last := now.Add(-23 * time.Hour)
	in.LastTriggered = &last

	out := e.Evaluate(in)
	assert.False(t, out.Triggered)
	assert.Equal(t, models.StateCoolingDown, out.State)
	assert.Equal(t, models.ReasonCooldown, out.Reason)
	assert.Equal(t, time.Hour, e.CooldownRemaining(now, &last))

	last = now.Add(-24 * time.Hour)
	assert.Equal(t, models.StateIdle, e.StateAt(now, &last))
	assert.True(t, e.Evaluate(in).Triggered)
	assert.Zero(t, e.CooldownRemaining(now, nil))
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := newTestEngine()
	in := input(models.Float64(5.5), models.PhaseTop, 0.40, models.Allocation{models.BucketBTC: 0.1})
	assert.Equal(t, e.Evaluate(in), e.Evaluate(in))
}
