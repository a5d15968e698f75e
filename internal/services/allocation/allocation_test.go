package allocation

import (
	"errors"
	"math"
	"testing"

	"Treasury/internal/domain/models"
	"Treasury/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThresholds() config.ThresholdsConfig {
	var t config.ThresholdsConfig
	t.Phase.Top, t.Phase.Euphoria, t.Phase.Accumulation = 5.0, 3.0, 2.0
	t.Tiers.DeepBear, t.Tiers.Sell25, t.Tiers.Sell50, t.Tiers.Sell67, t.Tiers.ExitAll = 1.0, 3.5, 5.0, 7.0, 9.0
	t.Floors.Sell25, t.Floors.Sell50, t.Floors.Sell67 = 0.30, 0.20, 0.10
	t.ExtremeFunding = 0.2
	t.NegativeFunding = -0.1
	t.Confidence.ClearLow, t.Confidence.ClearHigh = 1.5, 6.0
	t.ExtremeFear, t.ExtremeGreed = 20, 80
	return t
}

func snapshotWithRatio(r float64) models.MarketSnapshot {
	return models.MarketSnapshot{ValuationRatio: models.Float64(r)}
}

func TestClassify(t *testing.T) {
	c := NewClassifier(testThresholds())
	tests := []struct {
		ratio *float64
		want  models.MarketPhase
	}{
		{nil, models.PhaseUnknown},
		{models.Float64(-0.4), models.PhaseBear},
		{models.Float64(1.99), models.PhaseBear},
		{models.Float64(2.0), models.PhaseAccumulation},
		{models.Float64(2.43), models.PhaseAccumulation},
		{models.Float64(3.0), models.PhaseEuphoria},
		{models.Float64(4.99), models.PhaseEuphoria},
		{models.Float64(5.0), models.PhaseTop},
		{models.Float64(7.2), models.PhaseTop},
		{models.Float64(12), models.PhaseTop},
	}
	for _, tc := range tests {
		got := c.Classify(models.MarketSnapshot{ValuationRatio: tc.ratio})
		assert.Equal(t, tc.want, got, "ratio %v", tc.ratio)
	}
}

func TestClassifyIsMonotonic(t *testing.T) {
	c := NewClassifier(testThresholds())
	rank := map[models.MarketPhase]int{
		models.PhaseBear: 0, models.PhaseAccumulation: 1, models.PhaseEuphoria: 2, models.PhaseTop: 3,
	}
	prev := -1
	for r := -1.0; r <= 12; r += 0.01 {
		p := rank[c.Classify(snapshotWithRatio(r))]
		require.GreaterOrEqual(t, p, prev, "ratio %.2f", r)
		prev = p
	}
}

func TestGenerateAccumulationScenario(t *testing.T) {
	cfg := testThresholds()
	snap := snapshotWithRatio(2.43)
	phase := NewClassifier(cfg).Classify(snap)
	require.Equal(t, models.PhaseAccumulation, phase)

	sig, err := NewGenerator(cfg).Generate(snap, phase)
	require.NoError(t, err)

	assert.Equal(t, TierBase, sig.Tier)
	assert.InDelta(t, 0.60, sig.Target[models.BucketYield], 1e-9)
	assert.InDelta(t, 0.20, sig.Target[models.BucketBTC], 1e-9)
	assert.InDelta(t, 0.20, sig.Target[models.BucketETH], 1e-9)
	assert.Zero(t, sig.Target[models.BucketCash])
	assert.False(t, sig.HardThresholdCrossed)
	assert.Contains(t, sig.Reasoning, "accumulation zone")
}

func TestGenerateTierOverrides(t *testing.T) {
	cfg := testThresholds()
	g := NewGenerator(cfg)
	c := NewClassifier(cfg)

	tests := []struct {
		ratio    float64
		tier     string
		tactical float64
	}{
		{0.5, TierDeepBear, 0},
		{1.5, TierBase, 0.40},
		{3.2, TierBase, 0.40},
		{4.0, TierSell25, 0.30},
		{5.5, TierSell50, 0.20},
		{7.2, TierSell67, 0.05},
		{9.0, TierExitAll, 0},
	}
	for _, tc := range tests {
		snap := snapshotWithRatio(tc.ratio)
		sig, err := g.Generate(snap, c.Classify(snap))
		require.NoError(t, err)
		assert.Equal(t, tc.tier, sig.Tier, "ratio %.2f", tc.ratio)
		assert.InDelta(t, tc.tactical, sig.Target[models.BucketBTC]+sig.Target[models.BucketETH], 1e-9, "ratio %.2f", tc.ratio)
	}
}

func TestGenerateUnknownUsesSafeTarget(t *testing.T) {
	sig, err := NewGenerator(testThresholds()).Generate(models.MarketSnapshot{}, models.PhaseUnknown)
	require.NoError(t, err)
	assert.Equal(t, TierSafe, sig.Tier)
	assert.InDelta(t, 0.95, sig.Target[models.BucketYield], 1e-9)
	assert.InDelta(t, 0.05, sig.Target[models.BucketCash], 1e-9)
	assert.Equal(t, "Normal market conditions", sig.Reasoning)
}

func TestTargetsAlwaysSumToOne(t *testing.T) {
	cfg := testThresholds()
	g := NewGenerator(cfg)
	c := NewClassifier(cfg)
	for r := -1.0; r <= 15; r += 0.05 {
		snap := snapshotWithRatio(r)
		sig, err := g.Generate(snap, c.Classify(snap))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sig.Target.Sum(), 1e-6, "ratio %.2f", r)
	}
}

func TestGenerateRejectsBrokenTier(t *testing.T) {
	g := NewGenerator(testThresholds())
	g.tiers = []Tier{{Name: "BROKEN", Min: 0, Target: alloc(0.5, 0.1, 0.1, 0)}}

	_, err := g.Generate(snapshotWithRatio(1.2), models.PhaseBear)
	assert.True(t, errors.Is(err, models.ErrInvariantViolation))
}

func TestConfidence(t *testing.T) {
	g := NewGenerator(testThresholds())
	tests := map[string]struct {
		snap models.MarketSnapshot
		want float64
	}{
		"nothing":               {models.MarketSnapshot{}, 0.5},
		"deep bear ratio":       {snapshotWithRatio(1.2), 0.7},
		"mid-cycle ratio":       {snapshotWithRatio(2.5), 0.5},
		"ratio on clear_high":   {snapshotWithRatio(6.0), 0.5},
		"top ratio":             {snapshotWithRatio(7.2), 0.7},
		"extreme fear":          {models.MarketSnapshot{Sentiment: models.Int(12)}, 0.7},
		"greed not extreme":     {models.MarketSnapshot{Sentiment: models.Int(79)}, 0.5},
		"extreme funding":       {models.MarketSnapshot{FundingRates: map[models.Asset]float64{models.AssetETH: -0.25}}, 0.6},
		"everything agrees":     {models.MarketSnapshot{ValuationRatio: models.Float64(7.2), Sentiment: models.Int(85), FundingRates: map[models.Asset]float64{models.AssetBTC: 0.3}}, 1.0},
		"degraded":              {models.MarketSnapshot{Degraded: true}, 0.3},
		"degraded but agreeing": {models.MarketSnapshot{ValuationRatio: models.Float64(7.2), Sentiment: models.Int(85), Degraded: true}, 0.7},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, tc.want, g.Confidence(tc.snap), 1e-9)
		})
	}
}

func TestConfidenceRisesWithAgreement(t *testing.T) {
	g := NewGenerator(testThresholds())
	snap := models.MarketSnapshot{}
	steps := []func(*models.MarketSnapshot){
		func(s *models.MarketSnapshot) { s.ValuationRatio = models.Float64(8.0) },
		func(s *models.MarketSnapshot) { s.Sentiment = models.Int(90) },
		func(s *models.MarketSnapshot) { s.FundingRates = map[models.Asset]float64{models.AssetBTC: 0.4} },
	}
	prev := g.Confidence(snap)
	for _, step := range steps {
		step(&snap)
		c := g.Confidence(snap)
		assert.Greater(t, c, prev)
		assert.LessOrEqual(t, c, 1.0)
		prev = c
	}
	assert.False(t, math.IsNaN(prev))
}

func TestReasoning(t *testing.T) {
	g := NewGenerator(testThresholds())
	snap := models.MarketSnapshot{
		ValuationRatio: models.Float64(7.2),
		Sentiment:      models.Int(88),
		FundingRates:   map[models.Asset]float64{models.AssetBTC: 0.25, models.AssetETH: -0.15},
	}
	sig, err := g.Generate(snap, models.PhaseTop)
	require.NoError(t, err)
	assert.Equal(t,
		"MVRV 7.20 in danger zone - heavy de-risking recommended | Extreme Greed (88) - elevated risk | "+
			"High BTC funding (0.25%) - overcrowded longs | Negative ETH funding (-0.15%) - potential squeeze setup",
		sig.Reasoning)
	assert.True(t, sig.ExtremeFunding)
	assert.True(t, sig.HardThresholdCrossed)
}

func TestConfidenceFollowsConfiguredBand(t *testing.T) {
	cfg := testThresholds()
	cfg.Confidence.ClearLow, cfg.Confidence.ClearHigh = 2.0, 4.0
	g := NewGenerator(cfg)
	assert.InDelta(t, 0.7, g.Confidence(snapshotWithRatio(4.5)), 1e-9)
	assert.InDelta(t, 0.5, g.Confidence(snapshotWithRatio(3.0)), 1e-9)
	assert.InDelta(t, 0.7, g.Confidence(snapshotWithRatio(1.8)), 1e-9)
}

func TestReasoningSentimentEdges(t *testing.T) {
	g := NewGenerator(testThresholds())
	tests := map[string]struct {
		sentiment int
		want      string
	}{
		"greed at 75": {75, "Extreme Greed (75) - elevated risk"},
		"fear at 25":  {25, "Extreme Fear (25) - contrarian opportunity"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			sig, err := g.Generate(models.MarketSnapshot{Sentiment: models.Int(tc.sentiment)}, models.PhaseUnknown)
			require.NoError(t, err)
			assert.Contains(t, sig.Reasoning, tc.want)
		})
	}
	sig, err := g.Generate(models.MarketSnapshot{Sentiment: models.Int(74)}, models.PhaseUnknown)
	require.NoError(t, err)
	assert.NotContains(t, sig.Reasoning, "Extreme Greed")
}

func TestFearGreedLabel(t *testing.T) {
	for v, want := range map[int]string{0: "Extreme Fear", 25: "Extreme Fear", 40: "Fear", 50: "Neutral", 60: "Greed", 75: "Greed", 76: "Extreme Greed", 100: "Extreme Greed"} {
		assert.Equal(t, want, FearGreedLabel(v), "value %d", v)
	}
}
