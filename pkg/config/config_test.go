package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, c.Engine.MinInterval)
	assert.InDelta(t, 0.05, c.Engine.DriftThreshold, 1e-9)
	assert.InDelta(t, 5.0, c.Thresholds.Phase.Top, 1e-9)
	assert.InDelta(t, 9.0, c.Thresholds.Tiers.ExitAll, 1e-9)
	assert.InDelta(t, 0.10, c.Thresholds.Floors.Sell67, 1e-9)
	assert.InDelta(t, 1.5, c.Thresholds.Confidence.ClearLow, 1e-9)
	assert.InDelta(t, 6.0, c.Thresholds.Confidence.ClearHigh, 1e-9)
	assert.Equal(t, []string{"BTC", "ETH"}, c.Sources.Assets)
	assert.InDelta(t, 98000.0, c.Sources.DefaultPrices["BTC"], 1e-9)
	assert.Equal(t, 5*time.Second, c.Sources.Ratio.Timeout)
	assert.Equal(t, 5*time.Minute, c.Sources.Ratio.TTL)
	assert.True(t, c.Sources.Funding.Enabled)
	assert.Equal(t, 30*time.Second, c.Advisory.Timeout)
	assert.Equal(t, "memory", c.Cache.Backend)
	assert.Equal(t, time.Minute, c.Cache.MemoryCleanup)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: prod
engine:
  min_interval: 1h
  drift_threshold: 0.1
sources:
  sentiment:
    enabled: false
    timeout: 2s
`))
	require.NoError(t, err)

	assert.Equal(t, time.Hour, c.Engine.MinInterval)
	assert.InDelta(t, 0.1, c.Engine.DriftThreshold, 1e-9)
	assert.False(t, c.Sources.Sentiment.Enabled)
	assert.Equal(t, 2*time.Second, c.Sources.Sentiment.Timeout)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unordered phase ladder":    "thresholds:\n  phase:\n    top: 2.5\n",
		"unordered tiers":           "thresholds:\n  tiers:\n    sell_67: 12\n",
		"inverted confidence band":  "thresholds:\n  confidence:\n    clear_low: 7\n",
		"source timeout too long":   "sources:\n  prices:\n    timeout: 10s\n",
		"advisory timeout too long": "advisory:\n  timeout: 1m\n",
		"anthropic without key":     "advisory:\n  provider: anthropic\n",
		"unknown cache backend":     "cache:\n  backend: disk\n",
		"publish without brokers":   "journal:\n  publish: true\n",
		"missing default price":     "sources:\n  assets: [BTC, SOL]\n",
		"bad seed bucket":           "positions:\n  - asset: USDC\n    bucket: bonds\n    quantity: '1'\n    value_usd: '1'\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: test\n"), 0o600))

	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GLASSNODE_API_KEY", "secret")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "secret", c.Sources.Ratio.APIKey)
}

func TestStageBudget(t *testing.T) {
	c, err := Parse([]byte("engine:\n  position_timeout: 3s\n  journal_timeout: 2s\n"))
	require.NoError(t, err)

	// max(5s sources, 3s positions) + 30s advisory + 2*2s journal
	assert.Equal(t, 39*time.Second, c.StageBudget())
}
