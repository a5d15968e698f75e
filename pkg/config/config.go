package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string    `yaml:"environment" default:"development" validate:"required"`
	Log         LogConfig `yaml:"log"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"45s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Scheduler struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Spec    string `yaml:"spec" default:"@every 5m" validate:"required"`
	} `yaml:"scheduler"`
	Engine     EngineConfig     `yaml:"engine"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Sources    SourcesConfig    `yaml:"sources"`
	Advisory   AdvisoryConfig   `yaml:"advisory"`
	Cache      struct {
		Backend        string        `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
		MemoryCapacity int           `yaml:"memory_capacity" default:"256" validate:"gt=0"`
		MemoryCleanup  time.Duration `yaml:"memory_cleanup" default:"1m" validate:"gt=0"`
		Redis          struct {
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"treasury:"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Journal struct {
		Backend string `yaml:"backend" default:"memory" validate:"oneof=memory clickhouse"`
		Publish bool   `yaml:"publish"`
	} `yaml:"journal"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		JournalTopic string   `yaml:"journal_topic" default:"treasury.decisions"`
		AlertsTopic  string   `yaml:"alerts_topic" default:"treasury.alerts"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"treasury"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Finnhub struct {
		Enabled        bool              `yaml:"enabled"`
		APIKey         string            `yaml:"api_key"`
		WebSocketURL   string            `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		Symbols        map[string]string `yaml:"symbols" default:"{\"BTC\":\"BINANCE:BTCUSDT\",\"ETH\":\"BINANCE:ETHUSDT\"}"`
		ReconnectDelay time.Duration     `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration     `yaml:"ping_interval" default:"30s"`
		MaxAge         time.Duration     `yaml:"max_age" default:"1m"`
	} `yaml:"finnhub"`
	Positions []PositionSeed `yaml:"positions" validate:"dive"`
}

type LogConfig struct {
	Level      string        `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string        `yaml:"format" default:"console" validate:"oneof=console json"`
	Collector  bool          `yaml:"collector"`
	FlushEvery time.Duration `yaml:"flush_every" default:"1m"`
}

// EngineConfig drives the cycle state machine and its stage deadlines.
type EngineConfig struct {
	MinInterval     time.Duration `yaml:"min_interval" default:"24h" validate:"gte=0"`
	DriftThreshold  float64       `yaml:"drift_threshold" default:"0.05" validate:"gt=0,lt=1"`
	PositionTimeout time.Duration `yaml:"position_timeout" default:"5s" validate:"gt=0"`
	JournalTimeout  time.Duration `yaml:"journal_timeout" default:"5s" validate:"gt=0"`
}

// ThresholdsConfig holds every valuation-ratio boundary. Values are MVRV ratios.
type ThresholdsConfig struct {
	Phase struct {
		Top          float64 `yaml:"top" default:"5.0"`
		Euphoria     float64 `yaml:"euphoria" default:"3.0"`
		Accumulation float64 `yaml:"accumulation" default:"2.0"`
	} `yaml:"phase"`
	Tiers struct {
		DeepBear float64 `yaml:"deep_bear" default:"1.0"`
		Sell25   float64 `yaml:"sell_25" default:"3.5"`
		Sell50   float64 `yaml:"sell_50" default:"5.0"`
		Sell67   float64 `yaml:"sell_67" default:"7.0"`
		ExitAll  float64 `yaml:"exit_all" default:"9.0"`
	} `yaml:"tiers"`
	// Tactical weight above which a sell tier may still fire.
	Floors struct {
		Sell25 float64 `yaml:"sell_25" default:"0.30"`
		Sell50 float64 `yaml:"sell_50" default:"0.20"`
		Sell67 float64 `yaml:"sell_67" default:"0.10"`
	} `yaml:"floors"`
	// A ratio below ClearLow or above ClearHigh is a clear signal and adds
	// confidence.
	Confidence struct {
		ClearLow  float64 `yaml:"clear_low" default:"1.5"`
		ClearHigh float64 `yaml:"clear_high" default:"6.0"`
	} `yaml:"confidence"`
	ExtremeFunding  float64 `yaml:"extreme_funding" default:"0.2" validate:"gt=0"`
	NegativeFunding float64 `yaml:"negative_funding" default:"-0.1"`
	ExtremeFear     int     `yaml:"extreme_fear" default:"20" validate:"gte=0,lte=100"`
	ExtremeGreed    int     `yaml:"extreme_greed" default:"80" validate:"gte=0,lte=100"`
}

type SourceConfig struct {
	Enabled   bool          `yaml:"enabled" default:"true"`
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout" default:"5s" validate:"gt=0,lte=5s"`
	TTL       time.Duration `yaml:"ttl" default:"5m" validate:"gt=0"`
	RateLimit float64       `yaml:"rate_limit" default:"1"`
	Burst     int           `yaml:"burst" default:"2"`
	Breaker   struct {
		MaxFailures uint32        `yaml:"max_failures" default:"3"`
		OpenFor     time.Duration `yaml:"open_for" default:"1m"`
	} `yaml:"breaker"`
}

type SourcesConfig struct {
	Assets        []string           `yaml:"assets" default:"[\"BTC\",\"ETH\"]" validate:"min=1"`
	DefaultPrices map[string]float64 `yaml:"default_prices" default:"{\"BTC\":98000,\"ETH\":3800}"`
	Prices        SourceConfig       `yaml:"prices"`
	Ratio         SourceConfig       `yaml:"ratio"`
	Sentiment     SourceConfig       `yaml:"sentiment"`
	Funding       SourceConfig       `yaml:"funding"`
}

type AdvisoryConfig struct {
	Provider  string        `yaml:"provider" default:"http" validate:"oneof=http anthropic"`
	URL       string        `yaml:"url" default:"http://localhost:8090/v1/review"`
	Timeout   time.Duration `yaml:"timeout" default:"30s" validate:"gt=0,lte=30s"`
	Anthropic struct {
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model" default:"claude-sonnet-4-5"`
		MaxTokens   int     `yaml:"max_tokens" default:"1024"`
		Temperature float64 `yaml:"temperature" default:"0.2"`
	} `yaml:"anthropic"`
}

// PositionSeed is a static holding used when no position table is configured.
type PositionSeed struct {
	Asset      string `yaml:"asset" validate:"required"`
	Bucket     string `yaml:"bucket" validate:"oneof=yield btc eth cash"`
	Protocol   string `yaml:"protocol"`
	Quantity   string `yaml:"quantity" validate:"required"`
	ValueUSD   string `yaml:"value_usd" validate:"required"`
	EntryPrice string `yaml:"entry_price"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, unmarshals YAML over them and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("GLASSNODE_API_KEY"); v != "" {
		c.Sources.Ratio.APIKey = v
	}
	if v := os.Getenv("COINGLASS_API_KEY"); v != "" {
		c.Sources.Funding.APIKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Advisory.Anthropic.APIKey = v
	}
	if v := os.Getenv("ADVISORY_URL"); v != "" {
		c.Advisory.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}

	return c, c.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	p := c.Thresholds.Phase
	if !(p.Accumulation < p.Euphoria && p.Euphoria < p.Top) {
		return fmt.Errorf("thresholds.phase must be strictly ascending: accumulation < euphoria < top")
	}
	t := c.Thresholds.Tiers
	if !(t.DeepBear < t.Sell25 && t.Sell25 < t.Sell50 && t.Sell50 < t.Sell67 && t.Sell67 < t.ExitAll) {
		return fmt.Errorf("thresholds.tiers must be strictly ascending: deep_bear < sell_25 < sell_50 < sell_67 < exit_all")
	}
	f := c.Thresholds.Floors
	if !(f.Sell67 < f.Sell50 && f.Sell50 < f.Sell25) {
		return fmt.Errorf("thresholds.floors must shrink as the tier rises")
	}
	if cf := c.Thresholds.Confidence; cf.ClearLow >= cf.ClearHigh {
		return fmt.Errorf("thresholds.confidence.clear_low must be below clear_high")
	}
	if c.Thresholds.ExtremeFear >= c.Thresholds.ExtremeGreed {
		return fmt.Errorf("thresholds.extreme_fear must be below extreme_greed")
	}
	for _, a := range c.Sources.Assets {
		if _, ok := c.Sources.DefaultPrices[a]; !ok {
			return fmt.Errorf("sources.default_prices missing asset %q", a)
		}
	}
	if c.Advisory.Provider == "anthropic" && c.Advisory.Anthropic.APIKey == "" {
		return fmt.Errorf("advisory.anthropic.api_key is required for the anthropic provider")
	}
	if c.Journal.Publish && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when journal.publish is set")
	}
	if c.Log.Collector && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when log.collector is set")
	}
	if c.Finnhub.Enabled && c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required when finnhub is enabled")
	}
	return nil
}

// StageBudget is the worst-case sum of stage timeouts for one cycle.
func (c *Config) StageBudget() time.Duration {
	src := c.Sources.Prices.Timeout
	for _, s := range []SourceConfig{c.Sources.Ratio, c.Sources.Sentiment, c.Sources.Funding} {
		if s.Timeout > src {
			src = s.Timeout
		}
	}
	fetch := src
	if c.Engine.PositionTimeout > fetch {
		fetch = c.Engine.PositionTimeout
	}
	return fetch + c.Advisory.Timeout + 2*c.Engine.JournalTimeout
}
