package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shortlinklabs/redirect-core/internal/logging"
)

// Duration wraps time.Duration so YAML can express values either as Go
// duration strings ("5m") or as bare integer seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		return nil
	}
	if value.Tag == "!!int" {
		seconds, err := strconv.Atoi(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration integer %q: %w", value.Value, err)
		}
		d.Duration = time.Duration(seconds) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the full configuration for the redirect core.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Store       StoreConfig       `yaml:"store"`
	LocalCache  LocalCacheConfig  `yaml:"local_cache"`
	SharedCache SharedCacheConfig `yaml:"shared_cache"`
	Clicks      ClicksConfig      `yaml:"clicks"`
	Counters    CountersConfig    `yaml:"counters"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Warmer      WarmerConfig      `yaml:"warmer"`
	Privacy     PrivacyConfig     `yaml:"privacy"`
	Logging     logging.Config    `yaml:"logging"`
}

type ServerConfig struct {
	Listen        string `yaml:"listen"`         // redirect handler address
	MetricsListen string `yaml:"metrics_listen"` // prometheus scrape address, empty disables
}

type RedisConfig struct {
	Address  string `yaml:"address"` // empty disables L2, counters degrade to no-ops
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LocalCacheConfig struct {
	MaxEntries int      `yaml:"max_entries"`
	TTL        Duration `yaml:"ttl"`
}

type SharedCacheConfig struct {
	TTL                 Duration `yaml:"ttl"`
	InvalidationChannel string   `yaml:"invalidation_channel"`
}

type ClicksConfig struct {
	BufferSize    int      `yaml:"buffer_size"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

type CountersConfig struct {
	MinuteTTL Duration `yaml:"minute_ttl"` // per-minute bucket retention
	DailyTTL  Duration `yaml:"daily_ttl"`  // visitor sets and breakdown hashes
}

type AggregationConfig struct {
	// Hour and Minute are pre-filled with -1 so an explicit 00:00 run time is
	// distinguishable from unset.
	Hour         int `yaml:"hour"`   // daily run hour, UTC
	Minute       int `yaml:"minute"` // daily run minute
	BackfillDays int `yaml:"backfill_days"`
}

type WarmerConfig struct {
	Interval  Duration `yaml:"interval"`
	TopN      int      `yaml:"top_n"`
	Lookback  Duration `yaml:"lookback"`
	FetchRate float64  `yaml:"fetch_rate"` // store fetches per second during a warm pass
}

type PrivacyConfig struct {
	IPHashSalt    string `yaml:"ip_hash_salt"`
	AnonymizeMode string `yaml:"anonymize_mode"` // none, hash, truncate
}

// newConfig returns a config with sentinel pre-fills in place, ready for
// unmarshalling or defaulting.
func newConfig() *Config {
	return &Config{
		Aggregation: AggregationConfig{Hour: -1, Minute: -1},
	}
}

// Load reads and validates a YAML config file, applying defaults for any
// value left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, for embedding the core
// as a library without a config file.
func Default() *Config {
	cfg := newConfig()
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.LocalCache.MaxEntries <= 0 {
		c.LocalCache.MaxEntries = 10000
	}
	if c.LocalCache.TTL.Duration <= 0 {
		c.LocalCache.TTL.Duration = 5 * time.Minute
	}
	if c.SharedCache.TTL.Duration <= 0 {
		c.SharedCache.TTL.Duration = time.Hour
	}
	if c.SharedCache.InvalidationChannel == "" {
		c.SharedCache.InvalidationChannel = "cache:invalidate"
	}
	if c.Clicks.BufferSize <= 0 {
		c.Clicks.BufferSize = 10000
	}
	if c.Clicks.BatchSize <= 0 {
		c.Clicks.BatchSize = 100
	}
	if c.Clicks.FlushInterval.Duration <= 0 {
		c.Clicks.FlushInterval.Duration = 250 * time.Millisecond
	}
	if c.Counters.MinuteTTL.Duration <= 0 {
		c.Counters.MinuteTTL.Duration = 24 * time.Hour
	}
	if c.Counters.DailyTTL.Duration <= 0 {
		c.Counters.DailyTTL.Duration = 7 * 24 * time.Hour
	}
	if c.Aggregation.Hour < 0 {
		c.Aggregation.Hour = 2
	}
	if c.Aggregation.Minute < 0 {
		c.Aggregation.Minute = 0
	}
	if c.Aggregation.BackfillDays <= 0 {
		c.Aggregation.BackfillDays = 7
	}
	if c.Warmer.Interval.Duration <= 0 {
		c.Warmer.Interval.Duration = 15 * time.Minute
	}
	if c.Warmer.TopN <= 0 {
		c.Warmer.TopN = 1000
	}
	if c.Warmer.Lookback.Duration <= 0 {
		c.Warmer.Lookback.Duration = 24 * time.Hour
	}
	if c.Warmer.FetchRate <= 0 {
		c.Warmer.FetchRate = 200
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Privacy.AnonymizeMode == "" {
		c.Privacy.AnonymizeMode = "hash"
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Aggregation.Hour < 0 || c.Aggregation.Hour > 23 {
		return fmt.Errorf("aggregation hour %d out of range 0-23", c.Aggregation.Hour)
	}
	if c.Aggregation.Minute < 0 || c.Aggregation.Minute > 59 {
		return fmt.Errorf("aggregation minute %d out of range 0-59", c.Aggregation.Minute)
	}
	switch c.Privacy.AnonymizeMode {
	case "none", "hash", "truncate":
	default:
		return fmt.Errorf("unknown anonymize_mode %q", c.Privacy.AnonymizeMode)
	}
	if c.Store.DSN == "" && c.Store.Driver != "sqlite" {
		return fmt.Errorf("store dsn must be set for driver %q", c.Store.Driver)
	}
	return nil
}
