package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
redis:
  address: "localhost:6379"
local_cache:
  max_entries: 500
  ttl: 2m
shared_cache:
  ttl: 1800
clicks:
  buffer_size: 2000
  flush_interval: 100ms
aggregation:
  hour: 3
  minute: 30
privacy:
  ip_hash_salt: pepper
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Listen != ":9090" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.Redis.Address != "localhost:6379" {
		t.Errorf("Redis address = %q", cfg.Redis.Address)
	}
	if cfg.LocalCache.MaxEntries != 500 || cfg.LocalCache.TTL.Duration != 2*time.Minute {
		t.Errorf("local cache = %+v", cfg.LocalCache)
	}
	// Bare integers are seconds
	if cfg.SharedCache.TTL.Duration != 30*time.Minute {
		t.Errorf("shared TTL = %v, want 30m", cfg.SharedCache.TTL.Duration)
	}
	if cfg.Clicks.FlushInterval.Duration != 100*time.Millisecond {
		t.Errorf("flush interval = %v", cfg.Clicks.FlushInterval.Duration)
	}
	if cfg.Aggregation.Hour != 3 || cfg.Aggregation.Minute != 30 {
		t.Errorf("aggregation = %+v", cfg.Aggregation)
	}
	if cfg.Privacy.IPHashSalt != "pepper" {
		t.Errorf("salt = %q", cfg.Privacy.IPHashSalt)
	}

	// Unset values got defaults
	if cfg.Clicks.BatchSize != 100 {
		t.Errorf("batch size default = %d, want 100", cfg.Clicks.BatchSize)
	}
	if cfg.Warmer.TopN != 1000 || cfg.Warmer.Interval.Duration != 15*time.Minute {
		t.Errorf("warmer defaults = %+v", cfg.Warmer)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.LocalCache.MaxEntries != 10000 || cfg.LocalCache.TTL.Duration != 5*time.Minute {
		t.Errorf("local cache defaults = %+v", cfg.LocalCache)
	}
	if cfg.SharedCache.TTL.Duration != time.Hour {
		t.Errorf("shared TTL = %v", cfg.SharedCache.TTL.Duration)
	}
	if cfg.SharedCache.InvalidationChannel != "cache:invalidate" {
		t.Errorf("channel = %q", cfg.SharedCache.InvalidationChannel)
	}
	if cfg.Clicks.BufferSize != 10000 || cfg.Clicks.FlushInterval.Duration != 250*time.Millisecond {
		t.Errorf("clicks defaults = %+v", cfg.Clicks)
	}
	if cfg.Aggregation.Hour != 2 || cfg.Aggregation.BackfillDays != 7 {
		t.Errorf("aggregation defaults = %+v", cfg.Aggregation)
	}
	if cfg.Counters.DailyTTL.Duration != 7*24*time.Hour {
		t.Errorf("daily TTL = %v", cfg.Counters.DailyTTL.Duration)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store driver = %q", cfg.Store.Driver)
	}
}

func TestAggregationScheduleDefaults(t *testing.T) {
	// An explicit midnight schedule must survive defaulting
	path := writeConfig(t, "aggregation:\n  hour: 0\n  minute: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Aggregation.Hour != 0 || cfg.Aggregation.Minute != 0 {
		t.Errorf("explicit 00:00 became %02d:%02d", cfg.Aggregation.Hour, cfg.Aggregation.Minute)
	}

	// Unset schedule falls back to 02:00
	path = writeConfig(t, "server:\n  listen: ':8080'\n")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Aggregation.Hour != 2 || cfg.Aggregation.Minute != 0 {
		t.Errorf("default schedule = %02d:%02d, want 02:00", cfg.Aggregation.Hour, cfg.Aggregation.Minute)
	}

	// A minute alone keeps the default hour
	path = writeConfig(t, "aggregation:\n  minute: 30\n")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Aggregation.Hour != 2 || cfg.Aggregation.Minute != 30 {
		t.Errorf("schedule = %02d:%02d, want 02:30", cfg.Aggregation.Hour, cfg.Aggregation.Minute)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"hour out of range", func(c *Config) { c.Aggregation.Hour = 24 }},
		{"minute out of range", func(c *Config) { c.Aggregation.Minute = 60 }},
		{"bad anonymize mode", func(c *Config) { c.Privacy.AnonymizeMode = "scramble" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "local_cache:\n  ttl: soonish\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for bad duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
