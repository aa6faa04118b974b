package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	platform := PlatformConfig{
		BaseURL: "https://api.example.com",
		Timeout: 15 * time.Second,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			Burst:             5,
		},
	}

	return Config{
		Upstreams: UpstreamsConfig{
			Mailblast:  platform,
			Prospectly: platform,
		},
		Cache: CacheConfig{
			L1MaxSize: 100,
			L2TTL:     5 * time.Minute,
			ReportTTL: 2 * time.Minute,
		},
		Stats: StatsConfig{
			StalenessThreshold: 10 * time.Minute,
			MinRefreshInterval: time.Minute,
			Workers:            2,
			InterCallDelay:     500 * time.Millisecond,
		},
		Stream: StreamConfig{
			TTL:             5 * time.Minute,
			MaxPagesPerScan: 10,
		},
		Redis: RedisConfig{Address: "localhost:6379"},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "json"},
		},
	}
}

func TestConfig_Validate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing mailblast base URL", func(c *Config) { c.Upstreams.Mailblast.BaseURL = "" }},
		{"missing prospectly base URL", func(c *Config) { c.Upstreams.Prospectly.BaseURL = "" }},
		{"zero upstream timeout", func(c *Config) { c.Upstreams.Mailblast.Timeout = 0 }},
		{"zero rate limit", func(c *Config) { c.Upstreams.Prospectly.RateLimit.RequestsPerMinute = 0 }},
		{"zero report TTL", func(c *Config) { c.Cache.ReportTTL = 0 }},
		{"zero stats workers", func(c *Config) { c.Stats.Workers = 0 }},
		{"debounce above staleness", func(c *Config) { c.Stats.MinRefreshInterval = time.Hour }},
		{"zero stream page cap", func(c *Config) { c.Stream.MaxPagesPerScan = 0 }},
		{"missing redis address", func(c *Config) { c.Redis.Address = "" }},
		{"bad log level", func(c *Config) { c.Observability.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Observability.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}
