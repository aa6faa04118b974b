package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the reporting dashboard server
type Config struct {
	Upstreams     UpstreamsConfig     `mapstructure:"upstreams"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Stats         StatsConfig         `mapstructure:"stats"`
	Stream        StreamConfig        `mapstructure:"stream"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// UpstreamsConfig holds configuration for all upstream marketing platforms
type UpstreamsConfig struct {
	Mailblast  PlatformConfig `mapstructure:"mailblast"`
	Prospectly PlatformConfig `mapstructure:"prospectly"`
}

// PlatformConfig holds one upstream platform's connection settings
type PlatformConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	APIKey    string          `mapstructure:"api_key"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	PageSize  int             `mapstructure:"page_size"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// RetryConfig holds upstream retry settings
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// CacheConfig holds report caching configuration
type CacheConfig struct {
	L1MaxSize int           `mapstructure:"l1_max_size"`
	L2TTL     time.Duration `mapstructure:"l2_ttl"`
	ReportTTL time.Duration `mapstructure:"report_ttl"`
}

// StatsConfig holds the background stats warmer settings
type StatsConfig struct {
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	MinRefreshInterval time.Duration `mapstructure:"min_refresh_interval"`
	Workers            int           `mapstructure:"workers"`
	InterCallDelay     time.Duration `mapstructure:"inter_call_delay"`
}

// StreamConfig holds the filtered stream page cache settings
type StreamConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	MaxPagesPerScan int           `mapstructure:"max_pages_per_scan"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig holds AWS service configuration for alerting
type AWSConfig struct {
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Mailblast defaults
	v.SetDefault("upstreams.mailblast.base_url", "https://api.mailblast.io")
	v.SetDefault("upstreams.mailblast.timeout", "15s")
	v.SetDefault("upstreams.mailblast.page_size", 100)
	v.SetDefault("upstreams.mailblast.rate_limit.requests_per_minute", 120)
	v.SetDefault("upstreams.mailblast.rate_limit.burst", 10)
	v.SetDefault("upstreams.mailblast.retry.max_attempts", 3)
	v.SetDefault("upstreams.mailblast.retry.base_delay", "500ms")

	// Prospectly defaults
	v.SetDefault("upstreams.prospectly.base_url", "https://api.prospectly.co")
	v.SetDefault("upstreams.prospectly.timeout", "15s")
	v.SetDefault("upstreams.prospectly.page_size", 50)
	v.SetDefault("upstreams.prospectly.rate_limit.requests_per_minute", 60)
	v.SetDefault("upstreams.prospectly.rate_limit.burst", 5)
	v.SetDefault("upstreams.prospectly.retry.max_attempts", 3)
	v.SetDefault("upstreams.prospectly.retry.base_delay", "1s")

	// Cache defaults
	v.SetDefault("cache.l1_max_size", 1000)
	v.SetDefault("cache.l2_ttl", "5m")
	v.SetDefault("cache.report_ttl", "2m")

	// Stats warmer defaults
	v.SetDefault("stats.staleness_threshold", "10m")
	v.SetDefault("stats.min_refresh_interval", "1m")
	v.SetDefault("stats.workers", 2)
	v.SetDefault("stats.inter_call_delay", "500ms")

	// Stream defaults
	v.SetDefault("stream.ttl", "5m")
	v.SetDefault("stream.max_pages_per_scan", 10)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// AWS defaults (alerting disabled unless a topic is configured)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	for name, p := range map[string]PlatformConfig{
		"mailblast":  c.Upstreams.Mailblast,
		"prospectly": c.Upstreams.Prospectly,
	} {
		if p.BaseURL == "" {
			return fmt.Errorf("%s base URL is required", name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
		if p.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("%s rate limit must be positive", name)
		}
	}

	if c.Cache.ReportTTL <= 0 {
		return fmt.Errorf("report TTL must be positive")
	}

	if c.Stats.Workers <= 0 {
		return fmt.Errorf("stats workers must be positive")
	}
	if c.Stats.MinRefreshInterval > c.Stats.StalenessThreshold {
		return fmt.Errorf("min refresh interval must not exceed staleness threshold")
	}

	if c.Stream.MaxPagesPerScan <= 0 {
		return fmt.Errorf("stream max pages per scan must be positive")
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
