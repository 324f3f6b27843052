// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the crawl orchestrators.
type CrawlerConfig struct {
	Concurrency     int      `mapstructure:"concurrency"`
	MaxDepthDefault int      `mapstructure:"max_depth_default"`
	UserAgent       string   `mapstructure:"user_agent"`
	UserAgents      []string `mapstructure:"user_agents"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
}

// RateLimitConfig governs per-host and per-proxy-IP request pacing.
type RateLimitConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	MaxPerMinuteHost int  `mapstructure:"max_per_minute_per_host"`
	MinDelayMs       int  `mapstructure:"min_delay_ms_per_host"`
	MaxRandomDelayMs int  `mapstructure:"max_random_delay_ms_per_host"`
	MaxPerMinuteIP   int  `mapstructure:"max_per_minute_per_ip"`
	HostBackoffSec   int  `mapstructure:"host_backoff_seconds"`
	IPBackoffSec     int  `mapstructure:"ip_backoff_seconds"`
}

// ProxyConfig lists the proxy pool and the assignment strategy.
type ProxyConfig struct {
	Proxies  []string `mapstructure:"proxies"`
	Strategy string   `mapstructure:"strategy"`
}

// CheckpointConfig controls crash-safe job state persistence.
type CheckpointConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	SaveEvery int    `mapstructure:"save_every"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MaxParallel   int     `mapstructure:"max_parallel"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	RenderQPS     float64 `mapstructure:"render_qps"`
}

// FilterConfig holds the global link filter rules. Job options can add
// exclude patterns and keywords on top.
type FilterConfig struct {
	ExcludePatterns   []string `mapstructure:"exclude_patterns"`
	BlockedExtensions []string `mapstructure:"blocked_extensions"`
	Keywords          []string `mapstructure:"keywords"`
}

// StorageConfig selects and parameterizes the blob store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // "local", "gcs", or "" to disable
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls the optional Postgres page store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and sets the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.user_agent", "bulk-harvester/0.1")
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max_per_minute_per_host", 20)
	v.SetDefault("rate_limit.min_delay_ms_per_host", 1000)
	v.SetDefault("rate_limit.max_random_delay_ms_per_host", 500)
	v.SetDefault("rate_limit.max_per_minute_per_ip", 0)
	v.SetDefault("rate_limit.host_backoff_seconds", 60)
	v.SetDefault("rate_limit.ip_backoff_seconds", 120)
	v.SetDefault("proxy.strategy", "sticky_by_host")
	v.SetDefault("checkpoint.enabled", true)
	v.SetDefault("checkpoint.dir", ".harvester/checkpoints")
	v.SetDefault("checkpoint.save_every", 10)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.render_qps", 0)
	v.SetDefault("filter.blocked_extensions", []string{
		".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico",
		".css", ".js", ".zip", ".gz", ".exe", ".dmg",
	})
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", ".harvester/artifacts")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxPerMinuteHost <= 0 {
			return fmt.Errorf("rate_limit.max_per_minute_per_host must be > 0 when rate limiting is enabled")
		}
		if c.RateLimit.MinDelayMs < 0 || c.RateLimit.MaxRandomDelayMs < 0 {
			return fmt.Errorf("rate_limit delays must be >= 0")
		}
	}
	switch c.Proxy.Strategy {
	case "", "sticky_by_host", "sequential":
	default:
		return fmt.Errorf("proxy.strategy must be sticky_by_host or sequential")
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Dir == "" {
		return fmt.Errorf("checkpoint.dir must be set when checkpointing is enabled")
	}
	if c.Checkpoint.SaveEvery < 0 {
		return fmt.Errorf("checkpoint.save_every must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Provider {
	case "", "local", "gcs":
	default:
		return fmt.Errorf("storage.provider must be local, gcs, or empty")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
	}
	if c.Storage.Provider == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set for the local provider")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	return nil
}

// RequestTimeout converts the configured fetch timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// NavTimeout converts the configured navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
