// Package config loads service configuration from an optional YAML file,
// a .env file and HOTELPROXY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/fetch"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/hotels"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/logging"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/ratelimit"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/upstream"
)

// EnvPrefix is prepended to every environment override, e.g.
// HOTELPROXY_REDIS_HOST for redis.host.
const EnvPrefix = "HOTELPROXY"

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Store     StoreConfig      `mapstructure:"store"`
	Upstream  UpstreamConfig   `mapstructure:"upstream"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Freshness hotels.Freshness `mapstructure:"freshness"`
	Aggregate AggregateConfig  `mapstructure:"aggregate"`
	Logging   logging.Config   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type StoreConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver string `mapstructure:"driver"`

	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn"`

	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests    uint32        `mapstructure:"half_open_requests"`
}

type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Host              string        `mapstructure:"host"`
	APIKey            string        `mapstructure:"api_key"`
	KeyHeader         string        `mapstructure:"key_header"`
	HostHeader        string        `mapstructure:"host_header"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

type RateLimitConfig struct {
	Key         string        `mapstructure:"key"`
	MaxRequests int64         `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

type CacheConfig struct {
	FlushOnStart       bool `mapstructure:"flush_on_start"`
	PromoteDurableHits bool `mapstructure:"promote_durable_hits"`
	Coalesce           bool `mapstructure:"coalesce"`
}

type AggregateConfig struct {
	Locales        []string      `mapstructure:"locales"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 3*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "hotel-proxy.db")

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.host", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.key_header", upstream.DefaultKeyHeader)
	v.SetDefault("upstream.host_header", upstream.DefaultHostHeader)
	v.SetDefault("upstream.timeout", upstream.DefaultTimeout)
	v.SetDefault("upstream.requests_per_second", 0)
	v.SetDefault("upstream.burst", 1)
	v.SetDefault("upstream.breaker.consecutive_failures", 5)
	v.SetDefault("upstream.breaker.open_timeout", 30*time.Second)
	v.SetDefault("upstream.breaker.half_open_requests", 1)

	v.SetDefault("rate_limit.key", ratelimit.DefaultKey)
	v.SetDefault("rate_limit.max_requests", ratelimit.DefaultMaxRequests)
	v.SetDefault("rate_limit.window", ratelimit.DefaultWindow)
	v.SetDefault("rate_limit.backoff", ratelimit.DefaultBackoff)
	v.SetDefault("rate_limit.max_wait", 0)

	v.SetDefault("cache.flush_on_start", true)
	v.SetDefault("cache.promote_durable_hits", true)
	v.SetDefault("cache.coalesce", false)

	fresh := hotels.DefaultFreshness()
	v.SetDefault("freshness.photos", fresh.Photos)
	v.SetDefault("freshness.data", fresh.Data)
	v.SetDefault("freshness.reviews", fresh.Reviews)
	v.SetDefault("freshness.room_list", fresh.RoomList)

	agg := hotels.DefaultFanoutConfig()
	v.SetDefault("aggregate.locales", agg.Locales)
	v.SetDefault("aggregate.max_concurrency", agg.MaxConcurrency)
	v.SetDefault("aggregate.cache_ttl", agg.CacheTTL)

	v.SetDefault("logging.level", string(logging.LevelInfo))
	v.SetDefault("logging.pretty", false)
	v.SetDefault("logging.service", "hotel-proxy")
}

// Load reads configuration. path names an optional YAML file; an empty path
// looks for config.yaml in the working directory. A missing file is not an
// error, every value has a default or an environment override.
func Load(path string) (*Config, error) {
	_ = gotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Variable names used by earlier deployments.
	_ = v.BindEnv("upstream.api_key", EnvPrefix+"_UPSTREAM_API_KEY", "RAPIDAPI_KEY")
	_ = v.BindEnv("upstream.host", EnvPrefix+"_UPSTREAM_HOST", "RAPIDAPI_HOST")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	expandEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func expandEnvVars(cfg *Config) {
	cfg.Redis.Host = os.ExpandEnv(cfg.Redis.Host)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
	cfg.Store.Path = os.ExpandEnv(cfg.Store.Path)
	cfg.Upstream.BaseURL = os.ExpandEnv(cfg.Upstream.BaseURL)
	cfg.Upstream.Host = os.ExpandEnv(cfg.Upstream.Host)
	cfg.Upstream.APIKey = os.ExpandEnv(cfg.Upstream.APIKey)
}

// Validate checks required values and normalises the upstream base URL.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream API key is required")
	}
	if c.Upstream.BaseURL == "" {
		if c.Upstream.Host == "" {
			return fmt.Errorf("upstream base URL or host is required")
		}
		c.Upstream.BaseURL = c.Upstream.Host
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		c.Upstream.BaseURL = "https://" + c.Upstream.BaseURL
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive: %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.Window < ratelimit.MinWindow {
		return fmt.Errorf("rate_limit.window must be at least %v", ratelimit.MinWindow)
	}
	if c.RateLimit.MaxWait < 0 {
		return fmt.Errorf("rate_limit.max_wait must not be negative")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClientConfig converts the upstream section for upstream.New.
func (c *UpstreamConfig) ClientConfig(observer upstream.HeaderObserver) upstream.Config {
	return upstream.Config{
		BaseURL:           c.BaseURL,
		PathPrefix:        upstream.DefaultPathPrefix,
		Host:              c.Host,
		APIKey:            c.APIKey,
		KeyHeader:         c.KeyHeader,
		HostHeader:        c.HostHeader,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Breaker: upstream.BreakerConfig{
			ConsecutiveFailures: c.Breaker.ConsecutiveFailures,
			OpenTimeout:         c.Breaker.OpenTimeout,
			HalfOpenRequests:    c.Breaker.HalfOpenRequests,
		},
		Observer: observer,
	}
}

// LimiterConfig converts the rate limit section for ratelimit.NewLimiter.
func (c *RateLimitConfig) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{Backoff: c.Backoff, MaxWait: c.MaxWait}
}

// FetchOptions combines the rate limit and cache sections for fetch.New.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		RateLimitKey:       c.RateLimit.Key,
		MaxRequests:        c.RateLimit.MaxRequests,
		Window:             c.RateLimit.Window,
		PromoteDurableHits: c.Cache.PromoteDurableHits,
		Coalesce:           c.Cache.Coalesce,
	}
}

// FanoutConfig converts the aggregate section for hotels.NewAggregator.
func (c *AggregateConfig) FanoutConfig() hotels.FanoutConfig {
	return hotels.FanoutConfig{
		MaxConcurrency: c.MaxConcurrency,
		Locales:        c.Locales,
		CacheTTL:       c.CacheTTL,
	}
}
