// Package config loads and validates the AsyncHTTP Dispatcher's
// Configuration record (spec.md §3), adapted from the teacher's
// internal/config.Load: viper-backed YAML + environment overrides with
// a defaults table and a cross-field Validate pass.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the plain record of recognized options from spec.md §3.
type Config struct {
	MaxConnections        int           `mapstructure:"max_connections"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"`
	MaxResponseSize       int64         `mapstructure:"max_response_size"`
	UserAgent             string        `mapstructure:"user_agent"`
	RaiseErrorResponses   bool          `mapstructure:"raise_error_responses"`
	MaxRedirects          int           `mapstructure:"max_redirects"`
	ConnectionPoolSize    int           `mapstructure:"connection_pool_size"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout"`
	ProxyURL              string        `mapstructure:"proxy_url"`
	Retries               int           `mapstructure:"retries"`
	PayloadStoreThreshold int64         `mapstructure:"payload_store_threshold"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	OrphanThreshold       time.Duration `mapstructure:"orphan_threshold"`
	LogLevel              string        `mapstructure:"log_level"`

	// RateLimitPerHost is a domain-stack enrichment beyond spec.md §4.4's
	// bare LRU bound: an optional per-pooled-client token-bucket limit
	// (requests/sec, 0 disables it).
	RateLimitPerHost float64 `mapstructure:"rate_limit_per_host"`

	Redis         Redis         `mapstructure:"redis"`
	Observability Observability `mapstructure:"observability"`
	BlobStore     BlobStore     `mapstructure:"blob_store"`
}

// BlobStore selects and configures the PayloadStore backend used to
// externalize response bodies over payload_store_threshold (spec.md
// §4.5). Kind defaults to "filesystem"; "redis" reuses the Redis
// collaborator already configured above, "sql" and "s3" carry their
// own connection settings.
type BlobStore struct {
	Kind string `mapstructure:"kind"` // filesystem | redis | sql | s3

	Dir string `mapstructure:"dir"` // filesystem

	RedisPrefix string        `mapstructure:"redis_prefix"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl"`

	SQL BlobStoreSQL `mapstructure:"sql"`
	S3  BlobStoreS3  `mapstructure:"s3"`
}

// BlobStoreSQL configures SQLStore. Driver selects both the
// database/sql driver name to open and the placeholder dialect
// ("postgres" uses $1-style, "sqlite" uses ?-style).
type BlobStoreSQL struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// BlobStoreS3 configures S3Store.
type BlobStoreS3 struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

// Redis configures the KV collaborator's production backing store.
type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// TracingConfig gates the optional otel span wiring described in
// SPEC_FULL.md §B.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Observability configures the metrics/tracing ambient stack.
type Observability struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

func defaultConfig() *Config {
	return &Config{
		MaxConnections:        50,
		RequestTimeout:        30 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		MaxResponseSize:       10 * 1024 * 1024,
		RaiseErrorResponses:   false,
		MaxRedirects:          5,
		ConnectionPoolSize:    100,
		ConnectionTimeout:     5 * time.Second,
		Retries:               0,
		PayloadStoreThreshold: 64 * 1024,
		HeartbeatInterval:     5 * time.Second,
		OrphanThreshold:       30 * time.Second,
		LogLevel:              "info",
		RateLimitPerHost:      0,
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false, SampleRate: 0.1},
		},
		BlobStore: BlobStore{
			Kind:        "filesystem",
			Dir:         "data/payloads",
			RedisPrefix: "async_http:blobs",
			SQL:         BlobStoreSQL{Driver: "sqlite", Table: "payload_blobs"},
		},
	}
}

// Load reads configuration from a YAML file plus environment overrides,
// falling back to defaults for anything unset, exactly as the teacher's
// config.Load does.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("max_response_size", def.MaxResponseSize)
	v.SetDefault("user_agent", def.UserAgent)
	v.SetDefault("raise_error_responses", def.RaiseErrorResponses)
	v.SetDefault("max_redirects", def.MaxRedirects)
	v.SetDefault("connection_pool_size", def.ConnectionPoolSize)
	v.SetDefault("connection_timeout", def.ConnectionTimeout)
	v.SetDefault("proxy_url", def.ProxyURL)
	v.SetDefault("retries", def.Retries)
	v.SetDefault("payload_store_threshold", def.PayloadStoreThreshold)
	v.SetDefault("heartbeat_interval", def.HeartbeatInterval)
	v.SetDefault("orphan_threshold", def.OrphanThreshold)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("rate_limit_per_host", def.RateLimitPerHost)

	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.sample_rate", def.Observability.Tracing.SampleRate)

	v.SetDefault("blob_store.kind", def.BlobStore.Kind)
	v.SetDefault("blob_store.dir", def.BlobStore.Dir)
	v.SetDefault("blob_store.redis_prefix", def.BlobStore.RedisPrefix)
	v.SetDefault("blob_store.redis_ttl", def.BlobStore.RedisTTL)
	v.SetDefault("blob_store.sql.driver", def.BlobStore.SQL.Driver)
	v.SetDefault("blob_store.sql.table", def.BlobStore.SQL.Table)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the cross-field invariants from spec.md §3.
func Validate(cfg *Config) error {
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if cfg.MaxResponseSize <= 0 {
		return fmt.Errorf("max_response_size must be positive")
	}
	if cfg.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must be non-negative")
	}
	if cfg.ConnectionPoolSize <= 0 {
		return fmt.Errorf("connection_pool_size must be positive")
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("retries must be non-negative")
	}
	if cfg.PayloadStoreThreshold <= 0 {
		return fmt.Errorf("payload_store_threshold must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if cfg.OrphanThreshold <= 0 {
		return fmt.Errorf("orphan_threshold must be positive")
	}
	if cfg.HeartbeatInterval >= cfg.OrphanThreshold {
		return fmt.Errorf("heartbeat_interval must be less than orphan_threshold")
	}
	if cfg.ProxyURL != "" && !strings.HasPrefix(cfg.ProxyURL, "http://") && !strings.HasPrefix(cfg.ProxyURL, "https://") {
		return fmt.Errorf("proxy_url must be an http(s) URL")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	switch cfg.BlobStore.Kind {
	case "filesystem", "redis", "sql", "s3":
	default:
		return fmt.Errorf("blob_store.kind must be one of filesystem, redis, sql, s3")
	}
	if cfg.BlobStore.Kind == "sql" {
		switch cfg.BlobStore.SQL.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("blob_store.sql.driver must be postgres or sqlite")
		}
	}
	return nil
}

// InflightTTL is the KV TTL for inflight index/job entries: 3x
// orphan_threshold, floored at 1 hour (spec.md §3).
func (c *Config) InflightTTL() time.Duration {
	ttl := 3 * c.OrphanThreshold
	if ttl < time.Hour {
		return time.Hour
	}
	return ttl
}

// GCLockTTL is the KV TTL for the distributed GC lock: 2x
// heartbeat_interval, floored at 2 minutes (spec.md §3).
func (c *Config) GCLockTTL() time.Duration {
	ttl := 2 * c.HeartbeatInterval
	if ttl < 2*time.Minute {
		return 2 * time.Minute
	}
	return ttl
}
