// Package config parses and hot-reloads the YAML configuration covering
// every field spec.md §6 lists under "Configuration recognised": cache
// tier sizing and TTLs, bloom filter geometry, the remote client and
// breaker knobs, code generator shard bits, analytics flush policy, and
// the list of remote endpoints.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete, validated configuration for one shortenly/core
// instance.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Codegen   CodegenConfig   `yaml:"codegen"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	// DatabaseURLs lists the remote KV endpoints speaking the Redis wire
	// protocol, spec.md §6 "database_urls".
	DatabaseURLs []string `yaml:"database_urls"`
	// ColdStorePath is the optional embedded cold tier's file path. Empty
	// disables the cold tier.
	ColdStorePath string `yaml:"cold_store_path"`
}

// CacheConfig covers spec.md §6's "cache.*" fields: tier sizing, TTL,
// bloom filter geometry, remote client tuning, and breaker tripping.
type CacheConfig struct {
	L1Capacity int `yaml:"l1_capacity"`
	L2Capacity int `yaml:"l2_capacity"`
	TTLSeconds int `yaml:"ttl_seconds"`

	BloomBits      int `yaml:"bloom_bits"`
	BloomExpected  int `yaml:"bloom_expected"`
	BloomShards    int `yaml:"bloom_shards"`
	BloomBlockSize int `yaml:"bloom_block_size"`

	RedisPoolSize               int `yaml:"redis_pool_size"`
	RedisCommandTimeoutSecs     int `yaml:"redis_command_timeout_secs"`
	RedisConnectionTimeoutMs    int `yaml:"redis_connection_timeout_ms"`
	RedisMaxCommandAttempts     int `yaml:"redis_max_command_attempts"`
	RedisReconnectMaxAttempts   int `yaml:"redis_reconnect_max_attempts"`
	RedisReconnectDelayMs       int `yaml:"redis_reconnect_delay_ms"`
	RedisReconnectMaxDelayMs    int `yaml:"redis_reconnect_max_delay_ms"`

	MaxFailures       int `yaml:"max_failures"`
	RetryIntervalSecs int `yaml:"retry_interval_secs"`
}

// CodegenConfig covers spec.md §6's "codegen.*" fields.
type CodegenConfig struct {
	ShardBits   int `yaml:"shard_bits"`
	MaxAttempts int `yaml:"max_attempts"`
}

// AnalyticsConfig covers spec.md §6's "analytics.*" fields.
type AnalyticsConfig struct {
	FlushIntervalMs int `yaml:"flush_interval_ms"`
	BatchSize       int `yaml:"batch_size"`
	MaxBatchSizeMs  int `yaml:"max_batch_size_ms"`
	MaxBatchSize    int `yaml:"max_batch_size"`
}

// DefaultConfig returns a Config with every field set to a usable default,
// the zero-value defaulting convention internal/tier/cache.go's New()
// uses for Options, mirrored here at the config layer.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			L1Capacity: 10_000,
			L2Capacity: 100_000,
			TTLSeconds: 86400,

			BloomBits:      1 << 24,
			BloomExpected:  1_000_000,
			BloomShards:    16,
			BloomBlockSize: 64,

			RedisPoolSize:             16,
			RedisCommandTimeoutSecs:   2,
			RedisConnectionTimeoutMs:  500,
			RedisMaxCommandAttempts:   3,
			RedisReconnectMaxAttempts: 5,
			RedisReconnectDelayMs:     100,
			RedisReconnectMaxDelayMs:  5000,

			MaxFailures:       5,
			RetryIntervalSecs: 30,
		},
		Codegen: CodegenConfig{
			ShardBits:   6,
			MaxAttempts: 10,
		},
		Analytics: AnalyticsConfig{
			FlushIntervalMs: 1000,
			BatchSize:       256,
			MaxBatchSizeMs:  5000,
			MaxBatchSize:    4096,
		},
	}
}

// withDefaults fills any zero-valued field left after YAML unmarshaling
// with DefaultConfig's value, so a config file only needs to name the
// fields it overrides.
func (c *Config) withDefaults() {
	d := DefaultConfig()

	if c.Cache.L1Capacity == 0 {
		c.Cache.L1Capacity = d.Cache.L1Capacity
	}
	if c.Cache.L2Capacity == 0 {
		c.Cache.L2Capacity = d.Cache.L2Capacity
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = d.Cache.TTLSeconds
	}
	if c.Cache.BloomBits == 0 {
		c.Cache.BloomBits = d.Cache.BloomBits
	}
	if c.Cache.BloomExpected == 0 {
		c.Cache.BloomExpected = d.Cache.BloomExpected
	}
	if c.Cache.BloomShards == 0 {
		c.Cache.BloomShards = d.Cache.BloomShards
	}
	if c.Cache.BloomBlockSize == 0 {
		c.Cache.BloomBlockSize = d.Cache.BloomBlockSize
	}
	if c.Cache.RedisPoolSize == 0 {
		c.Cache.RedisPoolSize = d.Cache.RedisPoolSize
	}
	if c.Cache.RedisCommandTimeoutSecs == 0 {
		c.Cache.RedisCommandTimeoutSecs = d.Cache.RedisCommandTimeoutSecs
	}
	if c.Cache.RedisConnectionTimeoutMs == 0 {
		c.Cache.RedisConnectionTimeoutMs = d.Cache.RedisConnectionTimeoutMs
	}
	if c.Cache.RedisMaxCommandAttempts == 0 {
		c.Cache.RedisMaxCommandAttempts = d.Cache.RedisMaxCommandAttempts
	}
	if c.Cache.RedisReconnectMaxAttempts == 0 {
		c.Cache.RedisReconnectMaxAttempts = d.Cache.RedisReconnectMaxAttempts
	}
	if c.Cache.RedisReconnectDelayMs == 0 {
		c.Cache.RedisReconnectDelayMs = d.Cache.RedisReconnectDelayMs
	}
	if c.Cache.RedisReconnectMaxDelayMs == 0 {
		c.Cache.RedisReconnectMaxDelayMs = d.Cache.RedisReconnectMaxDelayMs
	}
	if c.Cache.MaxFailures == 0 {
		c.Cache.MaxFailures = d.Cache.MaxFailures
	}
	if c.Cache.RetryIntervalSecs == 0 {
		c.Cache.RetryIntervalSecs = d.Cache.RetryIntervalSecs
	}
	if c.Codegen.ShardBits == 0 {
		c.Codegen.ShardBits = d.Codegen.ShardBits
	}
	if c.Codegen.MaxAttempts == 0 {
		c.Codegen.MaxAttempts = d.Codegen.MaxAttempts
	}
	if c.Analytics.FlushIntervalMs == 0 {
		c.Analytics.FlushIntervalMs = d.Analytics.FlushIntervalMs
	}
	if c.Analytics.BatchSize == 0 {
		c.Analytics.BatchSize = d.Analytics.BatchSize
	}
	if c.Analytics.MaxBatchSizeMs == 0 {
		c.Analytics.MaxBatchSizeMs = d.Analytics.MaxBatchSizeMs
	}
	if c.Analytics.MaxBatchSize == 0 {
		c.Analytics.MaxBatchSize = d.Analytics.MaxBatchSize
	}
}

// Validate checks field-level invariants that withDefaults cannot paper
// over (a caller that names a negative capacity meant something by it).
func (c *Config) Validate() error {
	if c.Cache.L1Capacity < 0 || c.Cache.L2Capacity < 0 {
		return fmt.Errorf("config: cache capacities must be non-negative")
	}
	if c.Cache.MaxFailures <= 0 {
		return fmt.Errorf("config: cache.max_failures must be positive")
	}
	if c.Codegen.ShardBits <= 0 || c.Codegen.ShardBits > 32 {
		return fmt.Errorf("config: codegen.shard_bits must be in (0,32]")
	}
	if len(c.DatabaseURLs) == 0 {
		return fmt.Errorf("config: database_urls must name at least one endpoint")
	}
	return nil
}

// TTL returns cache.ttl_seconds as a time.Duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RetryInterval returns cache.retry_interval_secs as a time.Duration.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Cache.RetryIntervalSecs) * time.Second
}

// FlushInterval returns analytics.flush_interval_ms as a time.Duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Analytics.FlushIntervalMs) * time.Millisecond
}

// LoadFromFile reads and parses path as YAML, expanding ${VAR_NAME}
// references against the process environment, applying defaults for any
// field left unset, and validating the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return cfg, nil
}
