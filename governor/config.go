package governor

import (
	"fmt"
	"time"

	"github.com/kbukum/govkit/config"
	goerrors "github.com/kbukum/govkit/errors"
	"github.com/kbukum/govkit/logger"
	"github.com/kbukum/govkit/validation"
)

// PoolSettings bounds concurrent admissions for one category.
type PoolSettings struct {
	// Capacity is the maximum number of concurrently admitted operations.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"required,min=1"`
	// RefillInterval restores one admission slot per interval. Zero
	// disables time-based refill, making the pool a strict semaphore.
	RefillInterval time.Duration `yaml:"refill_interval" mapstructure:"refill_interval" validate:"gte=0"`
	// AcquireTimeout bounds how long a queued request waits for a slot.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" mapstructure:"acquire_timeout" validate:"gt=0"`
}

// CacheSettings configures result caching for one category.
type CacheSettings struct {
	// Capacity is the maximum number of entries before batch eviction.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"required,min=1"`
	// BaseTTL is the starting lifetime of a cached result.
	BaseTTL time.Duration `yaml:"base_ttl" mapstructure:"base_ttl" validate:"gt=0"`
	// MinTTL is the lower bound for adaptively computed TTLs.
	MinTTL time.Duration `yaml:"min_ttl" mapstructure:"min_ttl" validate:"gt=0"`
	// MaxTTL is the upper bound for adaptively computed TTLs.
	MaxTTL time.Duration `yaml:"max_ttl" mapstructure:"max_ttl" validate:"gt=0"`
	// SweepInterval is how often expired entries are purged in the
	// background once the governor is started.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"gt=0"`
	// MaxKeyLen is the longest key stored verbatim; longer keys are
	// digested.
	MaxKeyLen int `yaml:"max_key_len" mapstructure:"max_key_len" validate:"min=1"`
}

// BreakerSettings configures the per-failure-category circuit breakers.
type BreakerSettings struct {
	// Threshold is the consecutive failure count that trips a circuit.
	Threshold int `yaml:"threshold" mapstructure:"threshold" validate:"required,min=1"`
	// Cooldown is how long a tripped circuit stays open before probing.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" validate:"gt=0"`
}

// ClientSettings configures the resilient client for one category.
type ClientSettings struct {
	// MaxInFlight is the number of concurrent calls executed immediately;
	// callers beyond it queue into the batch window.
	MaxInFlight int `yaml:"max_in_flight" mapstructure:"max_in_flight" validate:"required,min=1"`
	// BatchWindow is how often queued callers are admitted.
	BatchWindow time.Duration `yaml:"batch_window" mapstructure:"batch_window" validate:"gt=0"`
	// BatchMax is the most callers admitted per window tick.
	BatchMax int `yaml:"batch_max" mapstructure:"batch_max" validate:"min=1"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"min=1"`
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff" validate:"gt=0"`
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff" validate:"gt=0"`
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64 `yaml:"backoff_factor" mapstructure:"backoff_factor" validate:"gt=0"`
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
	// TimeoutFactor scales the p95 latency into a per-attempt timeout.
	TimeoutFactor float64 `yaml:"timeout_factor" mapstructure:"timeout_factor" validate:"gt=0"`
	// MinTimeout is the lower clamp for the adaptive per-attempt timeout.
	MinTimeout time.Duration `yaml:"min_timeout" mapstructure:"min_timeout" validate:"gt=0"`
	// MaxTimeout is the upper clamp for the adaptive per-attempt timeout.
	MaxTimeout time.Duration `yaml:"max_timeout" mapstructure:"max_timeout" validate:"gt=0"`
	// LatencyWindow is how many recent round trips feed the p95.
	LatencyWindow int `yaml:"latency_window" mapstructure:"latency_window" validate:"min=1"`
	// Breaker configures the circuit breakers guarding this category.
	Breaker BreakerSettings `yaml:"breaker" mapstructure:"breaker"`
}

// CategoryConfig is the full governance policy for one named dependency.
type CategoryConfig struct {
	// Pool bounds concurrency against the dependency.
	Pool PoolSettings `yaml:"pool" mapstructure:"pool"`
	// Cache enables result caching when set. Nil means no cache.
	Cache *CacheSettings `yaml:"cache,omitempty" mapstructure:"cache"`
	// Client configures retries, timeouts, batching, and breaking.
	Client ClientSettings `yaml:"client" mapstructure:"client"`
	// DefaultTimeout bounds a whole governed request, retries included,
	// unless the caller overrides it per request.
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout" validate:"gt=0"`
}

// Config is the governor's full configuration.
type Config struct {
	// Categories maps each governed dependency name to its policy.
	Categories map[string]CategoryConfig `yaml:"categories" mapstructure:"categories" validate:"required,dive"`
	// Logging configures the governor's logger.
	Logging logger.Config `yaml:"logging" mapstructure:"logging"`
}

// DefaultCategoryConfig returns the default policy for a category:
// no cache, pool and client defaults matching the primitives.
func DefaultCategoryConfig() CategoryConfig {
	return CategoryConfig{
		Pool: PoolSettings{
			Capacity:       5,
			RefillInterval: time.Second,
			AcquireTimeout: 30 * time.Second,
		},
		Client: ClientSettings{
			MaxInFlight:    10,
			BatchWindow:    100 * time.Millisecond,
			BatchMax:       5,
			MaxRetries:     3,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			BackoffFactor:  2.0,
			TimeoutFactor:  1.5,
			MinTimeout:     time.Second,
			MaxTimeout:     30 * time.Second,
			LatencyWindow:  50,
			Breaker: BreakerSettings{
				Threshold: 5,
				Cooldown:  30 * time.Second,
			},
		},
		DefaultTimeout: 30 * time.Second,
	}
}

// DefaultCacheSettings returns the default cache policy for categories
// that opt into caching.
func DefaultCacheSettings() CacheSettings {
	return CacheSettings{
		Capacity:      500,
		BaseTTL:       5 * time.Minute,
		MinTTL:        time.Minute,
		MaxTTL:        30 * time.Minute,
		SweepInterval: time.Minute,
		MaxKeyLen:     256,
	}
}

// ApplyDefaults fills unset fields. A zero pool refill interval is left
// alone: it selects strict-semaphore admission, not the default refill.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()
	if c.Logging.ServiceName == "" {
		c.Logging.ServiceName = "governor"
	}

	for name, cc := range c.Categories {
		cc.applyDefaults()
		c.Categories[name] = cc
	}
}

func (cc *CategoryConfig) applyDefaults() {
	def := DefaultCategoryConfig()

	if cc.Pool.Capacity == 0 {
		cc.Pool.Capacity = def.Pool.Capacity
	}
	if cc.Pool.AcquireTimeout == 0 {
		cc.Pool.AcquireTimeout = def.Pool.AcquireTimeout
	}

	if cc.Cache != nil {
		cacheDef := DefaultCacheSettings()
		if cc.Cache.Capacity == 0 {
			cc.Cache.Capacity = cacheDef.Capacity
		}
		if cc.Cache.BaseTTL == 0 {
			cc.Cache.BaseTTL = cacheDef.BaseTTL
		}
		if cc.Cache.MinTTL == 0 {
			cc.Cache.MinTTL = cacheDef.MinTTL
		}
		if cc.Cache.MaxTTL == 0 {
			cc.Cache.MaxTTL = cacheDef.MaxTTL
		}
		if cc.Cache.SweepInterval == 0 {
			cc.Cache.SweepInterval = cacheDef.SweepInterval
		}
		if cc.Cache.MaxKeyLen == 0 {
			cc.Cache.MaxKeyLen = cacheDef.MaxKeyLen
		}
	}

	if cc.Client.MaxInFlight == 0 {
		cc.Client.MaxInFlight = def.Client.MaxInFlight
	}
	if cc.Client.BatchWindow == 0 {
		cc.Client.BatchWindow = def.Client.BatchWindow
	}
	if cc.Client.BatchMax == 0 {
		cc.Client.BatchMax = def.Client.BatchMax
	}
	if cc.Client.MaxRetries == 0 {
		cc.Client.MaxRetries = def.Client.MaxRetries
	}
	if cc.Client.InitialBackoff == 0 {
		cc.Client.InitialBackoff = def.Client.InitialBackoff
	}
	if cc.Client.MaxBackoff == 0 {
		cc.Client.MaxBackoff = def.Client.MaxBackoff
	}
	if cc.Client.BackoffFactor == 0 {
		cc.Client.BackoffFactor = def.Client.BackoffFactor
	}
	if cc.Client.TimeoutFactor == 0 {
		cc.Client.TimeoutFactor = def.Client.TimeoutFactor
	}
	if cc.Client.MinTimeout == 0 {
		cc.Client.MinTimeout = def.Client.MinTimeout
	}
	if cc.Client.MaxTimeout == 0 {
		cc.Client.MaxTimeout = def.Client.MaxTimeout
	}
	if cc.Client.LatencyWindow == 0 {
		cc.Client.LatencyWindow = def.Client.LatencyWindow
	}
	if cc.Client.Breaker.Threshold == 0 {
		cc.Client.Breaker.Threshold = def.Client.Breaker.Threshold
	}
	if cc.Client.Breaker.Cooldown == 0 {
		cc.Client.Breaker.Cooldown = def.Client.Breaker.Cooldown
	}

	if cc.DefaultTimeout == 0 {
		cc.DefaultTimeout = def.DefaultTimeout
	}
}

// Validate checks the configuration. Field bounds are checked through
// struct tags; relations between fields are checked explicitly.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return goerrors.Configuration("governor: at least one category is required")
	}

	if err := validation.Validate(c); err != nil {
		return err
	}

	v := validation.New()
	for name, cc := range c.Categories {
		if cc.Cache != nil {
			v.Custom(cc.Cache.MinTTL <= cc.Cache.MaxTTL,
				name+".cache.min_ttl", "must not exceed max_ttl")
			v.Custom(cc.Cache.BaseTTL <= cc.Cache.MaxTTL,
				name+".cache.base_ttl", "must not exceed max_ttl")
		}
		v.Custom(cc.Client.MinTimeout <= cc.Client.MaxTimeout,
			name+".client.min_timeout", "must not exceed max_timeout")
		v.Custom(cc.Client.InitialBackoff <= cc.Client.MaxBackoff,
			name+".client.initial_backoff", "must not exceed max_backoff")
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("governor.logging: %w", err)
	}
	return nil
}

// Load reads a governor configuration for the given service through the
// config package's file and environment discovery, applies defaults, and
// validates it.
func Load(service string, opts ...config.LoaderOption) (*Config, error) {
	var cfg Config
	if err := config.LoadConfig(service, &cfg, opts...); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
