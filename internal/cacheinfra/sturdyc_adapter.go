package cacheinfra

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc partition cache.
// It encapsulates the core sturdyc options needed for cache initialization.
type Config struct {
	// Capacity defines the maximum number of partitions the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Higher values improve concurrency but increase memory overhead.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is the default time-to-live for cached partitions.
	// After this duration, partitions are considered expired.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	// Default: 10 (evict 10% of entries)
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EvictionInterval:   0, // Use default
	}
}

// ToSturdycOptions converts the Config to a sturdyc.Option slice.
// Note: Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to sturdyc.New() constructor and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
// Returns an error if any configuration parameter is invalid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// PartitionCache stores raw partition values under serialized string keys
// and tracks which of them have been marked stale. It is the storage half
// of the query store: key typing, fetchers, and invalidation fan-out live
// in the layer above.
type PartitionCache struct {
	client *sturdyc.Client[any]
	stale  *xsync.MapOf[string, struct{}]
}

// NewPartitionCache creates a sturdyc-backed partition cache.
// It validates the configuration and initializes a sturdyc client with the
// provided settings.
//
// The constructor translates Config parameters to sturdyc initialization:
// - Capacity, NumShards, TTL, EvictionPercentage are passed to sturdyc.New()
// - Other options are applied via ToSturdycOptions()
//
// Version compatibility note: This implementation assumes sturdyc v1.x API.
// Monitor sturdyc version upgrades for potential option mapping changes.
func NewPartitionCache(cfg Config) (*PartitionCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &PartitionCache{
		client: client,
		stale:  xsync.NewMapOf[string, struct{}](),
	}, nil
}

// Get returns the cached value for key, if present and not expired.
func (c *PartitionCache) Get(key string) (any, bool) {
	return c.client.Get(key)
}

// Set stores value under key and clears any stale mark.
func (c *PartitionCache) Set(key string, value any) {
	c.client.Set(key, value)
	c.stale.Delete(key)
}

// Delete removes the value and stale mark for key.
func (c *PartitionCache) Delete(key string) {
	c.client.Delete(key)
	c.stale.Delete(key)
}

// Keys returns every key currently held by the cache.
func (c *PartitionCache) Keys() []string {
	return c.client.ScanKeys()
}

// Size returns the number of cached values.
func (c *PartitionCache) Size() int {
	return c.client.Size()
}

// MarkStale flags key as needing a refetch without touching its value.
// Readers keep seeing the old value until a fresh one replaces it.
func (c *PartitionCache) MarkStale(key string) {
	c.stale.Store(key, struct{}{})
}

// IsStale reports whether key has been marked stale.
func (c *PartitionCache) IsStale(key string) bool {
	_, ok := c.stale.Load(key)
	return ok
}
