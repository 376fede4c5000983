package querycache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-optimistic-cache/internal/cacheinfra"
)

// Config exposes the tuning knobs for the default in-memory store backing.
// The zero value is not valid; start from DefaultConfig.
type Config struct {
	// Capacity is the maximum number of partitions the store can hold.
	Capacity int

	// NumShards determines the number of cache shards for concurrent
	// access. Higher values improve concurrency but increase memory
	// overhead.
	NumShards int

	// TTL is how long a partition stays cached without being rewritten.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the store reaches capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often expired partitions are collected.
	// Zero uses the backend default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EvictionInterval:   0,
	}
}

// Validate checks whether the configuration values are usable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}
