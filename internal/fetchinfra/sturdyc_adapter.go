// Package fetchinfra provides the one-shot fetch service behind the SSR fetch
// path and manual refresh. It wraps sturdyc so that concurrent fetches of the
// same key during a render collapse into a single backend request, and results
// stay cached for the short window between rendering and hydration.
package fetchinfra

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc fetch adapter.
type Config struct {
	// Capacity defines the maximum number of results the fetch cache stores.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	NumShards int

	// TTL bounds how long a one-shot result may be reused. It only needs to
	// cover the render-to-hydration window; live updates flow through the
	// registry, not this cache.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict when
	// the cache reaches capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for SSR workloads.
func DefaultConfig() Config {
	return Config{
		Capacity:           4096,
		NumShards:          64,
		TTL:                30 * time.Second,
		EvictionPercentage: 10,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

func (c Config) toOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// FetchFn produces a value from the source of truth.
type FetchFn func(ctx context.Context) (any, error)

// Service deduplicates and briefly caches one-shot fetches by cache key.
type Service struct {
	client *sturdyc.Client[any]
}

// NewService validates the configuration and initializes a sturdyc client.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.toOptions()...,
	)

	return &Service{client: client}, nil
}

// GetOrFetch returns the cached value for key or executes fetch to obtain a
// fresh one. Concurrent callers for the same key share one in-flight request.
func (s *Service) GetOrFetch(ctx context.Context, key string, fetch FetchFn) (any, error) {
	return s.client.GetOrFetch(ctx, key, sturdyc.FetchFn[any](fetch))
}

// Forget drops the cached value for key so the next GetOrFetch hits the
// backend. This is the manual-refresh path.
func (s *Service) Forget(key string) {
	s.client.Delete(key)
}
