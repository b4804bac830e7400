// ABOUTME: Read cache interface with TTL fetch-or-compute and explicit invalidation
// ABOUTME: Cached values are derived data; a cold cache must reproduce a warm one

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/helpdesk-gateway/internal/config"
)

// ComputeFunc produces the value for a missing key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache is a key to bytes store with per-entry TTL.
// Fetch returns the live entry for key, or calls compute, stores its result
// for ttl and returns it. A compute error is returned and nothing is stored.
type Cache interface {
	Fetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error)
	Invalidate(ctx context.Context, key string) error
}

// FetchJSON is the typed form of Cache.Fetch. Values are stored as JSON.
func FetchJSON[T any](ctx context.Context, c Cache, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.Fetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return out, nil
}

// InvalidateAll drops every key, logging failures instead of returning them.
// Callers use it right after a committed write, where a failed delete must not
// fail the request.
func InvalidateAll(ctx context.Context, c Cache, logger *slog.Logger, keys ...string) {
	for _, key := range keys {
		if err := c.Invalidate(ctx, key); err != nil {
			logger.Warn("cache invalidation failed", "key", key, "error", err)
		}
	}
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		return NewRedis(cfg.RedisURL, cfg.KeyPrefix)
	case config.CacheNone:
		return Noop{}, nil
	case config.CacheMemory, "":
		return NewMemory(cfg.MaxEntries)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// Noop disables caching: every Fetch computes.
type Noop struct{}

// Fetch always calls compute.
func (Noop) Fetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	return compute(ctx)
}

// Invalidate does nothing.
func (Noop) Invalidate(ctx context.Context, key string) error { return nil }
