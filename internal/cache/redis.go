// ABOUTME: Redis cache backend shared across gateway replicas
// ABOUTME: Redis errors degrade to computing from the store; they never fail a read

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/2389/helpdesk-gateway/internal/metrics"
)

// versionTTL bounds how long an invalidation counter outlives its last bump.
const versionTTL = 24 * time.Hour

var errInvalidated = errors.New("invalidated during compute")

// Redis stores entries in a Redis server under a key prefix. Each key has a
// companion counter, bumped by Invalidate, that a compute must still match
// before its result is written. Under Redis Cluster the prefix needs a hash
// tag so a key and its counter share a slot.
type Redis struct {
	client redis.UniversalClient
	prefix string
	group  singleflight.Group
	logger *slog.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL, prefix string) (*Redis, error) {
	if redisURL == "" {
		return nil, errors.New("redis url must be provided")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: slog.Default().With("component", "cache"),
	}
}

// Fetch returns the stored value for key or computes and stores it.
func (r *Redis) Fetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	full := r.prefix + key

	data, err := r.client.Get(ctx, full).Bytes()
	switch {
	case err == nil:
		metrics.RecordCacheHit()
		return data, nil
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("redis get failed", "key", full, "error", err)
	}
	metrics.RecordCacheMiss()

	v, err, _ := r.group.Do(full, func() (any, error) {
		version := r.version(ctx, full)
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		r.store(ctx, full, version, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate deletes key and bumps its counter so that computes already in
// flight on any replica discard their results.
func (r *Redis) Invalidate(ctx context.Context, key string) error {
	full := r.prefix + key
	r.group.Forget(full)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(full))
		pipe.Expire(ctx, versionKey(full), versionTTL)
		pipe.Del(ctx, full)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidating %s: %w", full, err)
	}
	return nil
}

// version reads the invalidation counter; a missing counter reads as "".
func (r *Redis) version(ctx context.Context, full string) string {
	v, err := r.client.Get(ctx, versionKey(full)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("redis version read failed", "key", full, "error", err)
	}
	return v
}

// store writes value only if the counter still reads version. WATCH makes an
// Invalidate that lands between the check and the SET abort the write.
func (r *Redis) store(ctx context.Context, full, version string, value []byte, ttl time.Duration) {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey(full)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errInvalidated
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, value, ttl)
			return nil
		})
		return err
	}, versionKey(full))

	switch {
	case err == nil:
	case errors.Is(err, errInvalidated), errors.Is(err, redis.TxFailedErr):
		r.logger.Debug("dropping value computed across an invalidation", "key", full)
	default:
		r.logger.Warn("redis set failed", "key", full, "error", err)
	}
}

func versionKey(full string) string {
	return full + ":version"
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
