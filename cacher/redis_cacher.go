package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisCacher is a Cacher that stores JSON-encoded values in Redis under a
// key namespace, so several server instances can share cached results.
// Concurrent misses within one process are collapsed with singleflight.
type RedisCacher[T any] struct {
	client    redis.UniversalClient
	namespace string
	group     singleflight.Group
}

// NewRedisCacher creates a Redis-backed cache.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := NewRedisCacher[string](client, "rediminute:resp:")
//
// Parameters:
//   - client: A connected go-redis client
//   - namespace: Prefix added to every key; Clear and ItemCount only see keys under it
//
// Returns:
//   - A new RedisCacher
func NewRedisCacher[T any](client redis.UniversalClient, namespace string) *RedisCacher[T] {
	return &RedisCacher[T]{client: client, namespace: namespace}
}

func (c *RedisCacher[T]) key(key string) string {
	return c.namespace + key
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if v, ok, err := c.get(ctx, key); err != nil || ok {
		return v, err
	}

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok, err := c.get(ctx, key); err != nil || ok {
			return v, err
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, fmt.Errorf("fetch function failed: %w", err)
		}

		data, err := json.Marshal(fetched)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal result: %w", err)
		}

		if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
			return zero, fmt.Errorf("failed to cache result: %w", err)
		}

		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type in cache for key %s", key)
	}

	return typed, nil
}

func (c *RedisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var result T

	raw, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return result, false, nil
	}
	if err != nil {
		return result, false, fmt.Errorf("redis get error: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return result, true, nil
}

// Delete implements Cacher.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Clear implements Cacher. Only keys under the namespace are removed.
func (c *RedisCacher[T]) Clear(ctx context.Context) error {
	keys, err := c.scan(ctx)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// ItemCount implements Cacher.
func (c *RedisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	keys, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (c *RedisCacher[T]) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.namespace+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	return keys, nil
}
