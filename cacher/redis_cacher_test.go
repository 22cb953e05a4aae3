package cacher

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableClient points at a port nothing listens on, so every command
// fails fast with a dial error.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCacher_Key(t *testing.T) {
	c := NewRedisCacher[string](unreachableClient(t), "rediminute:resp:")
	assert.Equal(t, "rediminute:resp:PING", c.key("PING"))
}

func TestRedisCacher_GetOrFetch_BackendDown(t *testing.T) {
	c := NewRedisCacher[string](unreachableClient(t), "test:")

	called := false
	_, err := c.GetOrFetch(context.Background(), "k", time.Minute, func(ctx context.Context) (string, error) {
		called = true
		return "v", nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get error")
	assert.False(t, called)
}

func TestRedisCacher_ItemCount_BackendDown(t *testing.T) {
	c := NewRedisCacher[string](unreachableClient(t), "test:")

	_, err := c.ItemCount(context.Background())
	assert.Error(t, err)
	assert.Error(t, c.Clear(context.Background()))
	assert.Error(t, c.Delete(context.Background(), "k"))
}

func TestRedisCacher_Interface(t *testing.T) {
	var _ Cacher[string] = (*RedisCacher[string])(nil)
}
