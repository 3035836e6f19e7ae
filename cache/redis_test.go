package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Integration test; runs only when a Redis instance is provided.
func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping redis integration test")
	}

	ctx := context.Background()
	c, err := NewRedis(ctx, url)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	key := "gateway-test:" + time.Now().Format(time.RFC3339Nano)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, key, "v", time.Minute))
	value, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", value)

	reserved, err := c.SetNX(ctx, key, "other", time.Minute)
	require.NoError(t, err)
	require.False(t, reserved)
}
