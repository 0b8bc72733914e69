//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	c := NewRedisCacheFromClient(redis.NewClient(opts))
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	type summary struct {
		Orders int   `json:"orders"`
		Net    int64 `json:"net"`
	}

	var miss summary
	found, err := c.Get(ctx, "dashboard:2026-10-19", &miss)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "dashboard:2026-10-19", summary{Orders: 3, Net: 45000}, time.Minute))

	var hit summary
	found, err = c.Get(ctx, "dashboard:2026-10-19", &hit)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, summary{Orders: 3, Net: 45000}, hit)
}
