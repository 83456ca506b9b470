//go:build integration

package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedis(t *testing.T) *Redis {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	r, err := NewRedis(ctx, url, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	r := newRedis(t)

	release, err := r.Acquire(ctx, "directory:dc1")
	require.NoError(t, err)

	_, err = r.Acquire(ctx, "directory:dc1")
	require.ErrorIs(t, err, ErrHeld)

	ttl, err := r.Client.PTTL(ctx, r.Prefix+"directory:dc1").Result()
	require.NoError(t, err)
	require.Positive(t, ttl)

	release()

	again, err := r.Acquire(ctx, "directory:dc1")
	require.NoError(t, err)
	again()
}

func TestRedisReleaseKeepsForeignLease(t *testing.T) {
	ctx := context.Background()
	r := newRedis(t)

	release, err := r.Acquire(ctx, "k")
	require.NoError(t, err)

	// Simulate expiry followed by another replica taking the key.
	require.NoError(t, r.Client.Set(ctx, r.Prefix+"k", "someone-else", time.Minute).Err())
	release()

	v, err := r.Client.Get(ctx, r.Prefix+"k").Result()
	require.NoError(t, err)
	require.Equal(t, "someone-else", v)

	require.NoError(t, r.Client.Del(ctx, r.Prefix+"k").Err())
	_, err = r.Client.Get(ctx, r.Prefix+"k").Result()
	require.ErrorIs(t, err, redis.Nil)
}
