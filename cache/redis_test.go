package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testRedisAddr == "" {
		t.Skip("redis container not available")
	}
	client, err := InitRedis(context.Background(), RedisConfig{Addr: testRedisAddr})
	require.NoError(t, err)
	require.NoError(t, client.FlushAll(context.Background()).Err())
	t.Cleanup(func() { _ = CloseRedis(client) })
	return client
}

func TestInitRedis_EmptyAddr(t *testing.T) {
	_, err := InitRedis(context.Background(), RedisConfig{})
	assert.ErrorIs(t, err, ErrRedisNotAvailable)
}

func TestTokenBucketRateLimiter(t *testing.T) {
	client := testRedis(t)
	clock := clockwork.NewFakeClock()
	limiter := NewTokenBucketRateLimiter(client, "test:"+uuid.NewString(), 1, 3, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "voter")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}
	allowed, err := limiter.Allow(ctx, "voter")
	require.NoError(t, err)
	assert.False(t, allowed)

	clock.Advance(2 * time.Second)
	allowed, err = limiter.Allow(ctx, "voter")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLeaseManager(t *testing.T) {
	client := testRedis(t)
	manager := NewLeaseManager(client, 5*time.Second)
	ctx := context.Background()
	key := "poll-" + uuid.NewString()

	lease, err := manager.Acquire(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, lease.Key())

	// 另一个实例拿不到同一个租约
	other := NewLeaseManager(client, 5*time.Second)
	shortCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_, err = other.Acquire(shortCtx, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockNotAcquired) || errors.Is(err, context.DeadlineExceeded))

	require.NoError(t, lease.Extend(ctx))
	require.NoError(t, lease.Release(ctx))

	again, err := other.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
