package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisLimiter(t *testing.T) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return NewRedisRateLimiter(client, "adreel:rate_limit:"), mr
}

func TestRedisRateLimiterCountsWithinWindow(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		count, retryAfter, err := limiter.ConsumeRateLimit(ctx, "generate", " acct-1 ", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.Equal(t, 60, retryAfter)
	}

	require.True(t, mr.Exists("adreel:rate_limit:generate:acct-1"))
	assert.Equal(t, time.Minute, mr.TTL("adreel:rate_limit:generate:acct-1"))

	other, _, err := limiter.ConsumeRateLimit(ctx, "generate", "acct-2", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}

func TestRedisRateLimiterWindowExpires(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t)
	ctx := context.Background()

	_, _, err := limiter.ConsumeRateLimit(ctx, "generate", "acct-1", 2, time.Minute)
	require.NoError(t, err)
	mr.FastForward(45 * time.Second)

	count, retryAfter, err := limiter.ConsumeRateLimit(ctx, "generate", "acct-1", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 15, retryAfter)

	mr.FastForward(time.Minute)
	count, _, err = limiter.ConsumeRateLimit(ctx, "generate", "acct-1", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRedisRateLimiterShortWindowIsOneSecond(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t)

	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "generate", "acct-1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, retryAfter)
	assert.Equal(t, time.Second, mr.TTL("adreel:rate_limit:generate:acct-1"))
}

func TestRedisRateLimiterReportsUnavailableServer(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t)
	mr.Close()

	_, _, err := limiter.ConsumeRateLimit(context.Background(), "generate", "acct-1", 2, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adreel:rate_limit:generate:acct-1")
}

func TestRedisRateLimiterSkipsEmptyKey(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t)

	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "generate", "  ", 2, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, retryAfter)
	assert.Empty(t, mr.Keys())
}
