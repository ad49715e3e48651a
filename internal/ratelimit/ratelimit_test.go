package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/edupass/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBucketsRefill(t *testing.T) {
	now := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	buckets := NewLocalBuckets()
	buckets.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		res, err := buckets.Allow("actor-1", 1, 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := buckets.Allow("actor-1", 1, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	other, err := buckets.Allow("actor-2", 1, 2)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	now = now.Add(time.Second)
	res, err = buckets.Allow("actor-1", 1, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = buckets.Allow("", 1, 2)
	assert.Error(t, err)
}

func TestLocalBucketsEvictIdleKeys(t *testing.T) {
	now := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	buckets := NewLocalBuckets()
	buckets.now = func() time.Time { return now }

	for _, key := range []string{"actor-1", "actor-2", "actor-3"} {
		_, err := buckets.Allow(key, 1, 2)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, buckets.size())

	now = now.Add(30 * time.Second)
	_, err := buckets.Allow("actor-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, buckets.size(), "no sweep before the interval")

	now = now.Add(localSweepInterval)
	_, err = buckets.Allow("actor-4", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, buckets.size())
}

func TestRedeemLimiterWithoutRedis(t *testing.T) {
	ctx := context.Background()

	disabled := NewRedeemLimiter(config.Config{}, nil, zap.NewNop())
	assert.False(t, disabled.Enabled())
	res, err := disabled.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, RedeemRate: 0.001, RedeemBurst: 1}}
	limiter := NewRedeemLimiter(cfg, nil, zap.NewNop())
	require.True(t, limiter.Enabled())

	first, err := limiter.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := limiter.Allow(ctx, "actor-1")
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}

func TestNilLocker(t *testing.T) {
	var l *Locker
	_, ok, err := l.TryLock(context.Background(), "k", time.Second)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
	assert.Nil(t, NewLocker(nil))
}
