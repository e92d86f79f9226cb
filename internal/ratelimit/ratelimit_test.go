package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, max int, window time.Duration) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, max, window, logger)
}

func TestTryAcquireHonorsLimit(t *testing.T) {
	l := newLimiter(t, 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.TryAcquire(ctx, "poizon_api")
		require.NoError(t, err)
		assert.True(t, ok, "permit %d should be granted", i)
	}

	ok, err := l.TryAcquire(ctx, "poizon_api")
	require.NoError(t, err)
	assert.False(t, ok, "limit exhausted, permit must be denied")

	n, err := l.InWindow(ctx, "poizon_api")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestLimitsAreScopedByIdentifier(t *testing.T) {
	l := newLimiter(t, 1, time.Second)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "poizon_api")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.TryAcquire(ctx, "wordpress_api")
	require.NoError(t, err)
	assert.True(t, ok, "separate identifier has its own window")
}

func TestAcquireBlocksUntilWindowSlides(t *testing.T) {
	l := newLimiter(t, 1, 100*time.Millisecond)
	l.retrySleep = 10 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "api", 0))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "api", time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"second permit must wait for the window to slide")
}

func TestAcquireTimesOut(t *testing.T) {
	l := newLimiter(t, 1, time.Hour)
	l.retrySleep = 10 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "api", 0))

	err := l.Acquire(ctx, "api", 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}
