package cache

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

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour, time.Minute, discard()), mr
}

type brand struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "brands:nike", brand{ID: 1, Name: "Nike"}))

	var got brand
	hit, err := c.Get(ctx, "brands:nike", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, brand{ID: 1, Name: "Nike"}, got)

	s := c.Snapshot()
	assert.EqualValues(t, 1, s.MemoryHits)
	assert.EqualValues(t, 1, s.Sets)
}

func TestRedisTierBackfillsMemory(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"))

	// Simulate a fresh process: empty memory tier, shared tier populated.
	c.mu.Lock()
	c.mem = make(map[string]memEntry)
	c.mu.Unlock()

	var got string
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "v", got)
	assert.EqualValues(t, 1, c.Snapshot().RedisHits)

	// Second lookup now hits memory.
	hit, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.EqualValues(t, 1, c.Snapshot().MemoryHits)
}

func TestMissCounted(t *testing.T) {
	c, _ := newRedisCache(t)

	var got string
	hit, err := c.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.EqualValues(t, 1, c.Snapshot().Misses)
}

func TestMemoryOnlyDegradation(t *testing.T) {
	// nil client: the shared tier is disabled outright.
	c := New(nil, time.Hour, time.Minute, discard())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 42))

	var got int
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 42, got)
}

func TestRedisOutageDoesNotFailLookups(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"))
	mr.Close()

	// Memory tier still serves.
	var got string
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)

	// A cold key degrades to a miss, not an error.
	hit, err = c.Get(ctx, "cold", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestClearRemovesBothTiers(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))

	removed, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	var got int
	hit, err := c.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCleanupExpiredPrunesMemory(t *testing.T) {
	c := New(nil, time.Hour, time.Minute, discard())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "stale", 1))
	c.mu.Lock()
	c.mem["stale"] = memEntry{data: []byte("1"), expiresAt: time.Now().Add(-time.Second)}
	c.mu.Unlock()
	require.NoError(t, c.Set(ctx, "fresh", 2))

	pruned := c.CleanupExpired()
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, c.Snapshot().MemoryItems)
}
