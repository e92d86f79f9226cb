package beat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/dispatch"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	names []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, name string, args any) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = append(d.names, name)
	return uuid.New(), nil
}

func (d *recordingDispatcher) Mode() dispatch.Mode { return dispatch.ModeAsync }

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

func newBeatFixture(t *testing.T, entries []config.BeatEntry) (*Beat, *recordingDispatcher, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := &recordingDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(d, client, config.BeatConfig{Entries: entries, LockTTL: time.Second}, logger)
	return b, d, client
}

func TestBeatStartAndStop(t *testing.T) {
	b, _, client := newBeatFixture(t, []config.BeatEntry{
		{Spec: "0 3 * * *", Task: "maintenance.cleanup_expired_cache"},
	})

	require.NoError(t, b.Start(context.Background()))

	holder, err := client.Get(context.Background(), leaderKey).Result()
	require.NoError(t, err)
	assert.NotEmpty(t, holder)

	b.Stop()

	// Lock released on stop.
	exists, err := client.Exists(context.Background(), leaderKey).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestBeatRejectsSecondInstance(t *testing.T) {
	entries := []config.BeatEntry{{Spec: "0 3 * * *", Task: "t"}}
	first, _, client := newBeatFixture(t, entries)

	require.NoError(t, first.Start(context.Background()))
	defer first.Stop()

	d := &recordingDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	second := New(d, client, config.BeatConfig{Entries: entries, LockTTL: time.Second}, logger)

	err := second.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotLeader)
}

func TestBeatRejectsInvalidSpec(t *testing.T) {
	b, _, client := newBeatFixture(t, []config.BeatEntry{
		{Spec: "not a cron spec", Task: "t"},
	})

	err := b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule spec")

	// Lock must not stay held after a failed start.
	exists, lockErr := client.Exists(context.Background(), leaderKey).Result()
	require.NoError(t, lockErr)
	assert.Zero(t, exists)
}

func TestBeatHaltsScheduleOnLockLoss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := &recordingDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(d, client, config.BeatConfig{
		Entries: []config.BeatEntry{{Spec: "@every 20ms", Task: "t"}},
		LockTTL: 90 * time.Millisecond,
	}, logger)

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	require.Eventually(t, func() bool {
		return len(d.dispatched()) > 0
	}, 2*time.Second, 5*time.Millisecond, "schedule never emitted")

	// Another instance takes the lock over, as after a TTL lapse.
	require.NoError(t, client.Set(ctx, leaderKey, "usurper", 0).Err())

	require.Eventually(t, func() bool {
		before := len(d.dispatched())
		time.Sleep(80 * time.Millisecond)
		return len(d.dispatched()) == before
	}, 2*time.Second, 10*time.Millisecond, "schedule kept emitting after lock loss")

	holder, err := client.Get(ctx, leaderKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "usurper", holder, "usurper's lock must not be touched")
}

func TestBeatEmitDispatchesTask(t *testing.T) {
	b, d, _ := newBeatFixture(t, nil)

	b.emit("catalog.update_brands_cache")

	got := d.dispatched()
	require.Len(t, got, 1)
	assert.Equal(t, "catalog.update_brands_cache", got[0])
}
