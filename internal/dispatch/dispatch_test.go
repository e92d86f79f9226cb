package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeev/poizon-sync/internal/queue"
	"github.com/avdeev/poizon-sync/internal/task"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAsyncDispatchEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	q := queue.New(client, discard())
	results := queue.NewResults(client, time.Minute)
	d := NewAsync(q, results)
	assert.Equal(t, ModeAsync, d.Mode())

	ctx := context.Background()
	id, err := d.Dispatch(ctx, "sync.upload_product", map[string]int{"spu_id": 42})
	require.NoError(t, err)

	res, err := results.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, res.State)

	claimed, err := q.Claim(ctx, "w", time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, id, claimed.Entry.ID)
	assert.JSONEq(t, `{"spu_id":42}`, string(claimed.Entry.Args))
}

func TestInlineDispatchExecutesSynchronously(t *testing.T) {
	reg := task.NewRegistry()
	var executed bool
	require.NoError(t, reg.Register("t", task.HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (any, error) {
			executed = true
			return "done", nil
		})))

	d := NewInline(reg, discard())
	assert.Equal(t, ModeInline, d.Mode())

	id, err := d.Dispatch(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.True(t, executed, "inline dispatch must run in the caller's path")

	res, err := d.Result(id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateSuccess, res.State)
	assert.JSONEq(t, `"done"`, string(res.Value))
}

func TestInlineDispatchRecordsFailure(t *testing.T) {
	reg := task.NewRegistry()
	require.NoError(t, reg.Register("t", task.HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		})))

	d := NewInline(reg, discard())
	id, err := d.Dispatch(context.Background(), "t", nil)
	require.Error(t, err)

	res, err := d.Result(id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailure, res.State)
	assert.Equal(t, "boom", res.Error)
}

func TestInlineDispatchUnknownTask(t *testing.T) {
	d := NewInline(task.NewRegistry(), discard())
	_, err := d.Dispatch(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, task.ErrUnknownTask)
}

func TestSelectPrefersAsyncWhenProbeSucceeds(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	q := queue.New(client, discard())
	results := queue.NewResults(client, time.Minute)
	reg := task.NewRegistry()

	d := Select(nil, q, results, reg, discard())
	assert.Equal(t, ModeAsync, d.Mode())

	d = Select(errors.New("connection refused"), q, results, reg, discard())
	assert.Equal(t, ModeInline, d.Mode())
}
