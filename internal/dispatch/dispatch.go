// Package dispatch selects how submitted tasks reach execution: enqueued
// to the broker for the worker pool, or run inline in the caller's own
// path when the broker is unreachable.
//
// The selection happens once at startup from the broker liveness probe.
// Inline dispatch is the documented degraded-operation mode: no
// parallelism, no isolation, no time limits. It is chosen deliberately,
// logged loudly, and surfaced through Mode so callers can report it.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/avdeev/poizon-sync/internal/queue"
	"github.com/avdeev/poizon-sync/internal/task"
)

// Mode identifies the selected dispatch strategy.
type Mode string

// Dispatch modes.
const (
	ModeAsync  Mode = "async"
	ModeInline Mode = "inline"
)

// Dispatcher submits a named task with serializable arguments and returns
// the submission ID used to poll its result.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args any) (uuid.UUID, error)
	Mode() Mode
}

// AsyncDispatcher enqueues tasks to the broker for the worker pool.
type AsyncDispatcher struct {
	queue   *queue.Queue
	results *queue.Results
}

// NewAsync creates the broker-backed dispatcher.
func NewAsync(q *queue.Queue, results *queue.Results) *AsyncDispatcher {
	return &AsyncDispatcher{queue: q, results: results}
}

// Dispatch marshals args, records a pending result, and enqueues.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, name string, args any) (uuid.UUID, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal task args: %w", err)
	}

	e := queue.NewEntry(name, raw)
	if err := d.results.SetPending(ctx, e.ID, name); err != nil {
		return uuid.Nil, err
	}
	if err := d.queue.Enqueue(ctx, e); err != nil {
		return uuid.Nil, err
	}
	return e.ID, nil
}

// Mode reports async dispatch.
func (d *AsyncDispatcher) Mode() Mode { return ModeAsync }

// InlineDispatcher executes tasks synchronously through the same registry
// the worker pool uses. Results are recorded in memory so polling keeps
// working without a broker.
type InlineDispatcher struct {
	registry *task.Registry
	results  *memoryResults
	logger   *slog.Logger
}

// NewInline creates the degraded-mode dispatcher.
func NewInline(registry *task.Registry, logger *slog.Logger) *InlineDispatcher {
	return &InlineDispatcher{
		registry: registry,
		results:  newMemoryResults(),
		logger:   logger.With("component", "inline_dispatcher"),
	}
}

// Dispatch resolves the handler and runs it in the caller's path.
func (d *InlineDispatcher) Dispatch(ctx context.Context, name string, args any) (uuid.UUID, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal task args: %w", err)
	}

	handler, err := d.registry.Resolve(name)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	d.results.set(&queue.Result{ID: id, TaskName: name, State: queue.StateStarted})

	value, err := handler.Handle(ctx, raw)
	if err != nil {
		d.results.set(&queue.Result{ID: id, TaskName: name, State: queue.StateFailure, Error: err.Error()})
		return id, err
	}

	rawValue, err := json.Marshal(value)
	if err != nil {
		rawValue = nil
	}
	d.results.set(&queue.Result{ID: id, TaskName: name, State: queue.StateSuccess, Value: rawValue})
	return id, nil
}

// Mode reports inline dispatch.
func (d *InlineDispatcher) Mode() Mode { return ModeInline }

// Result returns the recorded result for an inline submission.
func (d *InlineDispatcher) Result(id uuid.UUID) (*queue.Result, error) {
	return d.results.get(id)
}

// Select returns the async dispatcher when the broker probe succeeded and
// the inline fallback otherwise.
func Select(
	probeErr error,
	q *queue.Queue,
	results *queue.Results,
	registry *task.Registry,
	logger *slog.Logger,
) Dispatcher {
	if probeErr == nil {
		return NewAsync(q, results)
	}
	logger.Warn("broker unreachable, falling back to inline task execution",
		"error", probeErr,
		"mode", string(ModeInline))
	return NewInline(registry, logger)
}
