package task

import (
	"context"
	"encoding/json"
	"time"
)

// Task is a named unit of deferrable work with serialized arguments.
// Immutable once enqueued.
type Task struct {
	Name        string          `json:"name"`
	Args        json.RawMessage `json:"args"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Handler executes the body of one task type. The returned value is
// serialized into the task's result record on success.
type Handler interface {
	Handle(ctx context.Context, args json.RawMessage) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, args json.RawMessage) (any, error) {
	return f(ctx, args)
}

// Middleware wraps a handler with cross-cutting behavior. The chain is
// composed explicitly at startup; there is no implicit global registry.
type Middleware func(name string, next Handler) Handler

type softLimitKey struct{}

// WithSoftLimit returns a context carrying the soft time-limit signal
// channel for one execution. The worker pool closes the channel when the
// soft limit elapses.
func WithSoftLimit(ctx context.Context, signal <-chan struct{}) context.Context {
	return context.WithValue(ctx, softLimitKey{}, signal)
}

// SoftLimit returns the soft time-limit signal channel for the current
// execution, or nil when none was set (selecting on a nil channel blocks
// forever, so handlers can use it unconditionally).
//
// A handler that wants the cooperative early exit selects on this channel
// at its checkpoint boundaries and returns before the hard limit fires.
func SoftLimit(ctx context.Context) <-chan struct{} {
	ch, _ := ctx.Value(softLimitKey{}).(<-chan struct{})
	return ch
}
