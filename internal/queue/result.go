package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Result states.
const (
	StatePending  = "pending"
	StateStarted  = "started"
	StateProgress = "progress"
	StateSuccess  = "success"
	StateFailure  = "failure"
)

// DefaultResultTTL is how long results stay readable after their last
// update (24h, matching the deployment's result retention).
const DefaultResultTTL = 24 * time.Hour

// ErrResultNotFound indicates no result record exists for the ID (never
// submitted, or expired out of the backend).
var ErrResultNotFound = errors.New("task result not found")

// Progress is the in-flight progress snapshot a running handler reports.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status,omitempty"`
}

// Result is the poll-visible state of one submission.
type Result struct {
	ID        uuid.UUID       `json:"id"`
	TaskName  string          `json:"task_name"`
	State     string          `json:"state"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
	Progress  *Progress       `json:"progress,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Results is the result backend: one JSON blob per submission with a
// sliding TTL.
type Results struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResults creates a result backend. A non-positive ttl falls back to
// DefaultResultTTL.
func NewResults(client *redis.Client, ttl time.Duration) *Results {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Results{client: client, ttl: ttl}
}

func (r *Results) write(ctx context.Context, res *Result) error {
	res.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := r.client.Set(ctx, resultKey(res.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result %s: %w", res.ID, err)
	}
	return nil
}

// SetPending records a submission before it is handed to a worker.
func (r *Results) SetPending(ctx context.Context, id uuid.UUID, taskName string) error {
	return r.write(ctx, &Result{ID: id, TaskName: taskName, State: StatePending})
}

// SetStarted marks a delivery as executing.
func (r *Results) SetStarted(ctx context.Context, id uuid.UUID, taskName string) error {
	return r.write(ctx, &Result{ID: id, TaskName: taskName, State: StateStarted})
}

// SetProgress records an in-flight progress snapshot.
func (r *Results) SetProgress(ctx context.Context, id uuid.UUID, taskName string, p Progress) error {
	return r.write(ctx, &Result{ID: id, TaskName: taskName, State: StateProgress, Progress: &p})
}

// SetSuccess records the terminal success state with the handler's value.
func (r *Results) SetSuccess(ctx context.Context, id uuid.UUID, taskName string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal result value: %w", err)
	}
	return r.write(ctx, &Result{ID: id, TaskName: taskName, State: StateSuccess, Value: raw})
}

// SetFailure records the terminal failure state.
func (r *Results) SetFailure(ctx context.Context, id uuid.UUID, taskName string, cause error) error {
	return r.write(ctx, &Result{ID: id, TaskName: taskName, State: StateFailure, Error: cause.Error()})
}

// Get returns the result record for a submission.
func (r *Results) Get(ctx context.Context, id uuid.UUID) (*Result, error) {
	raw, err := r.client.Get(ctx, resultKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("failed to decode result %s: %w", id, err)
	}
	return &res, nil
}
