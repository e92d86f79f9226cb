package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/avdeev/poizon-sync/internal/task"
)

// Entry wraps a task for transport through the broker. Created on submit,
// removed on successful ack or final failure.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	task.Task            // name, args, submission time
	RetryCount int       `json:"retry_count"`
	// ETA is the earliest execution time. Zero means immediately eligible.
	ETA time.Time `json:"eta,omitempty"`
	// ExpiresAt drops the entry unexecuted once passed. Zero means never.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// NewEntry builds an immediately-eligible entry for a named task.
func NewEntry(name string, args json.RawMessage) *Entry {
	return &Entry{
		ID: uuid.New(),
		Task: task.Task{
			Name:        name,
			Args:        args,
			SubmittedAt: time.Now().UTC(),
		},
	}
}

// Eligible reports whether the entry's ETA has passed.
func (e *Entry) Eligible(now time.Time) bool {
	return e.ETA.IsZero() || !e.ETA.After(now)
}

// Expired reports whether the entry's expiry has passed.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// DeadEntry is the dead-letter envelope: the final entry state plus the
// error that exhausted its retries.
type DeadEntry struct {
	Entry    Entry     `json:"entry"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
