// Package queue implements the Redis broker transport: FIFO ready list,
// per-consumer processing lists, a delayed set for ETA deferral and retry
// backoff, a dead-letter list, and the task result backend.
//
// Delivery is at-least-once with a single active owner per attempt: a
// claim atomically moves the raw entry from the ready list onto the
// claiming consumer's processing list, so an entry is visible to at most
// one worker slot at a time. Acknowledgement removes it from the
// processing list; failure either reschedules it through the delayed set
// or routes it to the dead-letter list.
package queue
