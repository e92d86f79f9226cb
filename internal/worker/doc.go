// Package worker implements the worker pool: a fixed number of slots that
// claim entries from the broker queue, execute the registered handler
// under soft and hard time limits, and acknowledge or fail the delivery.
//
// Each slot runs one task at a time. A slot retires after executing its
// configured maximum number of tasks and is replaced with a fresh one,
// bounding resource growth across many executions. Failures inside one
// slot never affect the others; the broker is the only shared state.
package worker
