// Package task defines the unit of background work, the handler interface
// executed by the worker pool, and the explicit handler registry.
//
// Handlers are registered by name as a composition step at startup, and a
// middleware chain wraps every execution with cross-cutting behavior such
// as structured start/outcome logging. The soft time-limit signal is
// delivered to handlers through the execution context; see SoftLimit.
package task
