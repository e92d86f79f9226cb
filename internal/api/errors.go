package api

import (
	"errors"
	"net/http"

	"github.com/avdeev/poizon-sync/internal/breaker"
	"github.com/avdeev/poizon-sync/internal/platform/redisconn"
	"github.com/avdeev/poizon-sync/internal/poizon"
	"github.com/avdeev/poizon-sync/internal/queue"
	"github.com/avdeev/poizon-sync/internal/ratelimit"
	"github.com/avdeev/poizon-sync/internal/service/auth"
	"github.com/avdeev/poizon-sync/internal/task"
	"github.com/avdeev/poizon-sync/internal/woo"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal detail to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized

	case errors.Is(err, queue.ErrResultNotFound),
		errors.Is(err, queue.ErrNotDeadLettered),
		errors.Is(err, poizon.ErrProductNotFound),
		errors.Is(err, woo.ErrProductNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrUnknownTask):
		return http.StatusBadRequest

	case errors.Is(err, ratelimit.ErrAcquireTimeout):
		return http.StatusTooManyRequests

	case errors.Is(err, breaker.ErrOpen),
		errors.Is(err, redisconn.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "Invalid credentials"
	case errors.Is(err, auth.ErrInvalidToken):
		return "Invalid token"
	case errors.Is(err, queue.ErrResultNotFound):
		return "Task not found"
	case errors.Is(err, queue.ErrNotDeadLettered):
		return "Task is not in the dead-letter queue"
	case errors.Is(err, poizon.ErrProductNotFound):
		return "Product not found in catalog"
	case errors.Is(err, woo.ErrProductNotFound):
		return "Product not found in store"
	case errors.Is(err, task.ErrUnknownTask):
		return "Unknown task name"
	case errors.Is(err, ratelimit.ErrAcquireTimeout):
		return "Catalog rate limit exceeded, try again later"
	case errors.Is(err, breaker.ErrOpen):
		return "Upstream service temporarily unavailable"
	case errors.Is(err, redisconn.ErrBrokerUnavailable):
		return "Broker unavailable"
	default:
		return "An unexpected error occurred"
	}
}
