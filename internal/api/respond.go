package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the standard error body. The request id lets an
// operator correlate the response with the server logs.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondWithJSON writes a JSON response with the given status.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err, "path", r.URL.Path)
	}
}

// RespondWithError writes a sanitized JSON error response and logs the
// underlying error. 5xx responses log at error level, 4xx at debug.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	reqID := middleware.GetReqID(r.Context())

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []any{
		"status", status,
		"path", r.URL.Path,
		"method", r.Method,
		"request_id", reqID,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	slog.Default().Log(r.Context(), level, "request failed", attrs...)

	RespondWithJSON(w, r, status, ErrorResponse{Error: message, RequestID: reqID})
}
