package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the gateway routes. Everything under /api requires
// a bearer token; /login and /healthz do not.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.Health)
	r.Post("/login", h.Login)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAuth(h.auth))

		r.Post("/upload", h.Upload)
		r.Post("/prices/update", h.UpdatePrices)
		r.Get("/tasks/{id}", h.TaskResult)

		r.Get("/brands", h.Brands)
		r.Get("/categories", h.Categories)
		r.Get("/search/manual", h.ManualSearch)

		r.Get("/cache/stats", h.CacheStats)
		r.Post("/cache/clear", h.CacheClear)

		r.Get("/deadletter", h.DeadLetters)
		r.Post("/deadletter/{id}/requeue", h.RequeueDead)
	})

	return r
}
