package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avdeev/poizon-sync/internal/cache"
	"github.com/avdeev/poizon-sync/internal/dispatch"
	"github.com/avdeev/poizon-sync/internal/poizon"
	"github.com/avdeev/poizon-sync/internal/queue"
	"github.com/avdeev/poizon-sync/internal/tasks"
	"github.com/avdeev/poizon-sync/internal/woo"
)

// Authenticator handles the operator login.
type Authenticator interface {
	TokenValidator
	Login(ctx context.Context, username, password string) (string, error)
}

// Catalog is the read surface the gateway exposes directly.
type Catalog interface {
	Brands(ctx context.Context, limit, page int) ([]poizon.Brand, error)
	Categories(ctx context.Context, lang string) ([]poizon.Category, error)
	Search(ctx context.Context, keyword string, limit, page int) ([]poizon.SearchResult, error)
}

// ResultSource fetches the result blob for one submission.
type ResultSource interface {
	Get(ctx context.Context, id uuid.UUID) (*queue.Result, error)
}

// Broker is the queue admin surface. Nil when running in inline mode.
type Broker interface {
	DeadLetters(ctx context.Context, max int64) ([]queue.DeadEntry, error)
	RequeueDead(ctx context.Context, id uuid.UUID) error
	Depths(ctx context.Context) (ready, delayed, dead int64, err error)
}

// Handler serves the gateway endpoints.
type Handler struct {
	auth       Authenticator
	dispatcher dispatch.Dispatcher
	results    ResultSource
	catalog    Catalog
	cache      *cache.Cache
	broker     Broker
	logger     *slog.Logger
}

// NewHandler creates the gateway handler set. broker may be nil in
// inline mode; the queue admin endpoints then answer 503.
func NewHandler(
	auth Authenticator,
	dispatcher dispatch.Dispatcher,
	results ResultSource,
	catalog Catalog,
	c *cache.Cache,
	broker Broker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		auth:       auth,
		dispatcher: dispatcher,
		results:    results,
		catalog:    catalog,
		cache:      c,
		broker:     broker,
		logger:     logger.With("component", "gateway"),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login verifies the operator credentials and issues a token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, loginResponse{Token: token})
}

type batchRequest struct {
	ProductIDs []int64          `json:"product_ids"`
	Settings   woo.SyncSettings `json:"settings"`
}

type batchResponse struct {
	Mode    string      `json:"mode"`
	Count   int         `json:"count"`
	TaskIDs []uuid.UUID `json:"task_ids"`
}

// Upload submits one upload task per catalog product id.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	h.submitBatch(w, r, tasks.TaskUploadProduct, func(id int64, s woo.SyncSettings) any {
		return tasks.UploadProductArgs{SpuID: id, Settings: s}
	})
}

// UpdatePrices submits one price-update task per store product id.
func (h *Handler) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	h.submitBatch(w, r, tasks.TaskUpdateProductPrice, func(id int64, s woo.SyncSettings) any {
		return tasks.UpdatePriceArgs{ProductID: id, Settings: s}
	})
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request, taskName string, argsFor func(int64, woo.SyncSettings) any) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.ProductIDs) == 0 {
		RespondWithError(w, r, http.StatusBadRequest, "product_ids cannot be empty", nil)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.ProductIDs))
	for _, productID := range req.ProductIDs {
		id, err := h.dispatcher.Dispatch(r.Context(), taskName, argsFor(productID, req.Settings))
		if err != nil {
			// Inline mode surfaces handler failures here; the submitted
			// portion of the batch stays submitted.
			h.logger.Warn("dispatch failed", "task", taskName, "product_id", productID, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		RespondWithError(w, r, http.StatusInternalServerError, "No tasks could be submitted", nil)
		return
	}

	RespondWithJSON(w, r, http.StatusAccepted, batchResponse{
		Mode:    string(h.dispatcher.Mode()),
		Count:   len(ids),
		TaskIDs: ids,
	})
}

// TaskResult returns the result blob for one submission.
func (h *Handler) TaskResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	result, err := h.results.Get(r.Context(), id)
	if err != nil {
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, result)
}

// Brands serves the brand list, preferring the cache the recurring
// refresh job maintains.
func (h *Handler) Brands(w http.ResponseWriter, r *http.Request) {
	var cached []poizon.Brand
	if hit, err := h.cache.Get(r.Context(), tasks.AllBrandsCacheKey, &cached); err == nil && hit {
		RespondWithJSON(w, r, http.StatusOK, cached)
		return
	}

	brands, err := h.catalog.Brands(r.Context(), 100, 0)
	if err != nil {
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, brands)
}

// Categories serves the category tree, preferring the refreshed cache.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	var cached []poizon.Category
	if hit, err := h.cache.Get(r.Context(), tasks.AllCategoriesCacheKey, &cached); err == nil && hit {
		RespondWithJSON(w, r, http.StatusOK, cached)
		return
	}

	categories, err := h.catalog.Categories(r.Context(), "RU")
	if err != nil {
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, categories)
}

// ManualSearch searches the catalog by SKU or keyword.
func (h *Handler) ManualSearch(w http.ResponseWriter, r *http.Request) {
	sku := r.URL.Query().Get("sku")
	if sku == "" {
		RespondWithError(w, r, http.StatusBadRequest, "sku query parameter is required", nil)
		return
	}

	results, err := h.catalog.Search(r.Context(), sku, 10, 0)
	if err != nil {
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, results)
}

// CacheStats reports the cache hit/miss counters.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, r, http.StatusOK, h.cache.Snapshot())
}

// CacheClear empties both cache tiers.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Clear(r.Context())
	if err != nil {
		RespondWithError(w, r, http.StatusInternalServerError, "Failed to clear cache", err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, map[string]int64{"removed": removed})
}

// DeadLetters lists the dead-letter queue.
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		RespondWithError(w, r, http.StatusServiceUnavailable, "Broker unavailable", nil)
		return
	}
	entries, err := h.broker.DeadLetters(r.Context(), 100)
	if err != nil {
		RespondWithError(w, r, http.StatusInternalServerError, "Failed to read dead-letter queue", err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, entries)
}

// RequeueDead moves one dead-lettered task back to the ready queue.
// Replay is an explicit operator action, never automatic.
func (h *Handler) RequeueDead(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		RespondWithError(w, r, http.StatusServiceUnavailable, "Broker unavailable", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid task id", err)
		return
	}

	if err := h.broker.RequeueDead(r.Context(), id); err != nil {
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	h.logger.Info("dead-lettered task requeued", "task_id", id)
	RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "requeued"})
}

type healthResponse struct {
	Status  string           `json:"status"`
	Mode    string           `json:"mode"`
	Queues  map[string]int64 `json:"queues,omitempty"`
	Version string           `json:"version,omitempty"`
}

// Health reports liveness and the selected dispatch mode. Inline mode is
// degraded but alive.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Mode: string(h.dispatcher.Mode())}
	if h.broker != nil {
		if ready, delayed, dead, err := h.broker.Depths(r.Context()); err == nil {
			resp.Queues = map[string]int64{"ready": ready, "delayed": delayed, "dead": dead}
		}
	}
	RespondWithJSON(w, r, http.StatusOK, resp)
}
