package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avdeev/poizon-sync/internal/cache"
	"github.com/avdeev/poizon-sync/internal/poizon"
	"github.com/avdeev/poizon-sync/internal/task"
	"github.com/avdeev/poizon-sync/internal/woo"
)

// Cache keys the recurring catalog refresh jobs write. The gateway's
// brand and category endpoints read the same keys.
const (
	AllBrandsCacheKey     = "catalog:all_brands"
	AllCategoriesCacheKey = "catalog:all_categories"
)

const brandPageSize = 100

// ProcessImagesArgs are the arguments of media.process_product_images.
type ProcessImagesArgs struct {
	SpuID int64    `json:"spu_id"`
	URLs  []string `json:"urls"`
}

// ProcessImagesResult reports the outcome of one image batch.
type ProcessImagesResult struct {
	Status   string  `json:"status"`
	Uploaded int     `json:"uploaded"`
	Failed   int     `json:"failed"`
	MediaIDs []int64 `json:"media_ids"`
}

// CleanupResult is the result payload of maintenance.cleanup_expired_cache.
type CleanupResult struct {
	Status string      `json:"status"`
	Pruned int         `json:"pruned"`
	Stats  cache.Stats `json:"stats"`
}

// RefreshResult is the result payload of the catalog refresh jobs.
type RefreshResult struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// processImages downloads, bounds and uploads a batch of product images.
// Individual failures are counted, not fatal.
func (h *Handlers) processImages(ctx context.Context, raw json.RawMessage) (any, error) {
	var args ProcessImagesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid image processing arguments: %w", err)
	}

	var media []*woo.Media
	failed := 0
	total := len(args.URLs)
	for i, url := range args.URLs {
		task.Report(ctx, i, total, fmt.Sprintf("Обработка изображения %d/%d", i+1, total))

		img, err := h.imgs.Process(ctx, url)
		if err != nil {
			h.logger.Warn("image processing failed", "spu_id", args.SpuID, "url", url, "error", err)
			failed++
			continue
		}
		m, err := h.store.UploadMedia(ctx, img.Filename, img.Data)
		if err != nil {
			h.logger.Warn("media upload failed", "spu_id", args.SpuID, "url", url, "error", err)
			failed++
			continue
		}
		media = append(media, m)
	}

	ids := make([]int64, 0, len(media))
	for _, m := range media {
		ids = append(ids, m.ID)
	}
	status := "success"
	if failed > 0 && len(ids) == 0 {
		status = "error"
	}
	return &ProcessImagesResult{Status: status, Uploaded: len(ids), Failed: failed, MediaIDs: ids}, nil
}

func (h *Handlers) cleanupCache(ctx context.Context, _ json.RawMessage) (any, error) {
	pruned := h.cache.CleanupExpired()
	stats := h.cache.Snapshot()
	h.logger.Info("cache cleanup finished", "pruned", pruned, "memory_items", stats.MemoryItems)
	return &CleanupResult{Status: "success", Pruned: pruned, Stats: stats}, nil
}

// updateBrandsCache refreshes the full brand list, paging until the
// catalog runs out.
func (h *Handlers) updateBrandsCache(ctx context.Context, _ json.RawMessage) (any, error) {
	var all []poizon.Brand
	for page := 0; ; page++ {
		brands, err := h.catalog.Brands(ctx, brandPageSize, page)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh brands page %d: %w", page, err)
		}
		all = append(all, brands...)
		if len(brands) < brandPageSize {
			break
		}
	}

	if err := h.cache.Set(ctx, AllBrandsCacheKey, all); err != nil {
		return nil, err
	}
	h.logger.Info("brands cache refreshed", "count", len(all))
	return &RefreshResult{Status: "success", Count: len(all)}, nil
}

func (h *Handlers) updateCategoriesCache(ctx context.Context, _ json.RawMessage) (any, error) {
	categories, err := h.catalog.Categories(ctx, "RU")
	if err != nil {
		return nil, fmt.Errorf("failed to refresh categories: %w", err)
	}
	if err := h.cache.Set(ctx, AllCategoriesCacheKey, categories); err != nil {
		return nil, err
	}
	h.logger.Info("categories cache refreshed", "count", len(categories))
	return &RefreshResult{Status: "success", Count: len(categories)}, nil
}
