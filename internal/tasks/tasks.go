// Package tasks holds the background task handlers: product upload,
// price updates, image processing and the recurring cache maintenance
// jobs. All handlers are registered explicitly at startup through
// RegisterAll.
package tasks

import (
	"context"
	"log/slog"

	"github.com/avdeev/poizon-sync/internal/cache"
	"github.com/avdeev/poizon-sync/internal/generation"
	"github.com/avdeev/poizon-sync/internal/images"
	"github.com/avdeev/poizon-sync/internal/poizon"
	"github.com/avdeev/poizon-sync/internal/task"
	"github.com/avdeev/poizon-sync/internal/woo"
)

// Task names. Beat entries and submit endpoints refer to these.
const (
	TaskUploadProduct      = "sync.upload_product"
	TaskUpdateProductPrice = "sync.update_product_price"
	TaskProcessImages      = "media.process_product_images"
	TaskCleanupCache       = "maintenance.cleanup_expired_cache"
	TaskUpdateBrands       = "catalog.update_brands_cache"
	TaskUpdateCategories   = "catalog.update_categories_cache"
)

// Catalog is the product catalog surface the handlers need.
type Catalog interface {
	FullProduct(ctx context.Context, spuID int64) (*poizon.Product, error)
	Search(ctx context.Context, keyword string, limit, page int) ([]poizon.SearchResult, error)
	Brands(ctx context.Context, limit, page int) ([]poizon.Brand, error)
	Categories(ctx context.Context, lang string) ([]poizon.Category, error)
	PriceInfo(ctx context.Context, spuID int64) (map[string]poizon.SKUPrice, error)
}

// Store is the e-commerce store surface the handlers need.
type Store interface {
	ProductIDBySKU(ctx context.Context, sku string) (int64, bool, error)
	GetProduct(ctx context.Context, id int64) (*woo.StoreProduct, error)
	SetProductMeta(ctx context.Context, id int64, key, value string) error
	CreateProduct(ctx context.Context, p *poizon.Product, settings woo.SyncSettings) (int64, error)
	UpdateVariations(ctx context.Context, productID int64, p *poizon.Product, settings woo.SyncSettings) (int, error)
	UpdatePrices(ctx context.Context, productID int64, prices map[string]poizon.SKUPrice, settings woo.SyncSettings) (int, error)
	UploadMedia(ctx context.Context, filename string, data []byte) (*woo.Media, error)
}

// ImageProcessor downloads and bounds one image.
type ImageProcessor interface {
	Process(ctx context.Context, imageURL string) (*images.Processed, error)
}

// Handlers bundles the task handlers and their dependencies. Generator
// may be nil; upload falls back to basic content.
type Handlers struct {
	catalog   Catalog
	store     Store
	generator generation.Generator
	imgs      ImageProcessor
	cache     *cache.Cache
	logger    *slog.Logger
}

// New creates the handler set.
func New(catalog Catalog, store Store, generator generation.Generator, imgs ImageProcessor, c *cache.Cache, logger *slog.Logger) *Handlers {
	return &Handlers{
		catalog:   catalog,
		store:     store,
		generator: generator,
		imgs:      imgs,
		cache:     c,
		logger:    logger.With("component", "tasks"),
	}
}

// RegisterAll binds every handler to its task name.
func (h *Handlers) RegisterAll(reg *task.Registry) error {
	bindings := map[string]task.HandlerFunc{
		TaskUploadProduct:      h.uploadProduct,
		TaskUpdateProductPrice: h.updateProductPrice,
		TaskProcessImages:      h.processImages,
		TaskCleanupCache:       h.cleanupCache,
		TaskUpdateBrands:       h.updateBrandsCache,
		TaskUpdateCategories:   h.updateCategoriesCache,
	}
	for name, fn := range bindings {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}
