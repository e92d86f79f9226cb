package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/avdeev/poizon-sync/internal/generation"
	"github.com/avdeev/poizon-sync/internal/poizon"
	"github.com/avdeev/poizon-sync/internal/task"
	"github.com/avdeev/poizon-sync/internal/woo"
)

// UploadProductArgs are the arguments of sync.upload_product.
type UploadProductArgs struct {
	SpuID    int64            `json:"spu_id"`
	Settings woo.SyncSettings `json:"settings"`
}

// UpdatePriceArgs are the arguments of sync.update_product_price.
type UpdatePriceArgs struct {
	ProductID int64            `json:"product_id"`
	SpuID     int64            `json:"spu_id,omitempty"`
	Settings  woo.SyncSettings `json:"settings"`
}

// SyncResult is the result payload of the sync handlers.
type SyncResult struct {
	Status            string `json:"status"`
	ProductID         int64  `json:"product_id,omitempty"`
	ProductName       string `json:"product_name,omitempty"`
	VariationsUpdated int    `json:"variations_updated,omitempty"`
	Message           string `json:"message"`
}

// uploadProduct syncs one catalog product into the store: fetch, SEO
// content, then create or update depending on whether the SKU exists.
func (h *Handlers) uploadProduct(ctx context.Context, raw json.RawMessage) (any, error) {
	var args UploadProductArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid upload arguments: %w", err)
	}
	if args.SpuID == 0 {
		return nil, errors.New("spu_id is required")
	}

	task.Report(ctx, 0, 100, "Начинаем загрузку...")

	task.Report(ctx, 20, 100, "Загрузка из каталога...")
	product, err := h.catalog.FullProduct(ctx, args.SpuID)
	if err != nil {
		if errors.Is(err, poizon.ErrProductNotFound) {
			return &SyncResult{Status: "error", Message: "Товар не найден в каталоге"}, nil
		}
		return nil, err
	}

	task.Report(ctx, 50, 100, "Генерация описания...")
	h.applySEO(ctx, product)

	task.Report(ctx, 75, 100, "Загрузка в магазин...")
	sku := strconv.FormatInt(product.SpuID, 10)
	existingID, exists, err := h.store.ProductIDBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}

	var result *SyncResult
	if exists {
		updated, err := h.store.UpdateVariations(ctx, existingID, product, args.Settings)
		if err != nil {
			return nil, err
		}
		result = &SyncResult{
			Status:            "updated",
			ProductID:         existingID,
			VariationsUpdated: updated,
			Message:           fmt.Sprintf("Обновлен товар ID %d", existingID),
		}
	} else {
		newID, err := h.store.CreateProduct(ctx, product, args.Settings)
		if err != nil {
			return nil, err
		}
		result = &SyncResult{
			Status:    "created",
			ProductID: newID,
			Message:   fmt.Sprintf("Создан товар ID %d", newID),
		}
	}

	task.Report(ctx, 100, 100, "Готово!")
	return result, nil
}

// updateProductPrice refreshes price and stock on one store product from
// the catalog. The SPU id comes from the product meta; when missing it is
// recovered by SKU search and written back.
func (h *Handlers) updateProductPrice(ctx context.Context, raw json.RawMessage) (any, error) {
	var args UpdatePriceArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid price update arguments: %w", err)
	}
	if args.ProductID == 0 {
		return nil, errors.New("product_id is required")
	}

	task.Report(ctx, 0, 100, "Начинаем обновление...")

	task.Report(ctx, 20, 100, "Загрузка из магазина...")
	storeProduct, err := h.store.GetProduct(ctx, args.ProductID)
	if err != nil {
		if errors.Is(err, woo.ErrProductNotFound) {
			return &SyncResult{Status: "error", Message: "Товар не найден в магазине"}, nil
		}
		return nil, err
	}

	spuID := args.SpuID
	if spuID == 0 {
		spuID = storeProduct.SpuID()
	}
	if spuID == 0 {
		if storeProduct.SKU == "" {
			return &SyncResult{Status: "error", Message: "SKU не найден"}, nil
		}
		task.Report(ctx, 40, 100, fmt.Sprintf("Поиск SKU %s...", storeProduct.SKU))
		found, err := h.catalog.Search(ctx, storeProduct.SKU, 1, 0)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return &SyncResult{Status: "error", Message: "Товар не найден в каталоге"}, nil
		}
		spuID = found[0].SpuID

		// Best effort: remember the link for next time.
		if err := h.store.SetProductMeta(ctx, args.ProductID, woo.SpuIDMetaKey, strconv.FormatInt(spuID, 10)); err != nil {
			h.logger.Warn("failed to save spu id on product", "product_id", args.ProductID, "error", err)
		}
	}

	task.Report(ctx, 60, 100, "Обновление цен...")
	prices, err := h.catalog.PriceInfo(ctx, spuID)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return &SyncResult{Status: "error", Message: "Не удалось получить цены"}, nil
	}

	updated, err := h.store.UpdatePrices(ctx, args.ProductID, prices, args.Settings)
	if err != nil {
		return nil, err
	}
	if updated == 0 {
		return &SyncResult{
			Status:      "warning",
			ProductID:   args.ProductID,
			ProductName: storeProduct.Name,
			Message:     "Нет совпадающих вариаций",
		}, nil
	}

	return &SyncResult{
		Status:            "completed",
		ProductID:         args.ProductID,
		ProductName:       storeProduct.Name,
		VariationsUpdated: updated,
		Message:           fmt.Sprintf("Обновлено %d вариаций", updated),
	}, nil
}

// applySEO replaces the product title and descriptions with generated
// content, falling back to basic content when generation fails.
func (h *Handlers) applySEO(ctx context.Context, product *poizon.Product) {
	info := generation.ProductInfo{
		Brand:         product.Brand,
		Category:      product.StoreCategory,
		Title:         generation.CleanText(poizon.CleanTitle(product.Title)),
		ArticleNumber: product.ArticleNumber,
		Color:         product.Attributes["Цвет"],
		Material:      product.Attributes["Материал"],
	}

	content := generation.Fallback(info)
	if h.generator != nil {
		generated, err := h.generator.GenerateSEO(ctx, info)
		if err != nil {
			h.logger.Warn("seo generation failed, using fallback",
				"spu_id", product.SpuID, "error", err)
		} else {
			content = generated
		}
	}

	product.Title = content.Title
	if content.Description != "" {
		product.Description = content.Description
	}
}
