// Package woo is the WooCommerce REST client used by the store sync
// pipeline: product create/update, variation price and stock updates,
// media upload. Authentication is HTTP basic with the consumer key and
// secret.
package woo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avdeev/poizon-sync/internal/breaker"
	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/poizon"
)

const wcBase = "/wp-json/wc/v3"

// ErrProductNotFound is returned when the store has no product for the
// requested id or SKU.
var ErrProductNotFound = errors.New("store product not found")

// Client talks to the store's REST API. A nil breaker disables circuit
// breaking.
type Client struct {
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
	breaker    *breaker.Breaker
	logger     *slog.Logger
}

// New creates a store client from config.
func New(cfg config.StoreConfig, brk *breaker.Breaker, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		key:        cfg.ConsumerKey,
		secret:     cfg.ConsumerSecret,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    brk,
		logger:     logger.With("component", "store_client"),
	}
}

// ProductIDBySKU looks up an existing product by SKU. Returns 0 and
// false when none exists.
func (c *Client) ProductIDBySKU(ctx context.Context, sku string) (int64, bool, error) {
	var products []StoreProduct
	err := c.do(ctx, http.MethodGet, wcBase+"/products?sku="+url.QueryEscape(sku), nil, &products)
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up product by sku %q: %w", sku, err)
	}
	if len(products) == 0 {
		return 0, false, nil
	}
	return products[0].ID, true, nil
}

// GetProduct fetches one product record.
func (c *Client) GetProduct(ctx context.Context, id int64) (*StoreProduct, error) {
	var p StoreProduct
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/products/%d", wcBase, id), nil, &p)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch product %d: %w", id, err)
	}
	return &p, nil
}

// SetProductMeta writes one meta_data entry on a product.
func (c *Client) SetProductMeta(ctx context.Context, id int64, key, value string) error {
	body := map[string]any{"meta_data": []MetaEntry{{Key: key, Value: value}}}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s/products/%d", wcBase, id), body, nil); err != nil {
		return fmt.Errorf("failed to set meta %s on product %d: %w", key, id, err)
	}
	return nil
}

// CreateProduct creates a variable product with its variations from the
// assembled catalog product. Returns the new product id.
func (c *Client) CreateProduct(ctx context.Context, p *poizon.Product, settings SyncSettings) (int64, error) {
	payload := c.productPayload(p)

	var created StoreProduct
	if err := c.do(ctx, http.MethodPost, wcBase+"/products", payload, &created); err != nil {
		return 0, fmt.Errorf("failed to create product %q: %w", p.Title, err)
	}

	if len(p.Variations) > 0 {
		if err := c.createVariations(ctx, created.ID, p.Variations, settings); err != nil {
			return created.ID, err
		}
	}
	c.logger.Info("product created", "product_id", created.ID, "spu_id", p.SpuID,
		"variations", len(p.Variations))
	return created.ID, nil
}

// UpdateVariations replaces prices and stock on an existing product's
// variations, matching store variation SKUs to catalog SKU ids. Returns
// the number of variations updated.
func (c *Client) UpdateVariations(ctx context.Context, productID int64, p *poizon.Product, settings SyncSettings) (int, error) {
	prices := make(map[string]poizon.SKUPrice, len(p.Variations))
	for _, v := range p.Variations {
		prices[v.SKUID] = poizon.SKUPrice{Price: v.Price, Stock: v.Stock}
	}
	return c.UpdatePrices(ctx, productID, prices, settings)
}

// UpdatePrices updates price and stock on the variations whose SKUs
// appear in the price map. Returns the number updated.
func (c *Client) UpdatePrices(ctx context.Context, productID int64, prices map[string]poizon.SKUPrice, settings SyncSettings) (int, error) {
	var existing []StoreVariation
	path := fmt.Sprintf("%s/products/%d/variations?per_page=100", wcBase, productID)
	if err := c.do(ctx, http.MethodGet, path, nil, &existing); err != nil {
		return 0, fmt.Errorf("failed to list variations of product %d: %w", productID, err)
	}

	var updates []variationPayload
	for _, v := range existing {
		sp, ok := prices[v.SKU]
		if !ok {
			continue
		}
		updates = append(updates, variationPayload{
			ID:            v.ID,
			RegularPrice:  formatPrice(settings.PriceRub(sp.Price)),
			StockQuantity: sp.Stock,
			ManageStock:   true,
		})
	}
	if len(updates) == 0 {
		return 0, nil
	}

	batch := map[string]any{"update": updates}
	path = fmt.Sprintf("%s/products/%d/variations/batch", wcBase, productID)
	if err := c.do(ctx, http.MethodPost, path, batch, nil); err != nil {
		return 0, fmt.Errorf("failed to batch update variations of product %d: %w", productID, err)
	}
	c.logger.Info("variation prices updated", "product_id", productID, "updated", len(updates))
	return len(updates), nil
}

// UploadMedia uploads one image to the media library and returns the
// created item.
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte) (*Media, error) {
	u := c.baseURL + "/wp-json/wp/v2/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	var media Media
	if err := c.send(req, &media); err != nil {
		return nil, fmt.Errorf("failed to upload media %q: %w", filename, err)
	}
	return &media, nil
}

func (c *Client) productPayload(p *poizon.Product) map[string]any {
	sizes := make([]string, 0, len(p.Variations))
	colors := make([]string, 0)
	seenSize := map[string]bool{}
	seenColor := map[string]bool{}
	for _, v := range p.Variations {
		if !seenSize[v.Size] {
			seenSize[v.Size] = true
			sizes = append(sizes, v.Size)
		}
		if v.Color != "" && !seenColor[v.Color] {
			seenColor[v.Color] = true
			colors = append(colors, v.Color)
		}
	}

	attributes := []productAttribute{
		{Name: "Размер", Visible: true, Variation: true, Options: sizes},
	}
	if len(colors) > 0 {
		attributes = append(attributes, productAttribute{
			Name: "Цвет", Visible: true, Variation: true, Options: colors,
		})
	}

	images := make([]productImage, 0, len(p.Images))
	for _, src := range p.Images {
		images = append(images, productImage{Src: src})
	}

	return map[string]any{
		"name":        poizon.CleanTitle(p.Title),
		"type":        "variable",
		"sku":         strconv.FormatInt(p.SpuID, 10),
		"description": p.Description,
		"categories":  []map[string]string{{"name": p.StoreCategory}},
		"attributes":  attributes,
		"images":      images,
		"meta_data":   []MetaEntry{{Key: SpuIDMetaKey, Value: strconv.FormatInt(p.SpuID, 10)}},
	}
}

func (c *Client) createVariations(ctx context.Context, productID int64, variations []poizon.Variation, settings SyncSettings) error {
	payloads := make([]variationPayload, 0, len(variations))
	for _, v := range variations {
		attrs := []variationAttribute{{Name: "Размер", Option: v.Size}}
		if v.Color != "" {
			attrs = append(attrs, variationAttribute{Name: "Цвет", Option: v.Color})
		}
		payloads = append(payloads, variationPayload{
			SKU:           v.SKUID,
			RegularPrice:  formatPrice(settings.PriceRub(v.Price)),
			StockQuantity: v.Stock,
			ManageStock:   true,
			Attributes:    attrs,
		})
	}

	batch := map[string]any{"create": payloads}
	path := fmt.Sprintf("%s/products/%d/variations/batch", wcBase, productID)
	if err := c.do(ctx, http.MethodPost, path, batch, nil); err != nil {
		return fmt.Errorf("failed to create variations of product %d: %w", productID, err)
	}
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("store API returned %d: %s", e.status, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.key, c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, dest)
}

func (c *Client) send(req *http.Request, dest any) error {
	call := func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body := string(data)
			if len(body) > 200 {
				body = body[:200] + "..."
			}
			return &statusError{status: resp.StatusCode, body: body}
		}
		if dest != nil {
			return json.Unmarshal(data, dest)
		}
		return nil
	}
	if c.breaker != nil {
		return c.breaker.Call(call)
	}
	return call()
}

func formatPrice(rub float64) string {
	return strconv.FormatFloat(rub, 'f', 2, 64)
}
