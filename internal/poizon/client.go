// Package poizon is the client for the product catalog API
// (poizon-api.com, DEWU/Poizon product data).
//
// Every request goes through the shared rate limiter, the catalog circuit
// breaker and a retry loop for 429/503 responses. Read endpoints cache
// their decoded responses in the two-tier cache.
package poizon

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

	"github.com/sethvargo/go-retry"

	"github.com/avdeev/poizon-sync/internal/breaker"
	"github.com/avdeev/poizon-sync/internal/cache"
	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/ratelimit"
)

const (
	// The upstream caps search pages at 100 rows.
	maxSearchLimit = 100

	rateLimitIdentifier = "poizon_api"
	acquireWait         = 30 * time.Second
)

// ErrProductNotFound is returned when the catalog has no product for the
// requested SPU id.
var ErrProductNotFound = errors.New("catalog product not found")

type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("catalog API returned %d: %s", e.status, e.body)
}

// Client talks to the catalog API. Breaker and limiter are required; a
// nil cache disables response caching.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *breaker.Breaker
	limiter    *ratelimit.Limiter
	cache      *cache.Cache
	logger     *slog.Logger

	maxRetries  uint64
	baseBackoff time.Duration
}

// New creates a catalog client from config.
func New(cfg config.CatalogConfig, brk *breaker.Breaker, limiter *ratelimit.Limiter, c *cache.Cache, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		breaker:     brk,
		limiter:     limiter,
		cache:       c,
		logger:      logger.With("component", "catalog_client"),
		maxRetries:  3,
		baseBackoff: 2 * time.Second,
	}
}

// Brands fetches one page of catalog brands.
func (c *Client) Brands(ctx context.Context, limit, page int) ([]Brand, error) {
	cacheKey := fmt.Sprintf("brands:%d:%d", limit, page)
	var cached []Brand
	if hit, err := c.cachedGet(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	body, err := json.Marshal(map[string]int{"limit": limit, "page": page})
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodPost, "/getBrands", nil, body)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch brands: %w", err)
	}

	var resp brandsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode brands response: %w", err)
	}
	c.cacheSet(ctx, cacheKey, resp.Data)
	return resp.Data, nil
}

// Categories fetches the category tree for the given language (RU, EN, CN).
func (c *Client) Categories(ctx context.Context, lang string) ([]Category, error) {
	if lang == "" {
		lang = "RU"
	}
	cacheKey := "categories:" + lang
	var cached []Category
	if hit, err := c.cachedGet(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	raw, err := c.do(ctx, http.MethodGet, "/getCategories", url.Values{"lang": {lang}}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch categories: %w", err)
	}

	// The endpoint answers with a bare array, or an object wrapping one.
	var categories []Category
	if err := json.Unmarshal(raw, &categories); err != nil {
		var wrapped struct {
			Categories []Category `json:"categories"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode categories response: %w", err)
		}
		categories = wrapped.Categories
	}
	c.cacheSet(ctx, cacheKey, categories)
	return categories, nil
}

// Search finds products by keyword.
func (c *Client) Search(ctx context.Context, keyword string, limit, page int) ([]SearchResult, error) {
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	params := url.Values{
		"keyword": {keyword},
		"limit":   {strconv.Itoa(limit)},
		"page":    {strconv.Itoa(page)},
	}
	raw, err := c.do(ctx, http.MethodGet, "/searchProducts", params, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if resp.ProductList != nil {
		return resp.ProductList, nil
	}
	return resp.List, nil
}

// PriceInfo fetches current price and stock per SKU. Prices arrive in fen
// and are converted to yuan. A 403 means the endpoint is not available on
// the current plan; that degrades to an empty map, not an error.
func (c *Client) PriceInfo(ctx context.Context, spuID int64) (map[string]SKUPrice, error) {
	raw, err := c.do(ctx, http.MethodGet, "/priceInfo", url.Values{"spuId": {strconv.FormatInt(spuID, 10)}}, nil)
	if err != nil {
		var ue *upstreamError
		if errors.As(err, &ue) && ue.status == http.StatusForbidden {
			c.logger.Warn("price endpoint forbidden, returning empty price map", "spu_id", spuID)
			return map[string]SKUPrice{}, nil
		}
		return nil, fmt.Errorf("failed to fetch prices for spu %d: %w", spuID, err)
	}

	var resp priceInfoResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	prices := make(map[string]SKUPrice, len(resp.Skus))
	for skuID, sku := range resp.Skus {
		if len(sku.Prices) == 0 || sku.Prices[0].Price <= 0 {
			continue
		}
		prices[skuID] = SKUPrice{
			Price: sku.Prices[0].Price / 100,
			Stock: sku.Quantity,
		}
	}
	return prices, nil
}

func (c *Client) productDetail(ctx context.Context, spuID int64) (*detailResponse, error) {
	raw, err := c.do(ctx, http.MethodGet, "/productDetailV3", url.Values{"spuId": {strconv.FormatInt(spuID, 10)}}, nil)
	if err != nil {
		var ue *upstreamError
		if errors.As(err, &ue) && ue.status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: spu %d", ErrProductNotFound, spuID)
		}
		return nil, fmt.Errorf("failed to fetch product detail for spu %d: %w", spuID, err)
	}

	var resp detailResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode product detail: %w", err)
	}
	if resp.Detail.SpuID == 0 {
		return nil, fmt.Errorf("%w: spu %d", ErrProductNotFound, spuID)
	}
	return &resp, nil
}

// do executes one upstream request: rate-limit permit, breaker, then a
// retry loop for 429/503 and transport errors.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, rateLimitIdentifier, acquireWait); err != nil {
			return nil, err
		}
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var out []byte
	call := func() error {
		backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseBackoff))
		return retry.Do(ctx, backoff, func(ctx context.Context) error {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, u, reader)
			if err != nil {
				return err
			}
			req.Header.Set("x-api-key", c.apiKey)
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Warn("catalog request failed, will retry", "path", path, "error", err)
				return retry.RetryableError(err)
			}
			defer func() { _ = resp.Body.Close() }()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return retry.RetryableError(err)
			}

			switch {
			case resp.StatusCode == http.StatusOK:
				out = data
				return nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
				c.logger.Warn("catalog throttled, will retry", "path", path, "status", resp.StatusCode)
				return retry.RetryableError(&upstreamError{status: resp.StatusCode, body: truncate(data)})
			default:
				return &upstreamError{status: resp.StatusCode, body: truncate(data)}
			}
		})
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) cachedGet(ctx context.Context, key string, dest any) (bool, error) {
	if c.cache == nil {
		return false, nil
	}
	return c.cache.Get(ctx, "catalog:"+key, dest)
}

func (c *Client) cacheSet(ctx context.Context, key string, value any) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, "catalog:"+key, value); err != nil {
		c.logger.Warn("failed to cache catalog response", "key", key, "error", err)
	}
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
