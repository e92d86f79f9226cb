package poizon

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeev/poizon-sync/internal/cache"
	"github.com/avdeev/poizon-sync/internal/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(config.CatalogConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil, nil, nil, discard())
	c.baseBackoff = time.Millisecond
	return c
}

func TestBrandsPostsAndDecodes(t *testing.T) {
	var gotKey string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/getBrands", r.URL.Path)
		gotKey = r.Header.Get("x-api-key")
		_, _ = w.Write([]byte(`{"data":[{"id":1,"name":"Nike"},{"id":2,"name":"Adidas"}]}`))
	}))

	brands, err := c.Brands(context.Background(), 100, 0)
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, brands, 2)
	assert.Equal(t, "Nike", brands[0].Name)
}

func TestBrandsServedFromCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":[{"id":1,"name":"Nike"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := New(config.CatalogConfig{BaseURL: srv.URL}, nil, nil,
		cache.New(nil, time.Hour, time.Minute, discard()), discard())

	ctx := context.Background()
	_, err := c.Brands(ctx, 100, 0)
	require.NoError(t, err)
	_, err = c.Brands(ctx, 100, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "second call must hit the cache")
}

func TestCategoriesDecodesBareArray(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "RU", r.URL.Query().Get("lang"))
		_, _ = w.Write([]byte(`[{"id":10,"name":"Обувь","level":1},{"id":11,"name":"Кроссовки","level":2}]`))
	}))

	cats, err := c.Categories(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, 1, cats[0].Level)
}

func TestSearchFallsBackToListKey(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("limit"), "oversized limit must be capped")
		_, _ = w.Write([]byte(`{"list":[{"spuId":42,"title":"Air Max"}]}`))
	}))

	results, err := c.Search(context.Background(), "Nike", 500, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualValues(t, 42, results[0].SpuID)
}

func TestPriceInfoConvertsFenToYuan(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"skus":{
			"601":{"prices":[{"price":59900}],"quantity":5},
			"602":{"prices":[],"quantity":3},
			"603":{"prices":[{"price":0}],"quantity":1}}}`))
	}))

	prices, err := c.PriceInfo(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, prices, 1, "skus without a usable price are skipped")
	assert.Equal(t, SKUPrice{Price: 599, Stock: 5}, prices["601"])
}

func TestPriceInfoForbiddenDegradesToEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	prices, err := c.PriceInfo(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestThrottledRequestIsRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":1,"name":"Nike"}]}`))
	}))

	brands, err := c.Brands(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, brands, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := c.Brands(context.Background(), 10, 0)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFullProductAssembly(t *testing.T) {
	detail := `{
		"detail":{"spuId":42,"title":"【定制球鞋】Nike Air Max 97","articleNumber":"DM0028",
			"categoryName":"运动鞋","desc":"classic"},
		"skus":[
			{"skuId":601,"properties":[{"propertyValueId":1},{"propertyValueId":100}]},
			{"skuId":602,"properties":[{"propertyValueId":2},{"propertyValueId":100}]}],
		"image":{"spuImage":{
			"images":[{"url":"http://img/1.jpg"},{"url":"http://img/2.jpg"}],
			"colorBlockImages":{"100":[{"url":"http://img/black-1.jpg"}]}}},
		"brandRootInfo":{"brandItemList":[{"brandName":"Nike"}]},
		"saleProperties":{"list":[
			{"name":"尺码","value":"42","propertyValueId":1},
			{"name":"尺码","value":"43","propertyValueId":2},
			{"name":"颜色","value":"黑色","propertyValueId":100}]},
		"baseProperties":{"list":[{"key":"材质","value":"кожа"}]}
	}`
	prices := `{"skus":{
		"601":{"prices":[{"price":59900}],"quantity":5},
		"602":{"prices":[{"price":61900}],"quantity":0}}}`

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/productDetailV3":
			_, _ = w.Write([]byte(detail))
		case "/priceInfo":
			_, _ = w.Write([]byte(prices))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	p, err := c.FullProduct(context.Background(), 42)
	require.NoError(t, err)

	assert.EqualValues(t, 42, p.SpuID)
	assert.Equal(t, "Nike", p.Brand)
	assert.Equal(t, "Кроссовки", p.StoreCategory)
	assert.Equal(t, []string{"http://img/1.jpg", "http://img/2.jpg"}, p.Images)
	assert.Equal(t, "кожа", p.Attributes["材质"])

	require.Len(t, p.Variations, 2)
	v := p.Variations[0]
	assert.Equal(t, "601", v.SKUID)
	assert.Equal(t, "42", v.Size)
	assert.Equal(t, "Черный", v.Color)
	assert.Equal(t, 599.0, v.Price)
	assert.Equal(t, 5, v.Stock)
	assert.Equal(t, []string{"http://img/black-1.jpg"}, v.Images)
}

func TestFullProductNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := c.FullProduct(context.Background(), 999)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Nike Air Max", CleanTitle("【定制球鞋】Nike Air Max"))
	assert.Equal(t, "Nike Air Max", CleanTitle("Nike Air Max"))
}

func TestStoreCategoryFor(t *testing.T) {
	assert.Equal(t, "Кроссовки", StoreCategoryFor("运动鞋", ""))
	assert.Equal(t, "Куртки", StoreCategoryFor("", "Nike Jacket Pro"))
	assert.Equal(t, "Товары", StoreCategoryFor("unknown", "mystery item"))
}
