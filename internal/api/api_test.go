package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeev/poizon-sync/internal/cache"
	"github.com/avdeev/poizon-sync/internal/dispatch"
	"github.com/avdeev/poizon-sync/internal/poizon"
	"github.com/avdeev/poizon-sync/internal/queue"
	"github.com/avdeev/poizon-sync/internal/service/auth"
	"github.com/avdeev/poizon-sync/internal/tasks"
)

const validToken = "valid-token"

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, username, password string) (string, error) {
	if username == "operator" && password == "secret" {
		return validToken, nil
	}
	return "", auth.ErrInvalidCredentials
}

func (fakeAuth) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	if token == validToken {
		return &auth.Claims{Username: "operator"}, nil
	}
	return nil, auth.ErrInvalidToken
}

type dispatched struct {
	name string
	args any
}

type fakeDispatcher struct {
	mode  dispatch.Mode
	calls []dispatched
}

func (f *fakeDispatcher) Dispatch(_ context.Context, name string, args any) (uuid.UUID, error) {
	f.calls = append(f.calls, dispatched{name: name, args: args})
	return uuid.New(), nil
}

func (f *fakeDispatcher) Mode() dispatch.Mode { return f.mode }

type fakeResults struct {
	results map[uuid.UUID]*queue.Result
}

func (f *fakeResults) Get(_ context.Context, id uuid.UUID) (*queue.Result, error) {
	res, ok := f.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrResultNotFound, id)
	}
	return res, nil
}

type fakeCatalog struct {
	brands     []poizon.Brand
	categories []poizon.Category
	search     []poizon.SearchResult
}

func (f *fakeCatalog) Brands(_ context.Context, _, _ int) ([]poizon.Brand, error) {
	return f.brands, nil
}

func (f *fakeCatalog) Categories(_ context.Context, _ string) ([]poizon.Category, error) {
	return f.categories, nil
}

func (f *fakeCatalog) Search(_ context.Context, _ string, _, _ int) ([]poizon.SearchResult, error) {
	return f.search, nil
}

type fakeBroker struct {
	dead       []queue.DeadEntry
	requeueErr error
	requeued   []uuid.UUID
}

func (f *fakeBroker) DeadLetters(_ context.Context, _ int64) ([]queue.DeadEntry, error) {
	return f.dead, nil
}

func (f *fakeBroker) RequeueDead(_ context.Context, id uuid.UUID) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeued = append(f.requeued, id)
	return nil
}

func (f *fakeBroker) Depths(_ context.Context) (int64, int64, int64, error) {
	return 3, 1, 2, nil
}

type fixture struct {
	server     *httptest.Server
	dispatcher *fakeDispatcher
	results    *fakeResults
	catalog    *fakeCatalog
	broker     *fakeBroker
	cache      *cache.Cache
}

func newFixture(t *testing.T, broker Broker) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		dispatcher: &fakeDispatcher{mode: dispatch.ModeAsync},
		results:    &fakeResults{results: map[uuid.UUID]*queue.Result{}},
		catalog:    &fakeCatalog{},
		cache:      cache.New(nil, time.Hour, time.Minute, logger),
	}
	if fb, ok := broker.(*fakeBroker); ok {
		f.broker = fb
	}
	h := NewHandler(fakeAuth{}, f.dispatcher, f.results, f.catalog, f.cache, broker, logger)
	f.server = httptest.NewServer(NewRouter(h))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthReportsModeAndDepths(t *testing.T) {
	f := newFixture(t, &fakeBroker{})

	resp := f.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := decode[map[string]any](t, resp)
	assert.Equal(t, "async", health["mode"])
	queues := health["queues"].(map[string]any)
	assert.EqualValues(t, 3, queues["ready"])
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/login", "",
		map[string]string{"username": "operator", "password": "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, validToken, body["token"])

	resp = f.request(t, http.MethodPost, "/login", "",
		map[string]string{"username": "operator", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodGet, "/api/brands", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.request(t, http.MethodGet, "/api/brands", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestUploadFansOutPerProduct(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/upload", validToken, map[string]any{
		"product_ids": []int64{1, 2, 3},
		"settings":    map[string]float64{"currency_rate": 13.5, "markup_rubles": 5000},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.EqualValues(t, 3, body["count"])
	assert.Equal(t, "async", body["mode"])

	require.Len(t, f.dispatcher.calls, 3)
	assert.Equal(t, tasks.TaskUploadProduct, f.dispatcher.calls[0].name)
	args := f.dispatcher.calls[0].args.(tasks.UploadProductArgs)
	assert.EqualValues(t, 1, args.SpuID)
	assert.Equal(t, 13.5, args.Settings.CurrencyRate)
}

func TestUploadRejectsEmptyBatch(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/upload", validToken,
		map[string]any{"product_ids": []int64{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestUpdatePricesUsesPriceTask(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/prices/update", validToken,
		map[string]any{"product_ids": []int64{777}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	require.Len(t, f.dispatcher.calls, 1)
	assert.Equal(t, tasks.TaskUpdateProductPrice, f.dispatcher.calls[0].name)
	args := f.dispatcher.calls[0].args.(tasks.UpdatePriceArgs)
	assert.EqualValues(t, 777, args.ProductID)
}

func TestTaskResult(t *testing.T) {
	f := newFixture(t, nil)
	id := uuid.New()
	f.results.results[id] = &queue.Result{ID: id, TaskName: tasks.TaskUploadProduct, State: queue.StateSuccess}

	resp := f.request(t, http.MethodGet, "/api/tasks/"+id.String(), validToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[queue.Result](t, resp)
	assert.Equal(t, queue.StateSuccess, result.State)

	resp = f.request(t, http.MethodGet, "/api/tasks/"+uuid.NewString(), validToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.request(t, http.MethodGet, "/api/tasks/not-a-uuid", validToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestBrandsPrefersRefreshedCache(t *testing.T) {
	f := newFixture(t, nil)
	f.catalog.brands = []poizon.Brand{{ID: 1, Name: "FromCatalog"}}
	require.NoError(t, f.cache.Set(context.Background(), tasks.AllBrandsCacheKey,
		[]poizon.Brand{{ID: 2, Name: "FromCache"}}))

	resp := f.request(t, http.MethodGet, "/api/brands", validToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	brands := decode[[]poizon.Brand](t, resp)
	require.Len(t, brands, 1)
	assert.Equal(t, "FromCache", brands[0].Name)
}

func TestBrandsFallsBackToCatalog(t *testing.T) {
	f := newFixture(t, nil)
	f.catalog.brands = []poizon.Brand{{ID: 1, Name: "Nike"}}

	resp := f.request(t, http.MethodGet, "/api/brands", validToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	brands := decode[[]poizon.Brand](t, resp)
	require.Len(t, brands, 1)
	assert.Equal(t, "Nike", brands[0].Name)
}

func TestManualSearchRequiresSKU(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodGet, "/api/search/manual", validToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	f.catalog.search = []poizon.SearchResult{{SpuID: 42, Title: "Air Max"}}
	resp = f.request(t, http.MethodGet, "/api/search/manual?sku=DM0028", validToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode[[]poizon.SearchResult](t, resp)
	require.Len(t, results, 1)
	assert.EqualValues(t, 42, results[0].SpuID)
}

func TestCacheStatsAndClear(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.cache.Set(context.Background(), "k", "v"))

	resp := f.request(t, http.MethodGet, "/api/cache/stats", validToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[cache.Stats](t, resp)
	assert.EqualValues(t, 1, stats.Sets)

	resp = f.request(t, http.MethodPost, "/api/cache/clear", validToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	assert.Zero(t, f.cache.Snapshot().MemoryItems)
}

func TestRequeueDead(t *testing.T) {
	broker := &fakeBroker{}
	f := newFixture(t, broker)
	id := uuid.New()

	resp := f.request(t, http.MethodPost, "/api/deadletter/"+id.String()+"/requeue", validToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	assert.Equal(t, []uuid.UUID{id}, broker.requeued)
}

func TestRequeueDeadNotFound(t *testing.T) {
	broker := &fakeBroker{requeueErr: queue.ErrNotDeadLettered}
	f := newFixture(t, broker)

	resp := f.request(t, http.MethodPost, "/api/deadletter/"+uuid.NewString()+"/requeue", validToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestQueueAdminUnavailableInlineMode(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/deadletter/"+uuid.NewString()+"/requeue", validToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.request(t, http.MethodGet, "/api/deadletter", validToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}
