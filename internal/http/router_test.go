package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/catalog"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/http/handlers"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/metrics"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/service"
)

var routerRegions = []domain.RegionCandidate{
	{Name: "Brazil", Kind: domain.RegionKindCountry, Continent: "Americas", Population: 210_000_000, ChristianMajority: true},
	{Name: "Chile", Kind: domain.RegionKindCountry, Continent: "Americas"},
	{Name: "Bahia", Kind: domain.RegionKindState, Continent: "Americas", CountryCode: "BR", ParentRegion: "Brazil"},
	{Name: "Kenya", Kind: domain.RegionKindCountry, Continent: "Africa"},
}

const (
	testToken  = "secret-token"
	otherToken = "other-token"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	svc := service.NewBatchService(service.BatchServiceDependencies{
		Repo:    repository.NewMemoryBatchRepository(),
		Catalog: catalog.NewStaticCatalog(routerRegions),
		Metrics: m,
	})
	return NewRouter(RouterDependencies{
		API:        handlers.NewAPI(svc, nil),
		Metrics:    m.Handler(),
		AuthTokens: map[string]string{testToken: "ops", otherToken: "auditor"},
	})
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequestAs(t, router, testToken, method, path, body)
}

func doRequestAs(t *testing.T, router http.Handler, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	request := httptest.NewRequest(method, path, &payload)
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &value), recorder.Body.String())
	return value
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

var americasConfig = map[string]any{
	"continent":    "Americas",
	"region_kinds": []string{"country", "state"},
}

func TestHealthIsPublic(t *testing.T) {
	router := newTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
}

func TestHealthReportsFailingDependency(t *testing.T) {
	svc := service.NewBatchService(service.BatchServiceDependencies{
		Repo:    repository.NewMemoryBatchRepository(),
		Catalog: catalog.NewStaticCatalog(routerRegions),
	})
	api := handlers.NewAPI(svc, nil).WithHealthChecks(map[string]handlers.HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
		"unused":   nil,
	})
	router := NewRouter(RouterDependencies{API: api})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"postgres":"ok","redis":"connection refused"}}`, recorder.Body.String())
}

func TestAPIRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/batches", nil))

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	body := decodeBody[errorBody](t, recorder)
	assert.Equal(t, "unauthorized", body.Error.Code)
	assert.NotEmpty(t, body.RequestID)
}

func TestPreviewEndpoint(t *testing.T) {
	router := newTestRouter(t)

	recorder := doRequest(t, router, http.MethodPost, "/v1/previews", americasConfig)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	preview := decodeBody[domain.Preview](t, recorder)
	require.Equal(t, 3, preview.TotalRegions)
	assert.Equal(t, "Brazil", preview.Items[0].Name)
	assert.Equal(t, 2, preview.Summary.Countries)
	assert.Equal(t, 1, preview.Summary.States)
}

func TestPreviewRejectsUnknownFields(t *testing.T) {
	router := newTestRouter(t)

	recorder := doRequest(t, router, http.MethodPost, "/v1/previews", map[string]any{"continent": "Americas", "bogus": true})

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "invalid_request", decodeBody[errorBody](t, recorder).Error.Code)
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	created := doRequest(t, router, http.MethodPost, "/v1/batches", map[string]any{
		"name":   "Americas sweep",
		"config": americasConfig,
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	batch := decodeBody[domain.Batch](t, created)
	assert.Equal(t, domain.BatchStatusCreated, batch.Status)
	assert.Equal(t, 3, batch.TotalRegions)
	assert.Equal(t, "ops", batch.CreatedBy)

	listed := doRequest(t, router, http.MethodGet, "/v1/batches?status=created", nil)
	require.Equal(t, http.StatusOK, listed.Code)
	list := decodeBody[struct {
		Batches []domain.Batch `json:"batches"`
		Total   int            `json:"total"`
	}](t, listed)
	assert.Equal(t, 1, list.Total)

	started := doRequest(t, router, http.MethodPost, "/v1/batches/"+batch.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, started.Code, started.Body.String())
	assert.Equal(t, domain.BatchStatusRunning, decodeBody[domain.Batch](t, started).Status)

	again := doRequest(t, router, http.MethodPost, "/v1/batches/"+batch.ID+"/start", nil)
	require.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "already_running", decodeBody[errorBody](t, again).Error.Code)

	deleteRunning := doRequest(t, router, http.MethodDelete, "/v1/batches/"+batch.ID, nil)
	require.Equal(t, http.StatusConflict, deleteRunning.Code)
	assert.Equal(t, "invalid_transition", decodeBody[errorBody](t, deleteRunning).Error.Code)

	progress := doRequest(t, router, http.MethodGet, "/v1/batches/"+batch.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, progress.Code)
	snapshot := decodeBody[domain.ProgressSnapshot](t, progress)
	assert.Equal(t, 3, snapshot.QueuedRegions)
	assert.Equal(t, 0, snapshot.ProgressPercent)

	items := doRequest(t, router, http.MethodGet, "/v1/batches/"+batch.ID+"/items?status=queued&limit=2", nil)
	require.Equal(t, http.StatusOK, items.Code)
	page := decodeBody[struct {
		Items []domain.QueueItem `json:"items"`
	}](t, items)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Brazil", page.Items[0].RegionName)

	stopped := doRequest(t, router, http.MethodPost, "/v1/batches/"+batch.ID+"/stop", nil)
	require.Equal(t, http.StatusAccepted, stopped.Code)
	assert.Equal(t, domain.BatchStatusCancelled, decodeBody[domain.Batch](t, stopped).Status)

	paused := doRequest(t, router, http.MethodPost, "/v1/batches/"+batch.ID+"/pause", nil)
	require.Equal(t, http.StatusConflict, paused.Code)

	deleted := doRequest(t, router, http.MethodDelete, "/v1/batches/"+batch.ID, nil)
	require.Equal(t, http.StatusNoContent, deleted.Code)

	missing := doRequest(t, router, http.MethodGet, "/v1/batches/"+batch.ID, nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "not_found", decodeBody[errorBody](t, missing).Error.Code)
}

func TestBatchRoutesHideOtherActorsBatches(t *testing.T) {
	router := newTestRouter(t)
	created := doRequest(t, router, http.MethodPost, "/v1/batches", map[string]any{
		"name":   "Owned by ops",
		"config": map[string]any{"continent": "Americas", "region_kinds": []string{"country"}},
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	batch := decodeBody[domain.Batch](t, created)

	base := "/v1/batches/" + batch.ID
	routes := []struct{ method, path string }{
		{http.MethodGet, base},
		{http.MethodGet, base + "/progress"},
		{http.MethodGet, base + "/items"},
		{http.MethodPost, base + "/start"},
		{http.MethodPost, base + "/pause"},
		{http.MethodPost, base + "/stop"},
		{http.MethodDelete, base},
	}
	for _, route := range routes {
		recorder := doRequestAs(t, router, otherToken, route.method, route.path, nil)
		assert.Equalf(t, http.StatusNotFound, recorder.Code, "%s %s", route.method, route.path)
		assert.Equal(t, "not_found", decodeBody[errorBody](t, recorder).Error.Code)
	}

	owner := doRequest(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, owner.Code)
	assert.Equal(t, domain.BatchStatusCreated, decodeBody[domain.Batch](t, owner).Status)
}

func TestCreateBatchRequiresName(t *testing.T) {
	router := newTestRouter(t)

	recorder := doRequest(t, router, http.MethodPost, "/v1/batches", map[string]any{"config": americasConfig})

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "invalid_request", decodeBody[errorBody](t, recorder).Error.Code)
}

func TestListItemsRejectsBadQuery(t *testing.T) {
	router := newTestRouter(t)

	recorder := doRequest(t, router, http.MethodGet, "/v1/batches/any/items?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(t, router, http.MethodGet, "/v1/batches/any/items?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "regionqueue_")
}
