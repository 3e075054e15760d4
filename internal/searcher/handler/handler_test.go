package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Hikikomori041/m2-projetweb/internal/commentindex"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer"
	"github.com/Hikikomori041/m2-projetweb/pkg/config"
	"github.com/Hikikomori041/m2-projetweb/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *commentindex.Service) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.Indexer.Storage = config.StorageMemory
	svc, err := commentindex.Open(ctx, cfg)
	require.NoError(t, err)

	checker := health.NewChecker()
	checker.Register("index", health.PingCheck(svc.Ping, false))
	router := NewRouter(New(svc, nil, 3), RouterConfig{
		Health: checker,
		Server: cfg.Server,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		svc.Close(ctx)
	})
	return srv, svc
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestKeywordSearchFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/api/v1/documents/1", `{"comment":"Super service, bon prix"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPut, srv.URL+"/api/v1/documents/2", `{"comment":"Service un peu lent mais prix correct"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/search", `["service","prix"]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"1", "2"}, decode[[]string](t, resp))

	resp = do(t, http.MethodDelete, srv.URL+"/api/v1/documents/1", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/search", `{"keywords":["service"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"2"}, decode[[]string](t, resp))
}

func TestKeywordSearchEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/search", `[]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{}, decode[[]string](t, resp))
}

func TestKeywordSearchRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/search", `"service"`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/search", `["a","b","c","d"]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddDocumentKeepsDuplicates(t *testing.T) {
	srv, svc := newTestServer(t)

	for range 2 {
		resp := do(t, http.MethodPost, srv.URL+"/api/v1/documents", `{"id":"5","comment":"terrasse"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.LiveDocs)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/search", `["terrasse"]`)
	assert.Equal(t, []string{"5"}, decode[[]string](t, resp))
}

func TestDocumentValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/documents", `{"comment":"sans id"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Contains(t, body["fields"], "id")

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/documents/1", `{"id":"2","comment":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/api/v1/documents/1", `{"comment":"x","rating":5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScoredSearch(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, http.MethodPut, srv.URL+"/api/v1/documents/1", `{"comment":"Super service, bon prix"}`)
	do(t, http.MethodPut, srv.URL+"/api/v1/documents/2", `{"comment":"Service un peu lent mais prix correct"}`)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/search?q=service+prix&limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[commentindex.SearchResult](t, resp)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "1", res.Hits[0].DocID)
	assert.Equal(t, uint64(2), res.Generation)
	assert.Greater(t, res.Hits[0].Score, 0.0)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/search?q=service+NOT+lent&boolean=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	boolRes := decode[commentindex.SearchResult](t, resp)
	assert.Equal(t, []string{"1"}, boolRes.IDs())

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/search?q=service+AND&boolean=true", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/search?q=service&limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIndexAdminRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, http.MethodPut, srv.URL+"/api/v1/documents/1", `{"comment":"a"}`)
	do(t, http.MethodPut, srv.URL+"/api/v1/documents/2", `{"comment":"b"}`)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/index/merge", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/index/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[indexer.Stats](t, resp)
	assert.Equal(t, uint64(2), stats.LiveDocs)
	assert.Len(t, stats.Segments, 1)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/cache/stats", "")
	assert.Equal(t, "disabled", decode[map[string]string](t, resp)["status"])
}

func TestHealthAndTrailingSlash(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/index/stats/", "")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/api/v1/index/stats", resp.Header.Get("Location"))
}

func TestClosedIndexIsUnavailable(t *testing.T) {
	srv, svc := newTestServer(t)
	require.NoError(t, svc.Close(context.Background()))

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/search", `["service"]`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
