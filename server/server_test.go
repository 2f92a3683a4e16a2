package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwillington/filter-mapkit/cluster"
	"github.com/jonwillington/filter-mapkit/config"
	"github.com/jonwillington/filter-mapkit/runner"
	"github.com/jonwillington/filter-mapkit/shop"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.BootstrapShops = 50
	cfg.Server.SnapshotDir = t.TempDir()

	srv, err := New(cfg)
	require.NoError(t, err)

	hub := runner.NewHub(cfg, srv.Shops)
	t.Cleanup(hub.Close)

	return NewRouter(srv, hub), srv
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const worldQuery = "zoom=2&north=85&south=-85&east=180&west=-180"

func TestClustersEndpointReturnsFeatures(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(t, r, "GET", "/api/clusters?"+worldQuery, "")
	require.Equal(t, http.StatusOK, w.Code)

	var fc cluster.FeatureCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.NotEmpty(t, fc.Features)
}

func TestClustersRejectsMissingParams(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(t, r, "GET", "/api/clusters?zoom=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, r, "GET", "/api/clusters?zoom=5&north=85&south=-85&east=180", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCatalogSwapRebuildsIndex(t *testing.T) {
	r, srv := newTestRouter(t)

	body := `[{"id":"solo","name":"Solo Roasters","location":{"lng":-0.1,"lat":51.5}}]`
	w := doRequest(t, r, "POST", "/api/shops", body)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, srv.Shops(), 1)
	assert.Equal(t, "solo", srv.Shops()[0].ID)

	w = doRequest(t, r, "GET", "/api/clusters?"+worldQuery, "")
	require.Equal(t, http.StatusOK, w.Code)

	var fc cluster.FeatureCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 1)
}

func TestCatalogSwapRejectsMalformedBody(t *testing.T) {
	r, srv := newTestRouter(t)
	before := len(srv.Shops())

	w := doRequest(t, r, "POST", "/api/shops", `{"not":"a list"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, srv.Shops(), before)
}

func TestSummaryEndpointCountsEverything(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(t, r, "GET", "/api/clusters/summary?"+worldQuery, "")
	require.Equal(t, http.StatusOK, w.Code)

	var sum cluster.FeatureSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Greater(t, sum.TotalPoints, 0)
}

func TestSnapshotSaveListLoad(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(t, r, "POST", "/api/clusters", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, r, "GET", "/api/clusters/list", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snapshots []cluster.SnapshotInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshots))
	require.Len(t, snapshots, 1)

	w = doRequest(t, r, "POST", "/api/clusters/load/"+snapshots[0].ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSnapshotLoadUnknownID(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(t, r, "POST", "/api/clusters/load/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeneratedCatalogFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Server.BootstrapShops = 25
	cfg.Server.SnapshotDir = t.TempDir()

	srv, err := New(cfg)
	require.NoError(t, err)
	assert.Len(t, srv.Shops(), 25)
}

func TestCatalogPathLoads(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/catalog.yaml"
	shops := shop.GenerateShops(10, 7)
	require.NoError(t, shop.SaveCatalog(path, shops))

	cfg := config.Default()
	cfg.Server.CatalogPath = path
	cfg.Server.SnapshotDir = dir

	srv, err := New(cfg)
	require.NoError(t, err)
	assert.Len(t, srv.Shops(), 10)
}
