package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/catalog"
	"github.com/devrev/otree/internal/config"
	"github.com/devrev/otree/internal/datafile"
	"github.com/devrev/otree/internal/handler"
	"github.com/devrev/otree/internal/health"
	"github.com/devrev/otree/internal/metrics"
	"github.com/devrev/otree/internal/service"
	"github.com/devrev/otree/internal/snapshot"
	"github.com/devrev/otree/internal/store"
	"github.com/devrev/otree/internal/txlog"
	"github.com/devrev/otree/internal/util/workerpool"
	"github.com/devrev/otree/internal/validation"
)

type testServer struct {
	server  *Server
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.DefaultConfig()
	cfg.Data.Dir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	log := txlog.NewMemoryLog()

	data, err := datafile.NewStore(cfg.Data.Dir, logger)
	require.NoError(t, err)
	loader, err := snapshot.NewLoader(log, 16, m, logger)
	require.NoError(t, err)
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "data-writer", MaxWorkers: 2, Logger: logger})
	t.Cleanup(func() { pool.Stop(time.Second) })

	svc := service.NewTableService(service.Config{
		DefaultCubeSize: 100,
		Partitions:      2,
		CommitRetries:   1,
		TableSeed:       7,
	}, log, loader, data, store.NewMemoryStore(100, logger), pool, m, logger)

	tables := handler.NewTableHandler(svc, catalog.NewResolver(cfg.Data.Dir, validation.NewValidator()),
		handler.Config{MaxBodyBytes: cfg.Server.MaxBodyBytes}, logger)
	checker := health.NewHealthChecker(health.HealthCheckConfig{DataDir: cfg.Data.Dir}, logger)
	checker.RunChecks(context.Background())

	return &testServer{server: NewServer(cfg, tables, checker, reg, m, logger), metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func saveBody(n int, seed int64, appendMode bool) map[string]interface{} {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]interface{}, n)
	for i := range rows {
		rows[i] = []interface{}{i, rng.Float64(), rng.Float64(), "2024-05-01T10:00:00Z"}
	}
	rows[0][1], rows[0][2] = 0.0, 0.0
	rows[1][1], rows[1][2] = 1.0, 1.0
	return map[string]interface{}{
		"schema": map[string]interface{}{"columns": []map[string]string{
			{"name": "id", "type": "int64"},
			{"name": "x", "type": "float64"},
			{"name": "y", "type": "float64"},
			{"name": "at", "type": "timestamp"},
		}},
		"rows":      rows,
		"columns":   []string{"x", "y"},
		"cube_size": 100,
		"append":    appendMode,
	}
}

func TestSaveAndInspect(t *testing.T) {
	ts := newTestServer(t, nil)

	w, body := ts.do(t, http.MethodPost, "/v1/tables/sales.eu/save", saveBody(400, 1, false))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["version"])
	assert.Equal(t, float64(400), body["records"])
	assert.Equal(t, true, body["new_revision"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, body = ts.do(t, http.MethodGet, "/v1/tables/sales.eu/status", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "sales.eu", body["table_id"])
	assert.Equal(t, float64(400), body["total_size"])
	cubes := body["cubes"].([]interface{})
	require.NotEmpty(t, cubes)
	assert.Equal(t, "", cubes[0].(map[string]interface{})["cube"], "root comes first")

	w, body = ts.do(t, http.MethodGet, "/v1/tables/sales.eu/revisions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["revisions"], 1)

	w, _ = ts.do(t, http.MethodGet, "/v1/tables/sales.eu/revisions/1/status?version=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = ts.do(t, http.MethodGet, "/v1/tables/sales.eu/revisions/9/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RevisionNotFoundError", body["error_code"])

	w, body = ts.do(t, http.MethodGet, "/v1/tables/sales.eu/status?version=9", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidArgument", body["error_code"])

	w, body = ts.do(t, http.MethodPost, "/v1/tables/sales.eu/query", map[string]interface{}{
		"bounds": map[string]interface{}{"x": map[string]interface{}{"min": 0.0, "max": 0.25}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	revs := body["revisions"].([]interface{})
	require.Len(t, revs, 1)
	rows := revs[0].(map[string]interface{})["rows"].(float64)
	assert.Greater(t, rows, 0.0)
	assert.Less(t, rows, 400.0)
}

func TestSaveErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	w, _ := ts.do(t, http.MethodPost, "/v1/tables/events/save", saveBody(200, 1, false))
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name     string
		path     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"overwrite", "/v1/tables/events/save", saveBody(50, 2, false), http.StatusBadRequest, "ConfigurationError"},
		{"bad json", "/v1/tables/events/save", "not an object", http.StatusBadRequest, "InvalidArgument"},
		{"bad table name", "/v1/tables/bad%20name/save", saveBody(50, 2, true), http.StatusBadRequest, "InvalidArgument"},
		{"row type", "/v1/tables/events/save", map[string]interface{}{
			"schema": map[string]interface{}{"columns": []map[string]string{{"name": "x", "type": "float64"}}},
			"rows":   [][]interface{}{{"abc"}},
			"append": true,
		}, http.StatusBadRequest, "InvalidArgument"},
		{"unknown table", "/v1/tables/nothing/status", nil, http.StatusNotFound, "TableNotFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if strings.HasSuffix(tt.path, "/status") {
				method = http.MethodGet
			}
			w, body := ts.do(t, method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, body["error_code"])
		})
	}
}

func TestIdempotencyKeyReplays(t *testing.T) {
	ts := newTestServer(t, nil)

	w, first := ts.do(t, http.MethodPost, "/v1/tables/events/save", saveBody(200, 1, true), "Idempotency-Key", "batch-7")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, second := ts.do(t, http.MethodPost, "/v1/tables/events/save", saveBody(200, 1, true), "Idempotency-Key", "batch-7")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, second["replayed"])
	assert.Equal(t, first["version"], second["version"])
	assert.Equal(t, first["transaction_id"], second["transaction_id"])
}

func TestMetricsAndProbes(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodGet, "/v1/tables/missing/revisions", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		ts.metrics.HTTPRequestsTotal.WithLabelValues("/v1/tables/{table}/revisions", http.MethodGet, "404")))

	w, _ := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "otree_http_requests_total")

	w, _ = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body := ts.do(t, http.MethodGet, "/v2/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "endpoint not found", body["message"])
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerSecond = 0.001
		c.RateLimit.Burst = 1
	})

	w, _ := ts.do(t, http.MethodGet, "/v1/tables/a/revisions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := ts.do(t, http.MethodGet, "/v1/tables/a/revisions", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "ResourceExhausted", body["error_code"])
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestIDPreserved(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-1", r.Context().Value(RequestIDKey))
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
}
