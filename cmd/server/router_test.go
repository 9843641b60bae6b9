package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sync-editor/backend/internal/metrics"
	"github.com/sync-editor/backend/internal/session"
	"github.com/sync-editor/backend/internal/ws"
)

func newTestRouter(t *testing.T, origins []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := session.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, func() float64 { return float64(store.Count()) })
	hub := ws.NewHub(store, ws.NewRegistry(), ws.Options{Metrics: m})
	t.Cleanup(hub.Close)

	return newRouter(routerDeps{
		logger:   zap.NewNop(),
		metrics:  m,
		gatherer: reg,
		origins:  origins,
		store:    store,
		hub:      hub,
	})
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/editor", strings.NewReader(`{"id":"s1"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sync_editor_sessions_active 1")
	assert.Contains(t, rec.Body.String(), `sync_editor_http_requests_total{method="POST",path="/api/editor",status="201"} 1`)
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t, []string{"http://localhost:5025"})

	req := httptest.NewRequest(http.MethodOptions, "/api/editor", nil)
	req.Header.Set("Origin", "http://localhost:5025")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5025", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"http://localhost:5025"})

	req := httptest.NewRequest(http.MethodGet, "/ws/s1/alice", nil)
	assert.True(t, check(req), "no Origin header")

	req.Header.Set("Origin", "http://localhost:5025")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.test")
	assert.False(t, check(req))

	req.Header.Set("Origin", "http://anything.test")
	assert.True(t, checkOrigin([]string{"*"})(req))
}
