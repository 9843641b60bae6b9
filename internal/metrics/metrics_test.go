package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the first series of name whose labels include want.
func sample(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("no sample for %s %v", name, want)
	return 0
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessageReceived("contentUpdate")
	m.MessageDropped("decode")
	m.BroadcastFailed(2)
	m.SessionEvicted()
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, func() float64 { return 3 })

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessageReceived("contentUpdate")
	m.MessageDropped("decode")
	m.MessageDropped("decode")
	m.BroadcastFailed(2)
	m.SessionEvicted()

	assert.Equal(t, 1.0, sample(t, reg, "sync_editor_connections_active", nil))
	assert.Equal(t, 3.0, sample(t, reg, "sync_editor_sessions_active", nil))
	assert.Equal(t, 1.0, sample(t, reg, "sync_editor_messages_received_total", map[string]string{"type": "contentUpdate"}))
	assert.Equal(t, 2.0, sample(t, reg, "sync_editor_messages_dropped_total", map[string]string{"reason": "decode"}))
	assert.Equal(t, 2.0, sample(t, reg, "sync_editor_broadcast_failures_total", nil))
	assert.Equal(t, 1.0, sample(t, reg, "sync_editor_sessions_evicted_total", nil))
}

func TestGinMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := New(reg, nil)

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/editor/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/editor/abc", nil))

	got := sample(t, reg, "sync_editor_http_requests_total", map[string]string{
		"method": "GET", "path": "/api/editor/:id", "status": "404",
	})
	assert.Equal(t, 1.0, got)
}
