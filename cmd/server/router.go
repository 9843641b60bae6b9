package main

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sync-editor/backend/api/handlers"
	"github.com/sync-editor/backend/internal/logging"
	"github.com/sync-editor/backend/internal/metrics"
	"github.com/sync-editor/backend/internal/session"
	"github.com/sync-editor/backend/internal/ws"
)

type routerDeps struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	origins  []string
	store    *session.Store
	hub      *ws.Hub
	archive  handlers.ArchiveReader
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger(d.logger), d.metrics.GinMiddleware(), corsMiddleware(d.origins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})))

	editorHandler := handlers.NewEditorHandler(d.store, d.hub, d.archive, d.logger)
	wsHandler := handlers.NewWebSocketHandler(ws.NewHandler(d.hub, checkOrigin(d.origins), d.logger))

	api := r.Group("/api")
	editorHandler.RegisterRoutes(api)
	wsHandler.RegisterRoutes(r.Group("/ws"))

	return r
}

func originAllowed(origins []string, origin string) bool {
	return slices.Contains(origins, "*") || slices.Contains(origins, origin)
}

// checkOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests from an allowed origin.
func checkOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || originAllowed(origins, origin)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(origins, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
