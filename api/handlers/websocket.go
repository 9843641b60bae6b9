package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/sync-editor/backend/internal/ws"
)

// WebSocketHandler handles WebSocket connections for editing sessions.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Attach handles GET /ws/:sessionId/:userId - joins a session over WebSocket,
// creating it on first connect.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	// Errors are already reported to the client by the WebSocket handler.
	_ = h.wsHandler.HandleConnection(c.Writer, c.Request, c.Param("sessionId"), c.Param("userId"))
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:sessionId/:userId", h.Attach)
}
