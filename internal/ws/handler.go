package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sync-editor/backend/internal/model"
)

// Handler upgrades HTTP requests to WebSocket connections served by a Hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a Handler. A nil checkOrigin accepts every origin.
func NewHandler(hub *Hub, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.Named("ws"),
	}
}

// HandleConnection upgrades the request and blocks until the connection ends.
// Invalid identifiers are rejected with 400 before upgrading.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sessionID, userID string) error {
	if err := model.ValidateID(sessionID); err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return err
	}
	if err := model.ValidateID(userID); err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return err
	}

	// The upgrader has already written an error response on failure.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return err
	}

	return h.hub.Serve(r.Context(), conn, sessionID, userID)
}
