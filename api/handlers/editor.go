// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sync-editor/backend/internal/model"
	"github.com/sync-editor/backend/internal/session"
)

// ContentReplacer applies a content change and notifies connected clients.
type ContentReplacer interface {
	ReplaceContent(sessionID, content string) (model.Session, error)
}

// ArchiveReader reads archived sessions.
type ArchiveReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]*model.ArchivedSession, error)
	Latest(ctx context.Context, sessionID string) (*model.ArchivedSession, error)
}

// EditorHandler handles HTTP requests for editing sessions.
type EditorHandler struct {
	store    *session.Store
	replacer ContentReplacer
	archive  ArchiveReader
	logger   *zap.Logger
}

// NewEditorHandler creates a new EditorHandler. archive may be nil when
// archiving is disabled.
func NewEditorHandler(store *session.Store, replacer ContentReplacer, archive ArchiveReader, logger *zap.Logger) *EditorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EditorHandler{
		store:    store,
		replacer: replacer,
		archive:  archive,
		logger:   logger,
	}
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID             string   `json:"id"`
	Content        string   `json:"content"`
	Language       string   `json:"language"`
	ConnectedUsers []string `json:"connectedUsers"`
	LastModified   string   `json:"lastModified"`
	CreatedAt      string   `json:"createdAt"`
}

// ArchiveResponse represents an archived session in API responses.
type ArchiveResponse struct {
	ID           int64  `json:"id"`
	SessionID    string `json:"sessionId"`
	Content      string `json:"content"`
	Language     string `json:"language"`
	LastModified string `json:"lastModified"`
	EndedAt      string `json:"endedAt"`
}

// UpdateContentRequest is the object form of a content update body.
type UpdateContentRequest struct {
	Content *string `json:"content"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toSessionResponse(s model.Session) *SessionResponse {
	users := s.Participants
	if users == nil {
		users = []string{}
	}
	return &SessionResponse{
		ID:             s.ID,
		Content:        s.Content,
		Language:       s.Language,
		ConnectedUsers: users,
		LastModified:   s.LastModified.Format(time.RFC3339Nano),
		CreatedAt:      s.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toArchiveResponse(a *model.ArchivedSession, _ int) *ArchiveResponse {
	return &ArchiveResponse{
		ID:           a.ID,
		SessionID:    a.SessionID,
		Content:      a.Content,
		Language:     a.Language,
		LastModified: a.LastModified.Format(time.RFC3339Nano),
		EndedAt:      a.EndedAt.Format(time.RFC3339Nano),
	}
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendStoreError maps store errors onto HTTP responses.
func (h *EditorHandler) sendStoreError(c *gin.Context, sessionID string, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
	case errors.Is(err, model.ErrSessionExists):
		sendError(c, http.StatusConflict, "SESSION_EXISTS", "Session "+sessionID+" already exists")
	case errors.Is(err, model.ErrInvalidID):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		h.logger.Error("session operation failed", zap.String("session_id", sessionID), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
	}
}

// Create handles POST /api/editor - creates a new session. The body is
// optional; without an id one is generated.
func (h *EditorHandler) Create(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	sess, err := h.store.Create(req.ID)
	if err != nil {
		h.sendStoreError(c, req.ID, err)
		return
	}

	h.logger.Info("session created", zap.String("session_id", sess.ID))
	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

// Get handles GET /api/editor/:id - gets a live session.
func (h *EditorHandler) Get(c *gin.Context) {
	sessionID := c.Param("id")

	sess, err := h.store.Get(sessionID)
	if err != nil {
		h.sendStoreError(c, sessionID, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Update handles PUT /api/editor/:id - replaces the content of a live session.
// The body is either a JSON string or {"content": "..."}.
func (h *EditorHandler) Update(c *gin.Context) {
	sessionID := c.Param("id")

	body, err := c.GetRawData()
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to read request body")
		return
	}
	content, ok := parseContent(body)
	if !ok {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Body must be a JSON string or an object with a content field")
		return
	}

	sess, err := h.replacer.ReplaceContent(sessionID, content)
	if err != nil {
		h.sendStoreError(c, sessionID, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func parseContent(body []byte) (string, bool) {
	var content string
	if err := json.Unmarshal(body, &content); err == nil {
		return content, true
	}

	var req UpdateContentRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Content == nil {
		return "", false
	}
	return *req.Content, true
}

// ListArchives handles GET /api/editor/:id/archive - lists archived
// snapshots of a session id, newest first.
func (h *EditorHandler) ListArchives(c *gin.Context) {
	sessionID := c.Param("id")
	if h.archive == nil {
		c.JSON(http.StatusOK, []*ArchiveResponse{})
		return
	}

	archives, err := h.archive.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to list archives", zap.String("session_id", sessionID), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list archives")
		return
	}

	c.JSON(http.StatusOK, lo.Map(archives, toArchiveResponse))
}

// LatestArchive handles GET /api/editor/:id/archive/latest.
func (h *EditorHandler) LatestArchive(c *gin.Context) {
	sessionID := c.Param("id")
	if h.archive == nil {
		sendError(c, http.StatusNotFound, "ARCHIVE_NOT_FOUND", "Archiving is disabled")
		return
	}

	archive, err := h.archive.Latest(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "ARCHIVE_NOT_FOUND", "No archive for session "+sessionID)
			return
		}
		h.logger.Error("failed to read archive", zap.String("session_id", sessionID), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read archive")
		return
	}

	c.JSON(http.StatusOK, toArchiveResponse(archive, 0))
}

// RegisterRoutes registers the editor handler routes on a Gin router group.
func (h *EditorHandler) RegisterRoutes(rg *gin.RouterGroup) {
	editor := rg.Group("/editor")
	{
		editor.POST("", h.Create)
		editor.GET("/:id", h.Get)
		editor.PUT("/:id", h.Update)
		editor.GET("/:id/archive", h.ListArchives)
		editor.GET("/:id/archive/latest", h.LatestArchive)
	}
}
