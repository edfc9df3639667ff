// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/webterm/internal/model"
)

// SessionService is the session store behind the sessions API.
// *registry.Registry satisfies it.
type SessionService interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	List(ctx context.Context, status model.SessionStatus) ([]*model.Session, error)
	Kill(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	sessions SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
	}
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID          string `json:"id"`
	Command     string `json:"command"`
	Status      string `json:"status"`
	ExitCode    *int   `json:"exitCode,omitempty"`
	PID         *int   `json:"pid,omitempty"`
	Cols        int    `json:"cols"`
	Rows        int    `json:"rows"`
	RemoteAddr  string `json:"remoteAddr,omitempty"`
	HasLog      bool   `json:"hasLog"`
	PreviewLine string `json:"previewLine,omitempty"`
	Duration    string `json:"duration"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// toSessionResponse converts a model.Session to SessionResponse.
func toSessionResponse(s *model.Session) *SessionResponse {
	return &SessionResponse{
		ID:          s.ID,
		Command:     s.Command,
		Status:      string(s.Status),
		ExitCode:    s.ExitCode,
		PID:         s.PID,
		Cols:        s.Cols,
		Rows:        s.Rows,
		RemoteAddr:  s.RemoteAddr,
		HasLog:      s.LogFilePath != "",
		PreviewLine: s.PreviewLine,
		Duration:    formatDuration(s.Duration()),
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
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

// sendSessionError maps session errors to responses.
func sendSessionError(c *gin.Context, id string, action string, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+id+" not found")
	case errors.Is(err, model.ErrSessionNotRunning):
		sendError(c, http.StatusConflict, "SESSION_NOT_RUNNING", "Session "+id+" is not running")
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action+" session: "+err.Error())
	}
}

// List handles GET /api/sessions, optionally filtered by ?status=.
func (h *SessionHandler) List(c *gin.Context) {
	status := model.SessionStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status "+string(status))
		return
	}

	sessions, err := h.sessions.List(c.Request.Context(), status)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}

	response := make([]*SessionResponse, len(sessions))
	for i, s := range sessions {
		response[i] = toSessionResponse(s)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/sessions/:id.
func (h *SessionHandler) Get(c *gin.Context) {
	id := c.Param("id")

	s, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		sendSessionError(c, id, "get", err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

// Kill handles POST /api/sessions/:id/kill. The session's data connection
// ends with the process.
func (h *SessionHandler) Kill(c *gin.Context) {
	id := c.Param("id")

	if err := h.sessions.Kill(c.Request.Context(), id); err != nil {
		sendSessionError(c, id, "kill", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /api/sessions/:id.
func (h *SessionHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		sendSessionError(c, id, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetLogs handles GET /api/sessions/:id/logs - downloads the asciicast
// recording.
func (h *SessionHandler) GetLogs(c *gin.Context) {
	id := c.Param("id")

	s, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		sendSessionError(c, id, "get", err)
		return
	}

	if s.LogFilePath == "" {
		sendError(c, http.StatusNotFound, "LOG_NOT_FOUND", "Log file not found for session "+id)
		return
	}
	if _, err := os.Stat(s.LogFilePath); err != nil {
		sendError(c, http.StatusNotFound, "LOG_NOT_FOUND", "Log file not found for session "+id)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.FileAttachment(s.LogFilePath, id+".cast")
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
		sessions.POST("/:id/kill", h.Kill)
		sessions.GET("/:id/logs", h.GetLogs)
	}
}
