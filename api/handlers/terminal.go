package handlers

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/webterm/internal/config"
)

// TerminalHandler serves a terminal page URL: the rendering options at the
// base path and the data channel at {base}data.
type TerminalHandler struct {
	mu      sync.RWMutex
	options config.TerminalOptions

	data http.Handler
}

// NewTerminalHandler creates a TerminalHandler. data is the websocket data
// endpoint, normally a *webterm.Handler.
func NewTerminalHandler(options config.TerminalOptions, data http.Handler) *TerminalHandler {
	return &TerminalHandler{
		options: options,
		data:    data,
	}
}

// Options handles GET {base} - returns the terminal rendering options.
func (h *TerminalHandler) Options(c *gin.Context) {
	h.mu.RLock()
	options := h.options
	h.mu.RUnlock()
	c.JSON(http.StatusOK, options)
}

// SetOptions replaces the published options. Connected clients keep the
// options they started with.
func (h *TerminalHandler) SetOptions(options config.TerminalOptions) {
	h.mu.Lock()
	h.options = options
	h.mu.Unlock()
}

// Data handles GET {base}data - upgrades to the terminal data channel.
func (h *TerminalHandler) Data(c *gin.Context) {
	h.data.ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers the page and data routes under basePath.
func (h *TerminalHandler) RegisterRoutes(r gin.IRoutes, basePath string) {
	base := NormalizeBasePath(basePath)
	r.GET(base, h.Options)
	r.GET(base+"data", h.Data)
}

// NormalizeBasePath returns p with a leading and trailing slash.
func NormalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}
