package handlers

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RouterConfig collects the handlers served by NewRouter.
type RouterConfig struct {
	BasePath       string
	AllowedOrigins []string
	Terminal       *TerminalHandler
	Sessions       *SessionHandler
	Stats          Stats
}

// NewRouter builds the server's gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", Health(cfg.Stats))
	r.GET("/metrics", Metrics())

	api := r.Group("/api")
	cfg.Sessions.RegisterRoutes(api)

	cfg.Terminal.RegisterRoutes(r, cfg.BasePath)
	return r
}

// RequestLogger logs each request through slog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}
