package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"audiobrand-backend/internal/shared/metrics"
	"audiobrand-backend/internal/shared/server/middleware"
	"audiobrand-backend/internal/shared/server/respond"
)

// Routes is implemented by every feature handler.
type Routes interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Options configures the engine. Ready is probed by /readyz; nil means always ready.
type Options struct {
	Env             string
	CORSAllowOrigin []string
	Ready           func(ctx context.Context) error
	Handlers        []Routes
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(opts Options) *gin.Engine {
	if opts.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(opts.CORSAllowOrigin),
	)

	r.GET("/healthz", func(c *gin.Context) {
		respond.OK(c, gin.H{"ok": true})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "not_ready", err.Error(), nil)
				return
			}
		}
		respond.OK(c, gin.H{"ok": true})
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	for _, h := range opts.Handlers {
		h.RegisterRoutes(api)
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
