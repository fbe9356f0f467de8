package routers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/The-Promised-Neverland/vsharing/internal/api/handlers"
	"github.com/The-Promised-Neverland/vsharing/internal/api/middleware"
)

type Router struct {
	Handler   *handlers.Handler
	WSHandler *handlers.WebSocketHandler
	StaticDir string
	Logger    *slog.Logger
}

func NewRouter(handler *handlers.Handler, wsh *handlers.WebSocketHandler, staticDir string, logger *slog.Logger) *Router {
	return &Router{
		Handler:   handler,
		WSHandler: wsh,
		StaticDir: staticDir,
		Logger:    logger,
	}
}

func (rtr *Router) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(rtr.Logger.With("component", "http")))
	router.Use(middleware.Metrics())
	router.Use(middleware.CorsMiddleware())

	router.GET("/health", rtr.Handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", rtr.WSHandler.UpgradeHandler)

	api := router.Group("/api")
	{
		api.POST("/upload", rtr.Handler.Upload)
		api.GET("/has-file/:fileId/:clientId", rtr.Handler.HasFile)
		api.GET("/view/:fileId/:clientId", rtr.Handler.View)
	}

	var static http.Handler
	if rtr.StaticDir != "" {
		static = http.FileServer(http.Dir(rtr.StaticDir))
	}
	router.NoRoute(func(c *gin.Context) {
		if static == nil || strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Not found"})
			return
		}
		static.ServeHTTP(c.Writer, c.Request)
	})
	return router
}
