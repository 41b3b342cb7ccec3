package main

import (
	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/panocam/internal/config"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/middleware"
)

func setupRouter(api *API, cfg config.ServerConfig, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTAuth(cfg.AuthSecret))
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}
	{
		// Session
		v1.GET("/session", api.getSession)
		v1.POST("/session/mode", api.selectMode)
		v1.POST("/photo", api.capturePhoto)

		// Recording
		v1.POST("/record/toggle", api.toggleRecord)
		v1.GET("/record", api.getRecord)

		// Live
		v1.POST("/live/start", api.startLive)
		v1.POST("/live/stop", api.stopLive)
		v1.POST("/live/toggle-pause", api.togglePauseLive)
		v1.GET("/live", api.getLive)

		// Stitch
		v1.GET("/stitch", api.getStitch)
		v1.POST("/stitch/start", api.startStitch)
		v1.POST("/stitch/pause", api.pauseStitch)
		v1.GET("/stitch/sources", api.listSources)
		v1.POST("/stitch/jobs", api.createStitchJob)
		v1.GET("/stitch/jobs/:id/progress", api.stitchProgress)

		// Media and events
		v1.GET("/media", api.listMedia)
		v1.GET("/events", api.listEvents)
	}

	return router
}
