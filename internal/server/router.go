// Package server wires the HTTP surface: the /analytics endpoint group plus
// health, docs and Prometheus metrics.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pulse-analytics/internal/httpx"
	"pulse-analytics/internal/ingest"
	"pulse-analytics/internal/stats"
)

// ServiceName appears in health responses and metric labels.
const ServiceName = "analytics-api"

// Deps carries everything the router needs; all dependencies are constructed
// by the process entry point and injected here.
type Deps struct {
	Ingest           *ingest.Service
	Stats            *stats.Service
	Log              zerolog.Logger
	CORSAllowOrigins []string
	Metrics          *httpx.HTTPMetrics
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpx.RequestLogger(deps.Log))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Handler())
	}
	router.Use(httpx.CORSMiddleware(deps.CORSAllowOrigins))

	h := &handlers{ingest: deps.Ingest, stats: deps.Stats}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/docs", apiDocs)

	analytics := router.Group("/analytics")
	{
		analytics.POST("/events", h.logEvent)
		analytics.GET("/events/:package", h.listEvents)
		analytics.GET("/events/:package/stats", h.eventStats)

		analytics.POST("/users", h.registerUser)
		analytics.GET("/users/:package", h.listUsers)
		analytics.GET("/users/:package/stats", h.userStats)

		analytics.POST("/sessions", h.trackSession)
		analytics.GET("/sessions/:package", h.listSessions)
		analytics.GET("/sessions/:package/stats", h.sessionStats)

		analytics.POST("/crashes", h.reportCrash)
		analytics.GET("/crashes/:package", h.listCrashes)
		analytics.GET("/crashes/:package/stats", h.crashStats)

		analytics.GET("/packages", h.listPackages)
		analytics.GET("/packages/:package/summary", h.packageSummary)
	}
	return router
}

func apiDocs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Analytics API Documentation",
		"version": "1.0.0",
		"endpoints": gin.H{
			"events":   "/analytics/events",
			"users":    "/analytics/users",
			"sessions": "/analytics/sessions",
			"crashes":  "/analytics/crashes",
			"packages": "/analytics/packages",
			"health":   "/health",
		},
	})
}
