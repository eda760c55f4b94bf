package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/codereview-ai/backend/internal/handlers"
	"github.com/huangang/codereview-ai/backend/internal/middleware"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(svc.db, svc.taskQueue, svc.hub, svc.llm)
	metricsHandler := handlers.NewMetricsHandler(svc.db, svc.reviews, svc.taskQueue, svc.hub)
	reviewHandler := handlers.NewReviewHandler(svc.reviews, svc.taskQueue, svc.systemLog)
	statsHandler := handlers.NewStatsHandler(svc.stats)
	sseHandler := handlers.NewSSEHandler(svc.hub)

	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", metricsHandler.Metrics)

	// All routes are public.
	api := r.Group("/api")
	{
		api.GET("/health", healthHandler.CheckHealth)

		reviews := api.Group("/reviews")
		{
			reviews.GET("", reviewHandler.List)
			reviews.POST("", reviewHandler.Create)
			reviews.GET("/:id", reviewHandler.Get)
			reviews.DELETE("/:id", reviewHandler.Delete)
			reviews.GET("/:id/logs", reviewHandler.Logs)
		}

		api.GET("/stats", statsHandler.Get)
		api.GET("/events/reviews", sseHandler.StreamReviewEvents)
	}
}
