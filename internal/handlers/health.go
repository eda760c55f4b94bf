package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/codereview-ai/backend/internal/services"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"gorm.io/gorm"
)

const llmPingTimeout = 15 * time.Second

// Pinger checks that the analysis provider is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the state of the subsystems a review depends on.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
	hub   *services.SSEHub
	llm   Pinger
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, hub *services.SSEHub, llm Pinger) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, hub: hub, llm: llm}
}

// CheckHealth returns the health status of all subsystems. With ?deep=1 the
// analysis provider is pinged as well.
// GET /api/health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "OK"

	dbStatus := "ok"
	if err := h.pingDB(c.Request.Context()); err != nil {
		logger.Error().Err(err).Msg("health: database unreachable")
		dbStatus = "unreachable"
		overall = "unhealthy"
	}

	queueMode := "local"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	components := gin.H{
		"database":    dbStatus,
		"queue_mode":  queueMode,
		"sse_clients": h.hub.ClientCount(),
	}

	if c.Query("deep") == "1" && h.llm != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), llmPingTimeout)
		defer cancel()
		if err := h.llm.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("health: llm provider unreachable")
			components["llm"] = "unreachable"
			if overall == "OK" {
				overall = "degraded"
			}
		} else {
			components["llm"] = "ok"
		}
	}

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "CodeReview AI API",
		"timestamp":  time.Now().Format(time.RFC3339),
		"components": components,
	})
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
