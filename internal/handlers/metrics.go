package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/huangang/codereview-ai/backend/internal/services"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"gorm.io/gorm"
)

var startTime = time.Now()

type MetricsHandler struct {
	db      *gorm.DB
	reviews *services.ReviewService
	queue   services.TaskQueue
	hub     *services.SSEHub
}

func NewMetricsHandler(db *gorm.DB, reviews *services.ReviewService, queue services.TaskQueue, hub *services.SSEHub) *MetricsHandler {
	return &MetricsHandler{db: db, reviews: reviews, queue: queue, hub: hub}
}

// Metrics returns Prometheus-compatible text format metrics.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "codereview_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "codereview_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "codereview_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))

	// -- Database metrics --
	if sqlDB, err := h.db.DB(); err == nil {
		stats := sqlDB.Stats()
		writeGauge(&b, "codereview_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
		writeGauge(&b, "codereview_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
	}

	writeGauge(&b, "codereview_sse_active_clients", "Number of active SSE connections", float64(h.hub.ClientCount()))

	queueAsync := 0.0
	if h.queue != nil && h.queue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "codereview_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", queueAsync)

	// -- Review metrics --
	counts, err := h.reviews.CountByStatus(c.Request.Context())
	if err != nil {
		logger.Warn().Err(err).Msg("metrics: count reviews by status")
	} else {
		var total int64
		for _, status := range []string{models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed} {
			total += counts[status]
			writeGauge(&b, "codereview_reviews_"+status, "Number of "+status+" reviews", float64(counts[status]))
		}
		writeGauge(&b, "codereview_reviews_total", "Total number of reviews", float64(total))
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
