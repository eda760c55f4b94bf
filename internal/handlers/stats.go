package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/codereview-ai/backend/internal/services"
	"github.com/huangang/codereview-ai/backend/pkg/response"
)

type StatsHandler struct {
	stats *services.StatsService
}

func NewStatsHandler(stats *services.StatsService) *StatsHandler {
	RegisterValidators()
	return &StatsHandler{stats: stats}
}

// Get returns review statistics for one submitter
// GET /api/stats
func (h *StatsHandler) Get(c *gin.Context) {
	var req services.StatsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindError(c, err)
		return
	}

	stats, err := h.stats.ForUser(c.Request.Context(), req.UserName)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, stats)
}
