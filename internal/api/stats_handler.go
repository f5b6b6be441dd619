package api

import (
	"net/http"

	"coursemail/internal/service"
	"coursemail/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StatsHandler struct {
	statsService *service.StatisticsService
	logger       *zap.Logger
}

func NewStatsHandler(statsService *service.StatisticsService, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		statsService: statsService,
		logger:       logger,
	}
}

// GetEmailStatistics handles GET /api/v1/admin/email-statistics
func (h *StatsHandler) GetEmailStatistics(c *gin.Context) {
	stats, err := h.statsService.GetEmailStatistics(c.Request.Context())
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to load email statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load email statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
