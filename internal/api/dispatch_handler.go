package api

import (
	"net/http"
	"strconv"

	"coursemail/internal/dispatch"
	"coursemail/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxDispatchLimit = 500

type DispatchHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

func NewDispatchHandler(dispatcher *dispatch.Dispatcher, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Dispatch handles POST /internal/dispatch?limit=N, the external scheduler's sweep.
func (h *DispatchHandler) Dispatch(c *gin.Context) {
	limit := h.dispatcher.BatchSize()
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
			return
		}
		limit = min(n, maxDispatchLimit)
	}

	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)
	if _, err := h.dispatcher.RecoverStale(ctx); err != nil {
		log.Error("Failed to recover stale email jobs", zap.Error(err))
	}

	res, err := h.dispatcher.ProcessJobs(ctx, limit)
	if err != nil {
		log.Error("Dispatch sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to claim email jobs"})
		return
	}
	c.JSON(http.StatusOK, res)
}
