package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ironwill/internal/service/stats"
	"ironwill/pkg/outbox"
)

type AdminHandler struct {
	replayService *outbox.ReplayService
	stats         *stats.Service
	logger        *zap.Logger
}

// NewAdminHandler wires the admin endpoints. replayService is nil when the
// store has no outbox (sqlite mode); the replay endpoints then answer 501.
func NewAdminHandler(replayService *outbox.ReplayService, s *stats.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		replayService: replayService,
		stats:         s,
		logger:        logger,
	}
}

// ReplayOutboxEvent 重放指定的 Outbox 事件
// POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	if h.replayService == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "outbox not enabled"})
		return
	}

	idStr := c.Query("id")
	if idStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id parameter"})
		return
	}
	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}

	if err := h.replayService.ReplayEvent(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, outbox.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error("Failed to replay event",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to replay event",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"event_id": eventID,
	})
}

// ReplayFailedEvents 重放所有失败的事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	if h.replayService == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "outbox not enabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	successCount, err := h.replayService.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to replay failed events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}

// RecomputeStats 重新计算统计
// POST /admin/stats/recompute?user_id=xxx (全部用户时省略 user_id)
func (h *AdminHandler) RecomputeStats(c *gin.Context) {
	ctx := c.Request.Context()

	if userID := c.Query("user_id"); userID != "" {
		snap, unlocked, err := h.stats.Recompute(ctx, userID, stats.TriggerAdmin)
		if err != nil {
			respondError(c, h.logger, "admin.stats.recompute", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": snap, "newly_unlocked": len(unlocked)})
		return
	}

	n, err := h.stats.RecomputeAll(ctx, stats.TriggerAdmin)
	if err != nil {
		respondError(c, h.logger, "admin.stats.recompute_all", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "users": n})
}
