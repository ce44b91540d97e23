package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ironwill/internal/service/stats"
)

type StatsHandler struct {
	stats  *stats.Service
	logger *zap.Logger
}

func NewStatsHandler(s *stats.Service, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{stats: s, logger: logger}
}

// Get handles GET /stats
func (h *StatsHandler) Get(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	snap, err := h.stats.Get(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "stats.get", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": snap})
}

// Achievements handles GET /achievements
func (h *StatsHandler) Achievements(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	list, err := h.stats.Achievements(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "achievements.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"achievements": list})
}
