package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ironwill/internal/service/dailylog"
)

type ChallengeHandler struct {
	logs   *dailylog.Service
	logger *zap.Logger
}

func NewChallengeHandler(logs *dailylog.Service, logger *zap.Logger) *ChallengeHandler {
	return &ChallengeHandler{logs: logs, logger: logger}
}

// Active handles GET /challenges/active
func (h *ChallengeHandler) Active(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	list, err := h.logs.ActiveChallenges(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "challenges.active", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": list})
}
