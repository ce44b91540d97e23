package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ironwill/internal/errs"
	"ironwill/internal/model"
	"ironwill/internal/service/dailylog"
)

type LogHandler struct {
	logs   *dailylog.Service
	logger *zap.Logger
}

func NewLogHandler(logs *dailylog.Service, logger *zap.Logger) *LogHandler {
	return &LogHandler{logs: logs, logger: logger}
}

// Today handles GET /logs/today; 404 when today has no log yet. Both
// responses carry the server's "date" so clients create logs for the same day.
func (h *LogHandler) Today(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	date, log, err := h.logs.Today(c.Request.Context(), userID)
	if errs.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "date": date})
		return
	}
	if err != nil {
		respondError(c, h.logger, "logs.today", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": log, "date": date})
}

// List handles GET /logs?limit=N
func (h *LogHandler) List(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", dailylog.DefaultLimit)
	if !ok {
		return
	}
	limit = dailylog.NormalizeLimit(limit)

	logs, err := h.logs.List(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.logger, "logs.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": limit})
}

// Get handles GET /logs/:id
func (h *LogHandler) Get(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	log, err := h.logs.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "logs.get", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": log})
}

// Upsert handles POST /logs. 201 when a row was created, 200 when the
// existing row for that date was updated.
func (h *LogHandler) Upsert(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var req model.UpsertInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.UserID = userID

	log, created, err := h.logs.Upsert(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "logs.upsert", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"log": log, "created": created})
}

// Delete handles DELETE /logs/:id
func (h *LogHandler) Delete(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	log, err := h.logs.Delete(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "logs.delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": log})
}
