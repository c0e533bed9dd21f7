package handler

import (
	"net/http"
	"strconv"

	"duotime/internal/deadletter"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	deadLetters *deadletter.Service
	logger      *zap.Logger
}

func NewAdminHandler(deadLetters *deadletter.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{deadLetters: deadLetters, logger: nopIfNil(logger)}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return 0, false
	}
	return id, true
}

// ListDeadLetters GET /admin/dead-letters?status=failed&limit=50
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	rows, err := h.deadLetters.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		respondError(c, h.logger, "failed to list dead letters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": rows, "count": len(rows)})
}

// GetDeadLetter GET /admin/dead-letters/:id
func (h *AdminHandler) GetDeadLetter(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	row, err := h.deadLetters.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "failed to get dead letter", err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// ReplayDeadLetter 重放指定的死信任务
// POST /admin/dead-letters/:id/replay
func (h *AdminHandler) ReplayDeadLetter(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	row, err := h.deadLetters.Replay(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "failed to replay dead letter", err)
		return
	}

	h.logger.Info("Dead letter replayed",
		zap.Int64("dead_letter_id", id),
		zap.String("queue", row.Queue),
		zap.String("job_id", row.JobID),
		zap.String("admin_id", c.GetString(ContextUserID)),
	)
	c.JSON(http.StatusOK, gin.H{
		"status":      "replayed",
		"dead_letter": row,
	})
}
