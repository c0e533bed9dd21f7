package handler

import (
	"net/http"

	"duotime/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LoveNoteHandler struct {
	svc    *service.LoveNoteService
	logger *zap.Logger
}

func NewLoveNoteHandler(svc *service.LoveNoteService, logger *zap.Logger) *LoveNoteHandler {
	return &LoveNoteHandler{svc: svc, logger: nopIfNil(logger)}
}

type sendLoveNoteRequest struct {
	Message string `json:"message"`
}

// Send POST /love-notes
func (h *LoveNoteHandler) Send(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req sendLoveNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	note, err := h.svc.Send(c.Request.Context(), userID, req.Message)
	if err != nil {
		respondError(c, h.logger, "failed to send love note", err)
		return
	}
	c.JSON(http.StatusCreated, note)
}
