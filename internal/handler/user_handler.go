package handler

import (
	"net/http"

	"duotime/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler struct {
	svc    *service.UserService
	logger *zap.Logger
}

func NewUserHandler(svc *service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{svc: svc, logger: nopIfNil(logger)}
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

// RegisterPushToken PUT /me/push-token, an empty token unregisters the device.
func (h *UserHandler) RegisterPushToken(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.svc.RegisterPushToken(c.Request.Context(), userID, req.Token); err != nil {
		respondError(c, h.logger, "failed to register push token", err)
		return
	}
	c.Status(http.StatusNoContent)
}
