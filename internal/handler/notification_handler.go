package handler

import (
	"net/http"
	"strconv"

	"duotime/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: nopIfNil(logger)}
}

// List GET /notifications?unread=true&limit=50
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return
	}

	items, err := h.svc.List(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		respondError(c, h.logger, "failed to list notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "count": len(items)})
}

// UnreadCount GET /notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	n, err := h.svc.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "failed to count unread notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// MarkRead POST /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	n, err := h.svc.MarkRead(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to mark notification read", err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// MarkAllRead POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	count, err := h.svc.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "failed to mark notifications read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": count})
}

// Delete DELETE /notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, h.logger, "failed to delete notification", err)
		return
	}
	c.Status(http.StatusNoContent)
}
