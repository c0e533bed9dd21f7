package handler

import (
	"net/http"

	"duotime/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReminderHandler struct {
	svc    *service.ReminderService
	logger *zap.Logger
}

func NewReminderHandler(svc *service.ReminderService, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{svc: svc, logger: nopIfNil(logger)}
}

func (h *ReminderHandler) bind(c *gin.Context) (service.ReminderInput, bool) {
	var in service.ReminderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return in, false
	}
	return in, true
}

// Create POST /reminders
func (h *ReminderHandler) Create(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	in, ok := h.bind(c)
	if !ok {
		return
	}
	r, err := h.svc.Create(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, h.logger, "failed to create reminder", err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// Update PUT /reminders/:id
func (h *ReminderHandler) Update(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	in, ok := h.bind(c)
	if !ok {
		return
	}
	r, err := h.svc.Update(c.Request.Context(), userID, c.Param("id"), in)
	if err != nil {
		respondError(c, h.logger, "failed to update reminder", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Delete DELETE /reminders/:id
func (h *ReminderHandler) Delete(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, h.logger, "failed to delete reminder", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Get GET /reminders/:id
func (h *ReminderHandler) Get(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	r, err := h.svc.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to get reminder", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// List GET /reminders
func (h *ReminderHandler) List(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	items, err := h.svc.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "failed to list reminders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": items, "count": len(items)})
}
