// Package handler holds the gin handlers of the API process.
package handler

import (
	"errors"
	"net/http"

	"duotime/internal/deadletter"
	"duotime/internal/service"
	"duotime/internal/store"
	"duotime/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys set by the auth middleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

func getUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return "", false
	}
	return userID, true
}

// respondError maps domain errors onto status codes. Anything unknown is
// logged and reported as 500 without details.
func respondError(c *gin.Context, log *zap.Logger, msg string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, deadletter.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrInvalidTarget), errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, deadletter.ErrAlreadyReplayed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.WithTrace(c.Request.Context(), log).Error(msg,
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
