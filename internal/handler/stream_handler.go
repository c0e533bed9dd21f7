package handler

import (
	"io"
	"net/http"
	"time"

	"duotime/internal/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultKeepAlive = 25 * time.Second

// StreamHandler serves the per-user server-sent event stream.
type StreamHandler struct {
	hub       *realtime.Hub
	keepAlive time.Duration
	logger    *zap.Logger
}

func NewStreamHandler(hub *realtime.Hub, keepAlive time.Duration, logger *zap.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &StreamHandler{hub: hub, keepAlive: keepAlive, logger: nopIfNil(logger)}
}

// Stream GET /notifications/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	events, cancel := h.hub.Register(userID)
	defer cancel()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("connected", gin.H{"user_id": userID})
	c.Writer.Flush()

	h.logger.Debug("Stream opened", zap.String("user_id", userID))
	defer h.logger.Debug("Stream closed", zap.String("user_id", userID))

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
