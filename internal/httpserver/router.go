package httpserver

import (
	"context"
	"net/http"
	"time"

	"duotime/internal/handler"
	"duotime/pkg/metrics"
	"duotime/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handlers groups the API handlers mounted by NewRouter.
type Handlers struct {
	Notification *handler.NotificationHandler
	Reminder     *handler.ReminderHandler
	LoveNote     *handler.LoveNoteHandler
	User         *handler.UserHandler
	Stream       *handler.StreamHandler
	Admin        *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

// NewHealthRouter serves only /healthz, /readyz and /metrics. The worker
// process uses it on its own.
func NewHealthRouter(checks map[string]ReadinessCheck, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(logger))
	mountHealth(r, checks)
	return &Router{Engine: r}
}

func NewRouter(h Handlers, jwtSecret string, checks map[string]ReadinessCheck, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(logger))

	// Health endpoints (放在最前面)
	mountHealth(r, checks)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.GET("/notifications", h.Notification.List)
		auth.GET("/notifications/unread-count", h.Notification.UnreadCount)
		auth.GET("/notifications/stream", h.Stream.Stream)
		auth.POST("/notifications/read-all", h.Notification.MarkAllRead)
		auth.POST("/notifications/:id/read", h.Notification.MarkRead)
		auth.DELETE("/notifications/:id", h.Notification.Delete)

		auth.GET("/reminders", h.Reminder.List)
		auth.GET("/reminders/:id", h.Reminder.Get)
		auth.POST("/reminders", h.Reminder.Create)
		auth.PUT("/reminders/:id", h.Reminder.Update)
		auth.DELETE("/reminders/:id", h.Reminder.Delete)

		auth.POST("/love-notes", h.LoveNote.Send)
		auth.PUT("/me/push-token", h.User.RegisterPushToken)
	}

	admin := auth.Group("/admin")
	{
		admin.GET("/dead-letters", RequirePermission(rbac.PermissionReadDeadLetters), h.Admin.ListDeadLetters)
		admin.GET("/dead-letters/:id", RequirePermission(rbac.PermissionReadDeadLetters), h.Admin.GetDeadLetter)
		admin.POST("/dead-letters/:id/replay", RequirePermission(rbac.PermissionReplayDeadLetters), h.Admin.ReplayDeadLetter)
	}

	return &Router{Engine: r}
}

func mountHealth(r *gin.Engine, checks map[string]ReadinessCheck) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
