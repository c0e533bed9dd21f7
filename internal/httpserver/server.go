package httpserver

import (
	"net/http"
	"time"

	"duotime/internal/handler"
	"duotime/pkg/logger"
	"duotime/pkg/rbac"
	"duotime/pkg/trace"
	"duotime/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			// EventSource 不能设置 header，stream 允许 query 传 token
			token = c.Query("access_token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		// store user_id in context so handlers can use it
		c.Set(handler.ContextUserID, claims.UserID)
		c.Set(handler.ContextRole, rbac.NormalizeRole(claims.Role))

		c.Next()
	}
}

// TraceMiddleware attaches a trace id to the request context, echoes it in
// the response header and logs the finished request.
func TraceMiddleware(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(trace.HeaderName)
		if id == "" {
			id = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), id))
		c.Header(trace.HeaderName, id)

		c.Next()

		logger.WithTrace(c.Request.Context(), log).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
