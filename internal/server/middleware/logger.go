package middleware

import (
	"time"

	"github.com/Wei-Shaw/ds2api/internal/pkg/ctxkey"
	"github.com/Wei-Shaw/ds2api/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger 请求访问日志中间件
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// 健康检查等高频探针不打访问日志
		if path == "/health" {
			return
		}

		latency := time.Since(startTime)
		ctx := c.Request.Context()
		model, _ := ctx.Value(ctxkey.Model).(string)
		conversationID, _ := ctx.Value(ctxkey.ConversationID).(string)

		fields := []zap.Field{
			zap.String("component", "http.access"),
			zap.Int("status_code", c.Writer.Status()),
			zap.Int64("latency_ms", latency.Milliseconds()),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		}
		if model != "" {
			fields = append(fields, zap.String("model", model))
		}
		if conversationID != "" {
			fields = append(fields, zap.String("conversation_id", conversationID))
		}

		requestLogger := logger.FromContext(ctx)
		if c.Writer.Status() >= 500 {
			requestLogger.Error("request completed", fields...)
		} else {
			requestLogger.Info("request completed", fields...)
		}
	}
}
