package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// LoggerConfig 日志中间件配置
type LoggerConfig struct {
	// SkipFunc 跳过日志的函数
	SkipFunc func(c *gin.Context) bool

	// ExcludePaths 排除的路径（如健康检查）
	ExcludePaths []string
}

// Logger 创建请求日志中间件
// WebSocket 升级请求在连接关闭后才返回，耗时即连接时长
func Logger(log logger.Logger, cfgs ...*LoggerConfig) gin.HandlerFunc {
	cfg := &LoggerConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	skip := skipper(cfg.ExcludePaths, cfg.SkipFunc)

	return func(c *gin.Context) {
		if skip(c) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			log.ErrorContext(ctx, "request completed", fields...)
		case status >= 400:
			log.WarnContext(ctx, "request completed", fields...)
		default:
			log.InfoContext(ctx, "request completed", fields...)
		}
	}
}
