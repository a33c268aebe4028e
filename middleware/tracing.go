package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/lovpulse/pkg/tracing"
)

// Tracing 为普通 HTTP 请求创建 Root Span
// WebSocket 升级请求跳过，连接期间由实时层自行创建 Span
func Tracing(excludePaths ...string) gin.HandlerFunc {
	skip := skipper(excludePaths, isUpgrade)
	return tracing.Middleware(skip)
}

func isUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}
