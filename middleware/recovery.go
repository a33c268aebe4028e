package middleware

import (
	"errors"
	"net"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	lperrors "github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/logger"
)

// Recovery 捕获 panic 并以统一错误结构返回 500
// 客户端断开导致的写失败只记录，不再写响应
func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if isBrokenPipe(rec) {
				log.Warn("broken pipe",
					zap.Any("error", rec),
					zap.String("path", c.Request.URL.Path),
				)
				c.Abort()
				return
			}

			log.ErrorContext(c.Request.Context(), "panic recovered",
				zap.Any("error", rec),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.ByteString("stack", debug.Stack()),
			)
			abort(c, lperrors.ErrServer)
		}()
		c.Next()
	}
}

func isBrokenPipe(rec any) bool {
	err, ok := rec.(error)
	if !ok {
		return false
	}
	var ne *net.OpError
	if !errors.As(err, &ne) {
		return false
	}
	var se *os.SyscallError
	if !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
