package lovpulse

import (
	"fmt"
	"io"
	"runtime"

	"github.com/gin-gonic/gin"
)

// Version 版本号
const Version = "1.0.0"

const banner = `
  _                       _
 | | _____   ___ __  _  _| |___ ___   lovpulse %s
 | |/ _ \ \ / / '_ \| || | (_-</ -_)  node: %s
 |_|\___/\_/| .__/\_,_|_/__/\___|     listen: %s
            |_|                       backplane: %s
`

// printBanner 打印 banner 与路由表
func (e *Engine) printBanner(out io.Writer) {
	fPrint(out, banner, Version, e.hub.Node(), e.cfg.Server.Addr, e.cfg.Backplane.Driver)
	fPrint(out, "\n")

	routes := e.gin.Routes()
	if len(routes) > 0 {
		printRoutes(out, routes)
		fPrint(out, "\n")
	}
	fPrint(out, "[lovpulse] Go version: %s | OS: %s/%s | mode: %s\n",
		runtime.Version(), runtime.GOOS, runtime.GOARCH, gin.Mode())
}

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m"
	case "POST":
		return "\033[32m"
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 格式化打印路由表
func printRoutes(out io.Writer, routes gin.RoutesInfo) {
	maxPathLen := 0
	for _, r := range routes {
		maxPathLen = max(maxPathLen, len(r.Path))
	}
	for _, r := range routes {
		fPrint(out, "[lovpulse] %s %-5s %s %-*s --> %s\n",
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			r.Handler)
	}
}

// silenceGin 静默 Gin 的默认输出，请求日志由 middleware.Logger 负责
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
