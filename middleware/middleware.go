// Package middleware 实时层 HTTP 入口使用的 gin 中间件
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// abort 以业务错误结构终止请求
func abort(c *gin.Context, e *errors.Error) {
	c.AbortWithStatusJSON(e.HttpCode, e)
}

// skipper 根据路径集合与自定义函数判断是否跳过
func skipper(paths []string, fn func(*gin.Context) bool) func(*gin.Context) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(c *gin.Context) bool {
		if fn != nil && fn(c) {
			return true
		}
		_, ok := set[c.Request.URL.Path]
		return ok
	}
}
