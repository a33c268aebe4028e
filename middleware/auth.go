package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/session"
)

const (
	// InternalTokenHeader 内部推送接口的令牌头
	InternalTokenHeader = "X-Internal-Token"

	identityKey = "lovpulse.identity"
)

// InternalToken 校验路由层调用内部推送接口时携带的共享令牌
// 支持 X-Internal-Token 或 Authorization: Bearer，tokens 为空时拒绝所有请求
func InternalToken(tokens ...string) gin.HandlerFunc {
	valid := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			valid = append(valid, []byte(t))
		}
	}

	return func(c *gin.Context) {
		got := c.GetHeader(InternalTokenHeader)
		if got == "" {
			got, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if got != "" {
			for _, t := range valid {
				if subtle.ConstantTimeCompare([]byte(got), t) == 1 {
					c.Next()
					return
				}
			}
		}
		abort(c, errors.ErrUnauthorized)
	}
}

// RequireAdmin 解析会话并要求管理员身份
func RequireAdmin(resolver session.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.Resolve(c.Request)
		if err != nil || id == nil {
			var e *errors.Error
			if !errors.As(err, &e) {
				e = errors.ErrNoSession
			}
			abort(c, e)
			return
		}
		if !id.IsAdmin {
			abort(c, errors.ErrNotPrivileged)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// Identity 读取 RequireAdmin 写入的身份
func Identity(c *gin.Context) (*session.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*session.Identity)
	return id, ok
}
