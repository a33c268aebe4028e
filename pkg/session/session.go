// Package session 解析 WebSocket 升级请求携带的登录态
//
// 会话校验对实时层是不透明的前置条件：实时层只关心是否存在已认证的用户身份。
// 支持 express-session 签名 Cookie（PostgreSQL / Redis 存储）与 JWT Bearer Token。
package session

import (
	"context"
	"net/http"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// Identity 已认证的用户身份
type Identity struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username,omitempty"`
	IsAdmin  bool   `json:"isAdmin,omitempty"`
}

// Resolver 从 HTTP 请求中解析用户身份
// 未登录返回 errors.ErrNoSession
type Resolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// ResolverFunc 函数适配器
type ResolverFunc func(r *http.Request) (*Identity, error)

// Resolve 实现 Resolver
func (f ResolverFunc) Resolve(r *http.Request) (*Identity, error) {
	return f(r)
}

// Store 会话存储（按会话 ID 查询）
type Store interface {
	Load(ctx context.Context, sid string) (*Identity, error)
}

// Chain 依次尝试多个 Resolver，返回第一个成功的身份
// 仅当所有 Resolver 都返回 ErrNoSession 时才返回 ErrNoSession，其他错误立即返回
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(r *http.Request) (*Identity, error) {
		for _, res := range resolvers {
			id, err := res.Resolve(r)
			if err == nil && id != nil {
				return id, nil
			}
			if err != nil && !errors.Is(err, errors.ErrNoSession) {
				return nil, err
			}
		}
		return nil, errors.ErrNoSession
	})
}

// Anonymous 从查询参数 uid 读取身份，仅用于本地调试
func Anonymous() Resolver {
	return ResolverFunc(func(r *http.Request) (*Identity, error) {
		uid, err := parseUserID(r.URL.Query().Get("uid"))
		if err != nil || uid <= 0 {
			return nil, errors.ErrNoSession
		}
		return &Identity{UserID: uid}, nil
	})
}
