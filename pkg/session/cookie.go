package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// Sign 生成 express-session 兼容的签名 Cookie 值：s:<sid>.<sig>
func Sign(sid, secret string) string {
	return "s:" + sid + "." + signature(sid, secret)
}

// Unsign 校验签名 Cookie 并返回会话 ID，支持多个密钥轮换
func Unsign(value string, secrets []string) (string, bool) {
	if decoded, err := url.QueryUnescape(value); err == nil {
		value = decoded
	}
	if !strings.HasPrefix(value, "s:") {
		return "", false
	}
	value = value[2:]

	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 {
		return "", false
	}
	sid, sig := value[:dot], value[dot+1:]

	for _, secret := range secrets {
		if hmac.Equal([]byte(signature(sid, secret)), []byte(sig)) {
			return sid, true
		}
	}
	return "", false
}

func signature(sid, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sid))
	return strings.TrimRight(base64.StdEncoding.EncodeToString(mac.Sum(nil)), "=")
}

// CookieResolver 读取签名 Cookie 并从 Store 加载身份
type CookieResolver struct {
	name    string
	secrets []string
	store   Store
}

// NewCookieResolver 创建 Cookie 解析器
func NewCookieResolver(name string, secrets []string, store Store) *CookieResolver {
	if name == "" {
		name = DefaultCookieName
	}
	return &CookieResolver{name: name, secrets: secrets, store: store}
}

// Resolve 实现 Resolver
func (c *CookieResolver) Resolve(r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return nil, errors.ErrNoSession
	}

	sid, ok := Unsign(cookie.Value, c.secrets)
	if !ok {
		return nil, errors.ErrNoSession.WithMessage("invalid session signature")
	}
	return c.store.Load(r.Context(), sid)
}
