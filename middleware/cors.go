package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig 跨域配置
// 管理后台从浏览器调用状态接口时携带会话 Cookie，此时必须显式列出源
type CORSConfig struct {
	// 支持 "https://*.lovculator.com" 形式的通配
	AllowOrigins     []string      `mapstructure:"allow_origins"`
	AllowMethods     []string      `mapstructure:"allow_methods"`
	AllowHeaders     []string      `mapstructure:"allow_headers"`
	ExposeHeaders    []string      `mapstructure:"expose_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"` // 不能与 "*" 同时使用
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// DefaultCORSConfig 允许所有源，不带凭证
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", InternalTokenHeader},
		MaxAge:       12 * time.Hour,
	}
}

type originPolicy struct {
	any       bool
	exact     map[string]struct{}
	wildcards []string
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{exact: make(map[string]struct{})}
	for _, o := range origins {
		switch {
		case o == "*":
			p.any = true
		case strings.Contains(o, "*"):
			p.wildcards = append(p.wildcards, o)
		default:
			p.exact[o] = struct{}{}
		}
	}
	return p
}

func (p *originPolicy) allows(origin string) bool {
	if p.any {
		return true
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, w := range p.wildcards {
		if matchWildcard(origin, w) {
			return true
		}
	}
	return false
}

// matchWildcard 通配部分至少一个字符
func matchWildcard(origin, pattern string) bool {
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok {
		return origin == pattern
	}
	return len(origin) > len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix)
}

// CORS 跨域中间件，预检请求直接返回 204
func CORS(cfg *CORSConfig) gin.HandlerFunc {
	def := DefaultCORSConfig()
	if cfg == nil {
		cfg = def
	}
	methods, headers := cfg.AllowMethods, cfg.AllowHeaders
	if len(methods) == 0 {
		methods = def.AllowMethods
	}
	if len(headers) == 0 {
		headers = def.AllowHeaders
	}
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = def.AllowOrigins
	}

	policy := newOriginPolicy(origins)
	if cfg.AllowCredentials && policy.any {
		panic("lovpulse/middleware: CORS AllowCredentials cannot be used with AllowOrigins [\"*\"]")
	}

	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(headers, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || !policy.allows(origin) {
			c.Next()
			return
		}

		h := c.Writer.Header()
		if policy.any {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		if cfg.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if exposeHeaders != "" {
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
		}

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
