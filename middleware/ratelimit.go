package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/logger"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// RequestsPerSecond 每秒允许的请求数（默认 100）
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Burst 突发容量（默认等于 RequestsPerSecond）
	Burst int `mapstructure:"burst"`

	// BucketExpiry 无访问多久后回收令牌桶（默认 30 分钟）
	BucketExpiry time.Duration `mapstructure:"bucket_expiry"`

	// KeyFunc 限流 key（默认客户端 IP）
	KeyFunc func(c *gin.Context) string `mapstructure:"-"`

	// SkipFunc 跳过限流的函数
	SkipFunc func(c *gin.Context) bool `mapstructure:"-"`
}

// RateLimiter 按 key 的令牌桶限流
// 桶保存在带过期时间的内存缓存中，长期不活跃的 key 自动回收
func RateLimiter(log logger.Logger, cfg *RateLimiterConfig) gin.HandlerFunc {
	if cfg == nil {
		cfg = &RateLimiterConfig{}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
	}
	if cfg.BucketExpiry <= 0 {
		cfg.BucketExpiry = 30 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}

	buckets := gocache.New(cfg.BucketExpiry, cfg.BucketExpiry/3)
	limit := rate.Limit(cfg.RequestsPerSecond)

	return func(c *gin.Context) {
		if cfg.SkipFunc != nil && cfg.SkipFunc(c) {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		var lim *rate.Limiter
		if v, ok := buckets.Get(key); ok {
			lim = v.(*rate.Limiter)
		} else {
			lim = rate.NewLimiter(limit, cfg.Burst)
			if err := buckets.Add(key, lim, gocache.DefaultExpiration); err != nil {
				// 并发创建，使用已存在的桶
				if v, ok := buckets.Get(key); ok {
					lim = v.(*rate.Limiter)
				}
			}
		}
		// 续期
		buckets.Set(key, lim, gocache.DefaultExpiration)

		if !lim.Allow() {
			log.Warn("rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path),
			)
			abort(c, errors.ErrRateLimited.WithMessage("too many requests"))
			return
		}
		c.Next()
	}
}
