// Package cache 联系人等热点读取的缓存层
//
// 提供内存（go-cache）与 Redis 两种驱动，以及带合并加载的 Loader。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// Cache 缓存接口
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Serializer 值编解码
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer 默认编解码
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var (
	ErrCacheNotFound      = errors.New(3101, 404, "cache key not found", nil)
	ErrCacheConnection    = errors.New(3103, 500, "cache connection failed", nil)
	ErrCacheSerialization = errors.New(3104, 500, "cache serialization failed", nil)
	ErrCacheInvalidConfig = errors.New(3105, 500, "cache invalid config", nil)
	ErrCacheOperation     = errors.New(3106, 500, "cache operation failed", nil)
)

// New 按驱动创建缓存
// redis 驱动未单独配置地址时复用 shared 客户端，此时 Close 不会关闭它
func New(cfg *Config, shared redis.UniversalClient) (Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Serializer == nil {
		cfg.Serializer = JSONSerializer{}
	}

	switch cfg.Driver {
	case DriverMemory, "":
		return newMemoryCache(cfg), nil
	case DriverRedis:
		if cfg.Redis == nil && shared != nil {
			return NewRedisWithClient(shared, cfg), nil
		}
		if err := cfg.Redis.Validate(); err != nil {
			return nil, err
		}
		return newRedisCache(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrCacheInvalidConfig, cfg.Driver)
	}
}
