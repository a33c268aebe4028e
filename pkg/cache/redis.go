package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient 按模式创建 Redis 客户端并检测连通性
// 单机、集群、哨兵统一返回 redis.UniversalClient
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (redis.UniversalClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client redis.UniversalClient

	switch cfg.Mode {
	case RedisCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

	case RedisSentinel:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})

	default:
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrCacheConnection, err)
	}
	return client, nil
}

// redisCache Redis 缓存实现
type redisCache struct {
	client     redis.UniversalClient
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
	owned      bool // 是否由缓存负责关闭客户端
}

// newRedisCache 创建 Redis 缓存实例
func newRedisCache(cfg *Config) (Cache, error) {
	client, err := NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		return nil, err
	}
	return &redisCache{
		client:     client,
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
		owned:      true,
	}, nil
}

// NewRedisWithClient 复用已有客户端创建缓存，Close 不会关闭该客户端
func NewRedisWithClient(client redis.UniversalClient, cfg *Config) Cache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Serializer == nil {
		cfg.Serializer = JSONSerializer{}
	}
	return &redisCache{
		client:     client,
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}
}

func (r *redisCache) buildKey(key string) string {
	return r.keyPrefix + key
}

// Get 获取缓存
func (r *redisCache) Get(ctx context.Context, key string, value any) error {
	data, err := r.client.Get(ctx, r.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("%w: %w", ErrCacheOperation, err)
	}

	if err := r.serializer.Unmarshal(data, value); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSerialization, err)
	}
	return nil
}

// Set 设置缓存
func (r *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	bytes, err := r.serializer.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSerialization, err)
	}
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, r.buildKey(key), bytes, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheOperation, err)
	}
	return nil
}

// Delete 删除缓存
func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = r.buildKey(key)
	}
	if err := r.client.Del(ctx, fullKeys...).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheOperation, err)
	}
	return nil
}

// Exists 检查键是否存在
func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCacheOperation, err)
	}
	return count > 0, nil
}

// Ping 检查连接
func (r *redisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheConnection, err)
	}
	return nil
}

// Close 关闭连接
func (r *redisCache) Close() error {
	if !r.owned {
		return nil
	}
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheOperation, err)
	}
	return nil
}

func (r *redisCache) String() string {
	return fmt.Sprintf("RedisCache(prefix=%s)", r.keyPrefix)
}
