package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCache 内存缓存实现
type memoryCache struct {
	cache      *gocache.Cache
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
}

func newMemoryCache(cfg *Config) Cache {
	if cfg.Memory == nil {
		cfg.Memory = DefaultMemoryConfig()
	}

	return &memoryCache{
		cache:      gocache.New(cfg.Memory.DefaultExpiration, cfg.Memory.CleanupInterval),
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}
}

func (m *memoryCache) buildKey(key string) string {
	return m.keyPrefix + key
}

// Get 获取缓存
func (m *memoryCache) Get(_ context.Context, key string, value any) error {
	data, found := m.cache.Get(m.buildKey(key))
	if !found {
		return ErrCacheNotFound
	}

	bytes, ok := data.([]byte)
	if !ok {
		return fmt.Errorf("%w: invalid cache data type", ErrCacheSerialization)
	}
	if err := m.serializer.Unmarshal(bytes, value); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSerialization, err)
	}
	return nil
}

// Set 设置缓存
func (m *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	bytes, err := m.serializer.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSerialization, err)
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	m.cache.Set(m.buildKey(key), bytes, ttl)
	return nil
}

// Delete 删除缓存
func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Delete(m.buildKey(key))
	}
	return nil
}

// Exists 检查键是否存在
func (m *memoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, found := m.cache.Get(m.buildKey(key))
	return found, nil
}

// Ping 内存缓存始终可用
func (m *memoryCache) Ping(context.Context) error { return nil }

// Close 清空缓存
func (m *memoryCache) Close() error {
	m.cache.Flush()
	return nil
}

func (m *memoryCache) String() string {
	return fmt.Sprintf("MemoryCache(prefix=%s, items=%d)", m.keyPrefix, m.cache.ItemCount())
}
