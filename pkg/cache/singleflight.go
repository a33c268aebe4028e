package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Remember 读取缓存，未命中时调用 fn 并回写
// 回写失败不影响返回值
func Remember[T any](
	ctx context.Context,
	c Cache,
	key string,
	ttl time.Duration,
	fn func() (T, error),
) (T, error) {
	var result T
	if err := c.Get(ctx, key, &result); err == nil {
		return result, nil
	}
	result, err := fn()
	if err != nil {
		return result, err
	}
	_ = c.Set(ctx, key, result, ttl)
	return result, nil
}

// Loader 带防击穿的缓存加载器
// 同一 key 的并发未命中只会执行一次 fn
type Loader[T any] struct {
	cache Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewLoader 创建缓存加载器
func NewLoader[T any](c Cache, ttl time.Duration) *Loader[T] {
	return &Loader[T]{cache: c, ttl: ttl}
}

// Load 读取缓存，并发未命中合并为一次 fn 调用
func (l *Loader[T]) Load(ctx context.Context, key string, fn func() (T, error)) (T, error) {
	v, err, _ := l.group.Do(key, func() (any, error) {
		return Remember(ctx, l.cache, key, l.ttl, fn)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate 删除缓存并清除进行中的合并状态
func (l *Loader[T]) Invalidate(ctx context.Context, key string) error {
	l.group.Forget(key)
	return l.cache.Delete(ctx, key)
}
