package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "lovpulse.cache"

// tracedCache 链路追踪缓存装饰器
type tracedCache struct {
	Cache
	tracer trace.Tracer
}

// NewTracing 创建带链路追踪的缓存实例
func NewTracing(c Cache) Cache {
	return &tracedCache{
		Cache:  c,
		tracer: otel.Tracer(cacheTracerName),
	}
}

// wrapOperation 包装操作，自动处理 Span
func (t *tracedCache) wrapOperation(ctx context.Context, operation, key string, fn func(ctx context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(attribute.String("cache.key", key))

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Get 获取缓存，未命中不记为错误
func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	var result error
	_ = t.wrapOperation(ctx, "cache.Get", key, func(ctx context.Context) error {
		result = t.Cache.Get(ctx, key, value)
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Bool("cache.hit", result == nil))
		if errors.Is(result, ErrCacheNotFound) {
			return nil
		}
		return result
	})
	return result
}

func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return t.wrapOperation(ctx, "cache.Set", key, func(ctx context.Context) error {
		return t.Cache.Set(ctx, key, value, ttl)
	})
}

func (t *tracedCache) Delete(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	return t.wrapOperation(ctx, "cache.Delete", key, func(ctx context.Context) error {
		return t.Cache.Delete(ctx, keys...)
	})
}
