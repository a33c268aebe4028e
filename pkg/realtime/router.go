package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/logger"
)

var (
	// ErrRouterFrozen 路由器已冻结
	ErrRouterFrozen = errors.New(4010, 500, "router is frozen", nil)
	// ErrHandlerExists 处理器已存在
	ErrHandlerExists = errors.New(4011, 500, "handler already registered", nil)
)

// Handler 入站帧处理器
type Handler func(ctx context.Context, c *Conn, f Inbound) error

// NextFunc 中间件下一步函数
type NextFunc func() error

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(ctx context.Context, c *Conn, f Inbound, next NextFunc) error

// Router 按帧类型分发入站帧
// 未注册的类型交给 fallback，默认记录后忽略
type Router struct {
	handlers   map[string]Handler
	fallback   Handler
	middleware []MiddlewareFunc
	compiled   map[string]Handler // 预编译的处理器链
	mu         sync.RWMutex
	frozen     bool
}

// NewRouter 创建路由器
func NewRouter(log logger.Logger) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	return &Router{
		handlers: make(map[string]Handler),
		fallback: func(ctx context.Context, c *Conn, f Inbound) error {
			log.DebugContext(ctx, "ignore unknown frame type", zap.String("type", f.FrameType()))
			return nil
		},
	}
}

// Register 注册处理器
func (r *Router) Register(frameType string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.handlers[frameType]; exists {
		return ErrHandlerExists.WithMessage("handler already registered: " + frameType)
	}
	r.handlers[frameType] = handler
	return nil
}

// Fallback 设置未知类型的处理器
func (r *Router) Fallback(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = handler
}

// Use 添加中间件
func (r *Router) Use(middleware ...MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// Freeze 冻结路由器（启动后不可修改）
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true

	r.compiled = make(map[string]Handler, len(r.handlers))
	for frameType, handler := range r.handlers {
		r.compiled[frameType] = buildChain(r.middleware, handler)
	}
	r.fallback = buildChain(r.middleware, r.fallback)
}

// buildChain 从后向前构建中间件链
func buildChain(middleware []MiddlewareFunc, handler Handler) Handler {
	final := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := final
		final = func(ctx context.Context, c *Conn, f Inbound) error {
			return mw(ctx, c, f, func() error {
				return next(ctx, c, f)
			})
		}
	}
	return final
}

// Route 路由入站帧
func (r *Router) Route(ctx context.Context, c *Conn, f Inbound) error {
	r.mu.RLock()
	if r.frozen {
		handler, ok := r.compiled[f.FrameType()]
		if !ok {
			handler = r.fallback
		}
		r.mu.RUnlock()
		return handler(ctx, c, f)
	}

	handler, ok := r.handlers[f.FrameType()]
	if !ok {
		handler = r.fallback
	}
	middleware := r.middleware
	r.mu.RUnlock()

	return buildChain(middleware, handler)(ctx, c, f)
}

// On 注册类型化处理器
func On[T Inbound](r *Router, handler func(ctx context.Context, c *Conn, f T) error) error {
	var zero T
	return r.Register(zero.FrameType(), func(ctx context.Context, c *Conn, f Inbound) error {
		typed, ok := f.(T)
		if !ok {
			return errors.ErrInvalidFrame
		}
		return handler(ctx, c, typed)
	})
}

// LoggingMiddleware 记录帧类型与处理耗时
func LoggingMiddleware(log logger.Logger) MiddlewareFunc {
	return func(ctx context.Context, c *Conn, f Inbound, next NextFunc) error {
		start := time.Now()
		err := next()
		log.DebugContext(ctx, "frame handled",
			zap.String("type", f.FrameType()),
			zap.Duration("cost", time.Since(start)),
			zap.Bool("ok", err == nil),
		)
		return err
	}
}

// EventMiddleware 将入站帧发布到事件总线
func EventMiddleware(bus *EventBus, now func() time.Time) MiddlewareFunc {
	return func(ctx context.Context, c *Conn, f Inbound, next NextFunc) error {
		bus.Publish(Event{
			Type:   EventFrameReceived,
			ConnID: c.ID(),
			UserID: c.UserID(),
			Frame:  f,
			Time:   now(),
		})
		return next()
	}
}
