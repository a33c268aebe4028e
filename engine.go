package lovpulse

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/middleware"
	"github.com/tokmz/lovpulse/pkg/logger"
	"github.com/tokmz/lovpulse/pkg/realtime"
	"github.com/tokmz/lovpulse/pkg/session"
)

// Engine HTTP 入口：WebSocket 升级、状态接口、内部推送接口
type Engine struct {
	cfg       *Config
	log       logger.Logger
	hub       *realtime.Hub
	publisher *realtime.Publisher
	resolver  session.Resolver
	gin       *gin.Engine
	server    *http.Server

	// closers 停机时按注册的逆序执行
	closers []func(context.Context) error
}

// New 创建 Engine
// resolver 为 nil 时状态接口对所有请求返回 401
func New(cfg *Config, log logger.Logger, hub *realtime.Hub, resolver session.Resolver) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	if resolver == nil {
		resolver = session.Chain()
	}

	// gin.SetMode 是全局操作，进程内只应创建一个 Engine
	if cfg.Mode != "" && gin.Mode() != cfg.Mode {
		gin.SetMode(cfg.Mode)
	}
	silenceGin()

	g := gin.New()
	if cfg.Server.TrustedProxies != nil {
		if err := g.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}
	g.Use(
		middleware.Recovery(log),
		middleware.Tracing("/healthz"),
		middleware.Logger(log.Named("http"), &middleware.LoggerConfig{ExcludePaths: []string{"/healthz"}}),
		middleware.CORS(cfg.CORS),
	)

	e := &Engine{
		cfg:       cfg,
		log:       log,
		hub:       hub,
		publisher: realtime.NewPublisher(hub),
		resolver:  resolver,
		gin:       g,
	}
	e.registerRoutes()
	return e
}

// Handler 返回 http.Handler，便于测试与嵌入
func (e *Engine) Handler() http.Handler { return e.gin }

// Hub 实时层
func (e *Engine) Hub() *realtime.Hub { return e.hub }

// Publisher 供同进程路由层使用的推送入口
func (e *Engine) Publisher() *realtime.Publisher { return e.publisher }

// OnShutdown 注册停机时释放的资源
func (e *Engine) OnShutdown(fn func(context.Context) error) {
	e.closers = append(e.closers, fn)
}

// Reload 应用热更新的配置项：握手限流上限与日志级别
func (e *Engine) Reload(cfg *Config) {
	e.hub.SetRateLimit(cfg.Realtime.RateLimit)
	e.log.SetLevel(logger.ParseLevel(cfg.Log.Level))
	e.log.Info("config reloaded",
		zap.Int("rate_limit", cfg.Realtime.RateLimit),
		zap.String("log_level", cfg.Log.Level),
	)
}

// Run 启动 HTTP 服务并阻塞到收到 SIGINT/SIGTERM，随后优雅停机
func (e *Engine) Run(ctx context.Context) error {
	e.server = &http.Server{
		Addr:           e.cfg.Server.Addr,
		Handler:        e.gin,
		ReadTimeout:    e.cfg.Server.ReadTimeout,
		WriteTimeout:   e.cfg.Server.WriteTimeout,
		IdleTimeout:    e.cfg.Server.IdleTimeout,
		MaxHeaderBytes: e.cfg.Server.MaxHeaderBytes,
	}

	e.hub.Start(ctx)
	if e.cfg.Server.Banner {
		e.printBanner(os.Stdout)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	e.log.Info("server listening", zap.String("addr", e.cfg.Server.Addr), zap.String("node", e.hub.Node()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		_ = e.Shutdown(context.Background())
		return err
	case sig := <-quit:
		e.log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return e.Shutdown(context.Background())
}

// Shutdown 停机顺序：实时层通知并关闭连接 → 关闭 HTTP 服务 → 释放资源
// 实时层先停，保证 SERVER_SHUTDOWN 在任何连接关闭之前发出
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error

	if err := e.hub.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if e.server != nil {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.Server.ShutdownTimeout)
		if err := e.server.Shutdown(sctx); err != nil {
			e.log.Warn("http server forced to close", zap.Error(err))
			errs = append(errs, err)
		}
		cancel()
	}

	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil

	e.log.Info("server exited")
	_ = e.log.Sync()
	return errors.Join(errs...)
}
