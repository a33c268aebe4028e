package lovpulse

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tokmz/lovpulse/pkg/cache"
	"github.com/tokmz/lovpulse/pkg/logger"
	"github.com/tokmz/lovpulse/pkg/orm"
	"github.com/tokmz/lovpulse/pkg/realtime"
	"github.com/tokmz/lovpulse/pkg/realtime/backplane"
	"github.com/tokmz/lovpulse/pkg/session"
	"github.com/tokmz/lovpulse/pkg/store"
	"github.com/tokmz/lovpulse/pkg/tracing"
)

// Bootstrap 按配置创建全部依赖并组装 Engine
// 数据库、Redis、总线均为可选：未配置时实时层以单进程、无联系人模式运行
func Bootstrap(ctx context.Context, cfg *Config, log logger.Logger) (_ *Engine, err error) {
	var closers []func(context.Context) error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i](ctx)
			}
		}
	}()

	if cfg.Realtime.NodeID == "" {
		cfg.Realtime.NodeID = defaultNodeID()
	}

	provider, err := tracing.Setup(ctx, cfg.Tracing, cfg.Realtime.NodeID)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	closers = append(closers, provider.Shutdown)

	var db *gorm.DB
	if cfg.Database != nil && cfg.Database.DSN != "" {
		if db, err = orm.New(cfg.Database, log); err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		closers = append(closers, func(context.Context) error { return orm.Close(db) })
	}

	var rdb redis.UniversalClient
	if cfg.Redis != nil {
		if rdb, err = cache.NewRedisClient(ctx, cfg.Redis); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func(context.Context) error { return rdb.Close() })
	}

	resolver, err := session.New(cfg.Session, db, rdb)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	metrics := realtime.NewCounterMetrics()
	opts := []realtime.Option{
		realtime.WithLogger(log),
		realtime.WithSessionResolver(resolver),
		realtime.WithMetrics(metrics),
	}

	if db != nil {
		contactsCache, cerr := cache.New(cfg.Cache, rdb)
		if cerr != nil {
			return nil, fmt.Errorf("cache: %w", cerr)
		}
		closers = append(closers, func(context.Context) error { return contactsCache.Close() })
		opts = append(opts,
			realtime.WithContacts(store.NewContacts(db, cache.NewTracing(contactsCache), cfg.Contacts)),
			realtime.WithLastSeen(store.NewLastSeen(db, cfg.LastSeen)),
		)
	}

	if cfg.Backplane.Enabled() {
		bp, berr := newBackplane(ctx, cfg, rdb, log)
		if berr != nil {
			// 总线不可用不阻止启动，退化为单进程模式
			log.Warn("backplane unavailable, running in single-process mode",
				zap.String("driver", string(cfg.Backplane.Driver)), zap.Error(berr))
		} else {
			opts = append(opts, realtime.WithBackplane(bp))
		}
	}

	if cfg.Presence.Mirror && rdb != nil {
		opts = append(opts, realtime.WithPresenceMirror(
			realtime.NewRedisPresence(rdb, cfg.Presence.Prefix, cfg.Realtime.NodeID, cfg.Presence.TTL),
		))
	}

	hub, err := realtime.NewHub(cfg.Realtime, opts...)
	if err != nil {
		return nil, err
	}

	e := New(cfg, log, hub, resolver)
	for _, fn := range closers {
		e.OnShutdown(fn)
	}
	return e, nil
}

// newBackplane Redis 总线与应用共用同一份配置时复用客户端
func newBackplane(ctx context.Context, cfg *Config, rdb redis.UniversalClient, log logger.Logger) (backplane.Backplane, error) {
	bc := cfg.Backplane
	if bc.Driver == backplane.DriverRedis && rdb != nil && (bc.Redis == nil || bc.Redis == cfg.Redis) {
		channel := bc.Channel
		if channel == "" {
			channel = backplane.DefaultChannel
		}
		return backplane.NewRedis(rdb, channel, log.Named("backplane")), nil
	}
	return backplane.New(ctx, &bc, log)
}

// defaultNodeID 主机名加随机后缀，同一主机上的多个进程互不冲突
func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
