package lovpulse

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/lovpulse/middleware"
	"github.com/tokmz/lovpulse/pkg/cache"
	"github.com/tokmz/lovpulse/pkg/config"
	"github.com/tokmz/lovpulse/pkg/logger"
	"github.com/tokmz/lovpulse/pkg/orm"
	"github.com/tokmz/lovpulse/pkg/realtime"
	"github.com/tokmz/lovpulse/pkg/realtime/backplane"
	"github.com/tokmz/lovpulse/pkg/session"
	"github.com/tokmz/lovpulse/pkg/store"
	"github.com/tokmz/lovpulse/pkg/tracing"
)

// EnvPrefix 环境变量前缀，如 LOVPULSE_SERVER_ADDR
const EnvPrefix = "LOVPULSE"

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string `mapstructure:"addr"`

	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`

	// ShutdownTimeout HTTP 服务关闭超时，实时连接的宽限期见 realtime.shutdown_grace
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// Banner 启动时打印路由表
	Banner bool `mapstructure:"banner"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, console
	File       string `mapstructure:"file"`   // 非空时按大小轮转写入文件
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`

	Sampling *logger.SamplingConfig `mapstructure:"sampling"`
}

// PresenceConfig 集群在线状态镜像
type PresenceConfig struct {
	// Mirror 将在线状态写入 Redis，需要配置 redis
	Mirror bool          `mapstructure:"mirror"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// InternalConfig 路由层调用的内部推送接口
type InternalConfig struct {
	// Tokens 共享令牌，为空时不注册内部接口
	Tokens    []string                      `mapstructure:"tokens"`
	RateLimit *middleware.RateLimiterConfig `mapstructure:"rate_limit"`
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	Server    ServerConfig     `mapstructure:"server"`
	Realtime  *realtime.Config `mapstructure:"realtime"`
	Backplane backplane.Config `mapstructure:"backplane"`
	Presence  PresenceConfig   `mapstructure:"presence"`

	// Redis 会话、在线镜像与缓存共用的客户端，nil 表示不使用
	Redis *cache.RedisConfig `mapstructure:"redis"`

	Session  *session.Config      `mapstructure:"session"`
	Database *orm.Config          `mapstructure:"database"`
	Cache    *cache.Config        `mapstructure:"cache"`
	Contacts store.ContactsConfig `mapstructure:"contacts"`
	LastSeen store.LastSeenConfig `mapstructure:"last_seen"`

	Tracing  *tracing.Config        `mapstructure:"tracing"`
	Log      LogConfig              `mapstructure:"log"`
	CORS     *middleware.CORSConfig `mapstructure:"cors"`
	Internal InternalConfig         `mapstructure:"internal"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {

	return &Config{
		Mode: gin.ReleaseMode,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 15 * time.Second,
		},
		Realtime:  realtime.DefaultConfig(),
		Backplane: backplane.Config{Driver: backplane.DriverNone},
		Presence: PresenceConfig{
			Prefix: "lovpulse:presence:",
			TTL:    90 * time.Second,
		},
		Session: session.DefaultConfig(),
		Cache: &cache.Config{
			Driver:     cache.DriverMemory,
			Memory:     cache.DefaultMemoryConfig(),
			KeyPrefix:  "lovpulse:",
			DefaultTTL: time.Minute,
		},
		Tracing: tracing.DefaultConfig(),
		Log:     LogConfig{Level: "info", Format: "json"},
		CORS:    middleware.DefaultCORSConfig(),
	}
}

// Validate 校验配置，并让未单独配置 Redis 的组件复用 redis 配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}
	if c.Presence.Mirror && c.Redis == nil {
		return fmt.Errorf("presence.mirror requires redis")
	}
	if c.Backplane.Driver == backplane.DriverRedis && c.Backplane.Redis == nil {
		// 总线默认复用应用的 Redis 配置
		if c.Redis == nil {
			return fmt.Errorf("redis backplane requires redis config")
		}
		c.Backplane.Redis = c.Redis
	}
	if c.Cache != nil && c.Cache.Driver == cache.DriverRedis && c.Cache.Redis == nil && c.Redis == nil {
		return fmt.Errorf("redis cache requires redis config")
	}
	return nil
}

// LoggerConfig 转换为 logger.Config
func (c *LogConfig) LoggerConfig(development bool) *logger.Config {
	lc := &logger.Config{
		Level:            logger.ParseLevel(c.Level),
		Format:           logger.Format(c.Format),
		Console:          true,
		EnableCaller:     true,
		EnableStacktrace: true,
		Development:      development,
		Sampling:         c.Sampling,
	}
	if !lc.Format.IsValid() {
		lc.Format = logger.JSONFormat
	}
	if c.File != "" {
		lc.Rotate = &logger.RotateConfig{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxAge:     c.MaxAge,
			MaxBackups: c.MaxBackups,
			Compress:   c.Compress,
		}
	}
	return lc
}

// Loader 加载配置并在文件变更时回调
type Loader struct {
	source *config.Config
}

// LoadConfig 从配置文件与 LOVPULSE_ 环境变量加载配置
// path 为空时在 . 与 ./configs 下查找 lovpulse.{yaml,json,toml}，找不到则只使用默认值
func LoadConfig(path string, onChange func(*Config)) (*Config, *Loader, error) {
	l := &Loader{}
	opts := []config.Option{
		config.WithEnvPrefix(EnvPrefix),
		config.WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
		config.WithDefaults(envDefaults()),
	}
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	} else {
		opts = append(opts,
			config.WithConfigName("lovpulse"),
			config.WithConfigPaths(".", "./configs"),
			config.WithOptional(true),
		)
	}
	if onChange != nil {
		opts = append(opts,
			config.WithAutoWatch(true),
			config.WithOnChange(func() {
				cfg, err := l.decode()
				if err != nil {
					return
				}
				onChange(cfg)
			}),
		)
	}

	l.source = config.New(opts...)
	if err := l.source.Load(); err != nil {
		return nil, nil, err
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.source.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File 实际加载的配置文件
func (l *Loader) File() string {
	return l.source.ConfigFileUsed()
}

// Close 停止监控
func (l *Loader) Close() {
	l.source.Close()
}

// envDefaults 注册可仅通过环境变量覆盖的键
func envDefaults() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"mode":                     d.Mode,
		"server.addr":              d.Server.Addr,
		"realtime.node_id":         "",
		"realtime.rate_limit":      d.Realtime.RateLimit,
		"realtime.max_connections": d.Realtime.MaxConnections,
		"realtime.trust_proxy":     false,
		"realtime.debug":           false,
		"backplane.driver":         string(d.Backplane.Driver),
		"backplane.channel":        backplane.DefaultChannel,
		"session.store":            d.Session.Store,
		"session.secrets":          []string{},
		"session.jwt_secret":       "",
		"log.level":                d.Log.Level,
		"log.format":               d.Log.Format,
		"internal.tokens":          []string{},
	}
}
