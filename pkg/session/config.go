package session

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	DefaultCookieName  = "connect.sid"
	DefaultTable       = "session"
	DefaultRedisPrefix = "sess:"
)

// Config 会话解析配置
type Config struct {
	Store      string   `mapstructure:"store"` // postgres/database, redis, none
	CookieName string   `mapstructure:"cookie_name"`
	Secrets    []string `mapstructure:"secrets"`
	Table      string   `mapstructure:"table"`
	KeyPrefix  string   `mapstructure:"key_prefix"`
	Keys       Keys     `mapstructure:"keys"`

	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`

	// AllowAnonymous 允许 ?uid= 直接指定身份，仅限本地调试
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Store:      "database",
		CookieName: DefaultCookieName,
		Table:      DefaultTable,
		KeyPrefix:  DefaultRedisPrefix,
		Keys:       DefaultKeys(),
	}
}

// New 按配置组装 Resolver
// db 与 rdb 按 Store 类型按需使用，可为 nil
func New(cfg *Config, db *gorm.DB, rdb redis.UniversalClient) (Resolver, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Keys.UserID == "" {
		cfg.Keys = DefaultKeys()
	}

	var resolvers []Resolver

	switch cfg.Store {
	case "postgres", "database":
		if db == nil {
			return nil, fmt.Errorf("session store %q requires a database", cfg.Store)
		}
		resolvers = append(resolvers, NewCookieResolver(cfg.CookieName, cfg.Secrets, NewDBStore(db, cfg.Table, cfg.Keys)))
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("session store redis requires a redis client")
		}
		resolvers = append(resolvers, NewCookieResolver(cfg.CookieName, cfg.Secrets, NewRedisStore(rdb, cfg.KeyPrefix, cfg.Keys)))
	case "", "none":
	default:
		return nil, fmt.Errorf("unsupported session store: %s", cfg.Store)
	}

	if cfg.Store != "" && cfg.Store != "none" && len(cfg.Secrets) == 0 {
		return nil, fmt.Errorf("session secrets are required to verify cookies")
	}

	if cfg.JWTSecret != "" {
		resolvers = append(resolvers, NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer))
	}
	if cfg.AllowAnonymous {
		resolvers = append(resolvers, Anonymous())
	}
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("no session resolver configured")
	}
	return Chain(resolvers...), nil
}
