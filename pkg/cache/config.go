package cache

import (
	"fmt"
	"time"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 缓存配置
type Config struct {
	Driver DriverType    `mapstructure:"driver"` // memory, redis
	Redis  *RedisConfig  `mapstructure:"redis"`  // nil 时复用应用的 Redis 客户端
	Memory *MemoryConfig `mapstructure:"memory"`

	Serializer Serializer `mapstructure:"-"`

	KeyPrefix  string        `mapstructure:"key_prefix"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`           // 地址（单机）
	Addrs        []string      `mapstructure:"addrs"`          // 地址列表（集群/哨兵）
	Mode         RedisMode     `mapstructure:"mode"`           // standalone, cluster, sentinel
	Username     string        `mapstructure:"username"`       // 用户名（Redis 6.0+）
	Password     string        `mapstructure:"password"`       // 密码
	DB           int           `mapstructure:"db"`             // 数据库编号
	PoolSize     int           `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int           `mapstructure:"min_idle_conns"` // 最小空闲连接
	MaxRetries   int           `mapstructure:"max_retries"`    // 最大重试次数
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`   // 连接超时
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`   // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`  // 写超时

	// 哨兵模式配置
	MasterName string `mapstructure:"master_name"` // 主节点名称
}

// MemoryConfig 内存缓存配置
type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"` // 默认过期时间
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`   // 清理间隔
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:     DriverMemory,
		Serializer: JSONSerializer{},
		KeyPrefix:  "lovpulse:",
		DefaultTTL: time.Minute,
		Memory:     DefaultMemoryConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Mode:         RedisStandalone,
		Password:     "",
		DB:           0,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DefaultMemoryConfig 返回默认 Memory 配置
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		DefaultExpiration: time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// Validate 验证 Redis 配置
func (r *RedisConfig) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: redis config is required", ErrCacheInvalidConfig)
	}

	switch r.Mode {
	case RedisStandalone, "":
		if r.Addr == "" {
			return fmt.Errorf("%w: redis addr is required for standalone mode", ErrCacheInvalidConfig)
		}
	case RedisCluster:
		if len(r.Addrs) < 3 {
			return fmt.Errorf("%w: redis cluster requires at least 3 nodes", ErrCacheInvalidConfig)
		}
	case RedisSentinel:
		if len(r.Addrs) == 0 {
			return fmt.Errorf("%w: redis sentinel requires at least 1 sentinel node", ErrCacheInvalidConfig)
		}
		if r.MasterName == "" {
			return fmt.Errorf("%w: redis sentinel requires master name", ErrCacheInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: invalid redis mode", ErrCacheInvalidConfig)
	}
	return nil
}
