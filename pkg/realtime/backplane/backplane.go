// Package backplane 跨进程发布/订阅总线
//
// 每个驱动把 Envelope 广播给所有订阅节点（包括发布者自身），
// 去重与丢弃自身来源的工作由上层完成。
package backplane

import (
	"context"
	"fmt"

	"github.com/tokmz/lovpulse/pkg/cache"
	"github.com/tokmz/lovpulse/pkg/logger"
)

// Driver 总线驱动
type Driver string

const (
	DriverNone   Driver = "none"
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
	DriverNATS   Driver = "nats"
	DriverAMQP   Driver = "amqp"
	DriverKafka  Driver = "kafka"
)

// DefaultChannel 默认频道 / subject / exchange / topic 名
const DefaultChannel = "lovpulse.realtime"

// Handler 收到 Envelope 时的回调
type Handler func(ctx context.Context, env *Envelope)

// Backplane 发布/订阅总线
type Backplane interface {
	Name() string
	Publish(ctx context.Context, env *Envelope) error
	// Subscribe 开始接收消息，建立订阅失败时返回错误
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// Config 总线配置
type Config struct {
	Driver  Driver             `mapstructure:"driver"`
	Channel string             `mapstructure:"channel"`
	Redis   *cache.RedisConfig `mapstructure:"redis"`
	NATS    NATSConfig         `mapstructure:"nats"`
	AMQP    AMQPConfig         `mapstructure:"amqp"`
	Kafka   KafkaConfig        `mapstructure:"kafka"`
}

// Enabled 是否配置了总线
func (c *Config) Enabled() bool {
	return c != nil && c.Driver != "" && c.Driver != DriverNone
}

func (c *Config) channel() string {
	if c.Channel == "" {
		return DefaultChannel
	}
	return c.Channel
}

// New 按配置创建总线
func New(ctx context.Context, cfg *Config, log logger.Logger) (Backplane, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("backplane not configured")
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("backplane").Named(string(cfg.Driver))

	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryBus().Node(), nil
	case DriverRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis backplane requires redis config")
		}
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return newRedis(client, cfg.channel(), true, log), nil
	case DriverNATS:
		return NewNATS(cfg.NATS, cfg.channel(), log)
	case DriverAMQP:
		return NewAMQP(cfg.AMQP, cfg.channel(), log)
	case DriverKafka:
		return NewKafka(cfg.Kafka, cfg.channel(), log)
	default:
		return nil, fmt.Errorf("unsupported backplane driver: %s", cfg.Driver)
	}
}
