package backplane

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// Redis 基于 Redis Pub/Sub 的总线
type Redis struct {
	client  redis.UniversalClient
	channel string
	owned   bool
	pubsub  *redis.PubSub
	log     logger.Logger
}

// NewRedis 使用已有客户端创建总线，Close 不关闭客户端
func NewRedis(client redis.UniversalClient, channel string, log logger.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.NewNop()
	}
	return newRedis(client, channel, false, log)
}

func newRedis(client redis.UniversalClient, channel string, owned bool, log logger.Logger) *Redis {
	return &Redis{client: client, channel: channel, owned: owned, log: log}
}

func (r *Redis) Name() string { return string(DriverRedis) }

func (r *Redis) Publish(ctx context.Context, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	// 等待订阅确认，连接不可用时立即返回错误
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	r.pubsub = pubsub

	go func() {
		for msg := range pubsub.Channel() {
			env, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("discard malformed envelope", zap.Error(err))
				continue
			}
			h(ctx, env)
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	if r.owned {
		return r.client.Close()
	}
	return nil
}
