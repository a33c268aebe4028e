package backplane

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// AMQPConfig RabbitMQ 配置
type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

// AMQP 基于 RabbitMQ fanout exchange 的总线
// 每个节点绑定一个独占、自动删除的匿名队列
type AMQP struct {
	conn     *amqp.Connection
	exchange string
	log      logger.Logger

	mu      sync.Mutex // amqp.Channel 发布不是并发安全的
	pubCh   *amqp.Channel
	consume *amqp.Channel
}

// NewAMQP 连接 RabbitMQ 并声明 exchange
func NewAMQP(cfg AMQPConfig, exchange string, log logger.Logger) (*AMQP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url missing")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	a := &AMQP{conn: conn, exchange: exchange, log: log, pubCh: ch}
	go func() {
		if closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1)); closeErr != nil {
			log.Error("rabbitmq connection closed", zap.Error(closeErr))
		}
	}()
	return a, nil
}

func (a *AMQP) Name() string { return string(DriverAMQP) }

func (a *AMQP) Publish(ctx context.Context, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pubCh.PublishWithContext(ctx, a.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.ID,
		Timestamp:   env.SentAt,
		Body:        data,
	})
}

func (a *AMQP) Subscribe(ctx context.Context, h Handler) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to declare a queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", a.exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to consume: %w", err)
	}
	a.consume = ch

	go func() {
		for d := range deliveries {
			env, err := Decode(d.Body)
			if err != nil {
				a.log.Warn("discard malformed envelope", zap.Error(err))
				continue
			}
			h(ctx, env)
		}
	}()
	return nil
}

func (a *AMQP) Close() error {
	if a.consume != nil {
		_ = a.consume.Close()
	}
	a.mu.Lock()
	_ = a.pubCh.Close()
	a.mu.Unlock()
	return a.conn.Close()
}
