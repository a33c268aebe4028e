package backplane

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// NATSConfig NATS 连接配置
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// NATS 基于 NATS core subject 的总线
type NATS struct {
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
	log     logger.Logger
}

// NewNATS 连接 NATS
func NewNATS(cfg NATSConfig, subject string, log logger.Logger) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "lovpulse"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &NATS{nc: nc, subject: subject, log: log}, nil
}

func (n *NATS) Name() string { return string(DriverNATS) }

func (n *NATS) Publish(_ context.Context, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return n.nc.Publish(n.subject, data)
}

func (n *NATS) Subscribe(ctx context.Context, h Handler) error {
	sub, err := n.nc.Subscribe(n.subject, func(m *nats.Msg) {
		env, err := Decode(m.Data)
		if err != nil {
			n.log.Warn("discard malformed envelope", zap.Error(err))
			return
		}
		h(ctx, env)
	})
	if err != nil {
		return err
	}
	n.sub = sub
	return n.nc.Flush()
}

func (n *NATS) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	return n.nc.Drain()
}
