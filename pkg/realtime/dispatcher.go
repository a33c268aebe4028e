package realtime

import (
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// Dispatcher 本地分发：只投递到本进程持有的连接
type Dispatcher struct {
	registry *Registry
	metrics  Metrics
	log      logger.Logger
}

// NewDispatcher 创建本地分发器
func NewDispatcher(registry *Registry, metrics Metrics, log logger.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{registry: registry, metrics: metrics, log: log}
}

// ToAll 投递到所有打开的连接，返回尝试发送的连接数
func (d *Dispatcher) ToAll(data []byte) int {
	return d.deliver(d.registry.All(), data)
}

// ToUsers 投递到指定用户的连接，用户去重，无连接的用户忽略
func (d *Dispatcher) ToUsers(userIDs []int64, data []byte) int {
	seen := make(map[int64]struct{}, len(userIDs))
	var conns []*Conn
	for _, uid := range userIDs {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		conns = append(conns, d.registry.Connections(uid)...)
	}
	return d.deliver(conns, data)
}

func (d *Dispatcher) deliver(conns []*Conn, data []byte) int {
	start := time.Now()
	attempted, failed := 0, 0
	for _, c := range conns {
		if !c.IsOpen() {
			continue
		}
		attempted++
		if err := c.Send(data); err != nil {
			failed++
			d.log.Debug("dispatch to connection failed",
				zap.String("conn_id", c.ID()),
				zap.Int64("uid", c.UserID()),
				zap.Error(err),
			)
		}
	}
	if failed > 0 {
		d.log.Warn("dispatch partially failed", zap.Int("attempted", attempted), zap.Int("failed", failed))
	}
	d.metrics.ObserveDispatch(attempted-failed, time.Since(start))
	return attempted
}
