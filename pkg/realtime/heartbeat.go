package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// Heartbeat 心跳巡检
// 每个周期检查所有连接：上个周期以来没有任何入站数据的连接被强制断开，其余发送探测
type Heartbeat struct {
	registry *Registry
	interval time.Duration
	logical  bool
	wait     time.Duration
	now      func() time.Time
	log      logger.Logger

	// 每轮巡检后回调（刷新集群在线状态等）
	afterTick func(ctx context.Context)
}

// NewHeartbeat 创建心跳巡检
func NewHeartbeat(registry *Registry, cfg *Config, now func() time.Time, log logger.Logger) *Heartbeat {
	if now == nil {
		now = time.Now
	}
	return &Heartbeat{
		registry: registry,
		interval: cfg.HeartbeatInterval,
		logical:  cfg.LogicalPing,
		wait:     cfg.WriteWait,
		now:      now,
		log:      log,
	}
}

// Tick 执行一轮巡检，返回被断开的连接数
func (hb *Heartbeat) Tick() int {
	terminated := 0
	var ping []byte
	if hb.logical {
		ping, _ = PingFrame(hb.now()).Encode()
	}

	for _, c := range hb.registry.All() {
		if !c.IsOpen() {
			continue
		}
		if !c.alive.Swap(false) {
			c.log.Info("heartbeat timeout, terminating connection")
			c.Terminate()
			terminated++
			continue
		}
		if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(hb.wait)); err != nil {
			c.log.Debug("ping failed", zap.Error(err))
		}
		if ping != nil {
			_ = c.SendHigh(ping)
		}
	}
	return terminated
}

// Run 按固定间隔巡检，直到 ctx 取消
func (hb *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := hb.Tick(); n > 0 {
				hb.log.Debug("heartbeat sweep", zap.Int("terminated", n))
			}
			if hb.afterTick != nil {
				hb.afterTick(ctx)
			}
		}
	}
}
