package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/logger"
	"github.com/tokmz/lovpulse/pkg/realtime/backplane"
	"github.com/tokmz/lovpulse/pkg/tracing"
)

// Fanout 分发入口
// 单进程时只做本地投递；配置总线后同时复制到其他节点
type Fanout interface {
	// ToAll 投递给所有用户，返回本地尝试发送的连接数
	ToAll(ctx context.Context, data []byte) int
	// ToUsers 投递给指定用户，返回本地尝试发送的连接数
	ToUsers(ctx context.Context, userIDs []int64, data []byte) int
	Start(ctx context.Context) error
	Close(ctx context.Context) error
	Status() FanoutStatus
}

// FanoutStatus 集群分发状态
type FanoutStatus struct {
	Mode      string `json:"mode"` // local / cluster
	Driver    string `json:"driver,omitempty"`
	Healthy   bool   `json:"healthy"`
	Published int64  `json:"published"`
	Received  int64  `json:"received"`
	Dropped   int64  `json:"dropped"`
	Errors    int64  `json:"errors"`
}

// NewFanout 根据是否有总线选择实现
func NewFanout(d *Dispatcher, bp backplane.Backplane, node string, queueSize int, metrics Metrics, log logger.Logger) Fanout {
	if bp == nil {
		return &localFanout{d: d}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &clusterFanout{
		d:       d,
		bp:      bp,
		node:    node,
		queue:   make(chan *backplane.Envelope, queueSize),
		dedupe:  backplane.NewDedupe(0, 0, 0),
		metrics: metrics,
		log:     log.Named("cluster"),
		done:    make(chan struct{}),
	}
}

type localFanout struct {
	d *Dispatcher
}

func (f *localFanout) ToAll(_ context.Context, data []byte) int { return f.d.ToAll(data) }

func (f *localFanout) ToUsers(_ context.Context, userIDs []int64, data []byte) int {
	return f.d.ToUsers(userIDs, data)
}

func (f *localFanout) Start(context.Context) error { return nil }
func (f *localFanout) Close(context.Context) error { return nil }
func (f *localFanout) Status() FanoutStatus        { return FanoutStatus{Mode: "local", Healthy: true} }

type clusterFanout struct {
	d       *Dispatcher
	bp      backplane.Backplane
	node    string
	dedupe  *backplane.Dedupe
	metrics Metrics
	log     logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *backplane.Envelope
	done   chan struct{}

	healthy   atomic.Bool
	published atomic.Int64
	received  atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64
}

func (f *clusterFanout) ToAll(ctx context.Context, data []byte) int {
	n := f.d.ToAll(data)
	f.publish(ctx, backplane.Target{All: true}, data)
	return n
}

func (f *clusterFanout) ToUsers(ctx context.Context, userIDs []int64, data []byte) int {
	n := f.d.ToUsers(userIDs, data)
	if len(userIDs) > 0 {
		f.publish(ctx, backplane.Target{Users: userIDs}, data)
	}
	return n
}

// publish 入队后异步发布，队列满时丢弃
func (f *clusterFanout) publish(ctx context.Context, target backplane.Target, data []byte) {
	env := &backplane.Envelope{
		ID:     uuid.NewString(),
		Origin: f.node,
		Target: target,
		Frame:  data,
		SentAt: time.Now(),
		Trace:  tracing.Inject(ctx),
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- env:
	default:
		f.dropped.Add(1)
		f.metrics.IncrementBackplaneErrors()
		f.log.Warn("publish queue full, envelope dropped", zap.String("envelope_id", env.ID))
	}
}

// Start 订阅总线并启动发布协程
// 订阅失败时仍保留本地投递，返回 ErrBackplaneDown 供调用方记录
func (f *clusterFanout) Start(ctx context.Context) error {
	go f.loop()

	if err := f.bp.Subscribe(ctx, f.receive); err != nil {
		f.healthy.Store(false)
		f.metrics.IncrementBackplaneErrors()
		return errors.ErrBackplaneDown.WithError(err)
	}
	f.healthy.Store(true)
	f.log.Info("backplane subscribed", zap.String("driver", f.bp.Name()), zap.String("node", f.node))
	return nil
}

func (f *clusterFanout) loop() {
	defer close(f.done)

	for env := range f.queue {
		ctx, span := tracing.StartSpan(tracing.Extract(context.Background(), env.Trace), "realtime.backplane.publish")
		span.SetAttributes(
			attribute.String("backplane.driver", f.bp.Name()),
			attribute.String("envelope.id", env.ID),
		)

		if err := f.bp.Publish(ctx, env); err != nil {
			tracing.RecordError(span, err)
			f.errors.Add(1)
			f.metrics.IncrementBackplaneErrors()
			if f.healthy.Swap(false) {
				f.log.Warn("backplane publish failed, running in single-process mode", zap.Error(err))
			}
		} else {
			f.published.Add(1)
			if !f.healthy.Swap(true) {
				f.log.Info("backplane publish recovered")
			}
		}
		span.End()
	}
}

// receive 处理其他节点发来的事件，只做本地投递，不再转发
func (f *clusterFanout) receive(ctx context.Context, env *backplane.Envelope) {
	if env.Origin == f.node {
		return
	}
	if f.dedupe.Seen(env.ID) {
		return
	}
	f.received.Add(1)

	ctx, span := tracing.StartSpan(tracing.Extract(ctx, env.Trace), "realtime.backplane.deliver")
	defer span.End()

	var n int
	if env.Target.All {
		n = f.d.ToAll(env.Frame)
	} else {
		n = f.d.ToUsers(env.Target.Users, env.Frame)
	}
	span.SetAttributes(attribute.Int("delivered", n))
	f.log.DebugContext(ctx, "envelope delivered",
		zap.String("origin", env.Origin),
		zap.Int("connections", n),
	)
}

// Close 停止接收新事件，等待队列发完后关闭总线
func (f *clusterFanout) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	select {
	case <-f.done:
	case <-ctx.Done():
		f.log.Warn("backplane flush timed out")
	}
	return f.bp.Close()
}

func (f *clusterFanout) Status() FanoutStatus {
	return FanoutStatus{
		Mode:      "cluster",
		Driver:    f.bp.Name(),
		Healthy:   f.healthy.Load(),
		Published: f.published.Load(),
		Received:  f.received.Load(),
		Dropped:   f.dropped.Load(),
		Errors:    f.errors.Load(),
	}
}
