package realtime

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	IncrementRejected(reason string)

	// 帧指标
	IncrementFrames(frameType string)
	IncrementInvalidFrames()
	IncrementDroppedFrames()

	// 分发指标
	ObserveDispatch(delivered int, duration time.Duration)
	IncrementBackplaneErrors()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()              {}
func (NoopMetrics) DecrementConnections()              {}
func (NoopMetrics) IncrementRejected(string)           {}
func (NoopMetrics) IncrementFrames(string)             {}
func (NoopMetrics) IncrementInvalidFrames()            {}
func (NoopMetrics) IncrementDroppedFrames()            {}
func (NoopMetrics) ObserveDispatch(int, time.Duration) {}
func (NoopMetrics) IncrementBackplaneErrors()          {}

// CounterMetrics 基于原子计数器的进程内实现，供状态接口读取
type CounterMetrics struct {
	connections     atomic.Int64
	totalConns      atomic.Int64
	invalidFrames   atomic.Int64
	droppedFrames   atomic.Int64
	dispatches      atomic.Int64
	delivered       atomic.Int64
	backplaneErrors atomic.Int64
	frames          sync.Map // frameType -> *atomic.Int64
	rejected        sync.Map // reason -> *atomic.Int64
}

// NewCounterMetrics 创建计数器
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{}
}

func (m *CounterMetrics) IncrementConnections() {
	m.connections.Add(1)
	m.totalConns.Add(1)
}

func (m *CounterMetrics) DecrementConnections()   { m.connections.Add(-1) }
func (m *CounterMetrics) IncrementInvalidFrames() { m.invalidFrames.Add(1) }
func (m *CounterMetrics) IncrementDroppedFrames() { m.droppedFrames.Add(1) }
func (m *CounterMetrics) IncrementBackplaneErrors() {
	m.backplaneErrors.Add(1)
}

func (m *CounterMetrics) IncrementFrames(frameType string) {
	counter(&m.frames, frameType).Add(1)
}

func (m *CounterMetrics) IncrementRejected(reason string) {
	counter(&m.rejected, reason).Add(1)
}

func (m *CounterMetrics) ObserveDispatch(delivered int, _ time.Duration) {
	m.dispatches.Add(1)
	m.delivered.Add(int64(delivered))
}

// MetricsSnapshot 计数器快照
type MetricsSnapshot struct {
	Connections      int64            `json:"connections"`
	TotalConnections int64            `json:"totalConnections"`
	InvalidFrames    int64            `json:"invalidFrames"`
	DroppedFrames    int64            `json:"droppedFrames"`
	Dispatches       int64            `json:"dispatches"`
	Delivered        int64            `json:"delivered"`
	BackplaneErrors  int64            `json:"backplaneErrors"`
	Frames           map[string]int64 `json:"frames"`
	Rejected         map[string]int64 `json:"rejected"`
}

// Snapshot 读取当前计数
func (m *CounterMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Connections:      m.connections.Load(),
		TotalConnections: m.totalConns.Load(),
		InvalidFrames:    m.invalidFrames.Load(),
		DroppedFrames:    m.droppedFrames.Load(),
		Dispatches:       m.dispatches.Load(),
		Delivered:        m.delivered.Load(),
		BackplaneErrors:  m.backplaneErrors.Load(),
		Frames:           collect(&m.frames),
		Rejected:         collect(&m.rejected),
	}
}

func counter(m *sync.Map, key string) *atomic.Int64 {
	if v, ok := m.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func collect(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}
