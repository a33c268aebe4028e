package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// EventType 事件类型
type EventType string

const (
	// EventConnected 连接建立
	EventConnected EventType = "conn.connected"
	// EventDisconnected 连接关闭
	EventDisconnected EventType = "conn.disconnected"
	// EventPresenceChanged 用户上线或下线
	EventPresenceChanged EventType = "presence.changed"
	// EventFrameReceived 收到入站帧
	EventFrameReceived EventType = "frame.received"
)

// Event 事件
type Event struct {
	Type     EventType
	ConnID   string
	UserID   int64
	Presence *PresenceRecord
	Frame    Inbound
	Time     time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 事件总线
// 单个 worker 时同一发布者的事件按发布顺序处理
type EventBus struct {
	handlers      map[EventType][]EventHandler
	mu            sync.RWMutex
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	droppedEvents atomic.Int64
	log           logger.Logger
}

// NewEventBus 创建事件总线
func NewEventBus(workers, queueSize int, log logger.Logger) *EventBus {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if log == nil {
		log = logger.NewNop()
	}

	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), queueSize),
		stopCh:   make(chan struct{}),
		log:      log,
	}
	for i := 0; i < workers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			// 处理完已入队的任务再退出
			for {
				select {
				case task := <-eb.workerCh:
					task()
				default:
					return
				}
			}
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件（异步）
func (eb *EventBus) Publish(event Event) {
	if eb.closed.Load() {
		return
	}

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h := h
		task := func() { h(event) }

		switch event.Type {
		case EventPresenceChanged:
			// 镜像与最后活跃时间依赖该事件，阻塞直到入队或总线关闭
			select {
			case eb.workerCh <- task:
			case <-eb.stopCh:
				eb.drop(event)
			}
		case EventConnected, EventDisconnected:
			select {
			case eb.workerCh <- task:
			case <-time.After(100 * time.Millisecond):
				eb.drop(event)
			}
		default:
			select {
			case eb.workerCh <- task:
			default:
				eb.drop(event)
			}
		}
	}
}

func (eb *EventBus) drop(event Event) {
	eb.droppedEvents.Add(1)
	fields := []zap.Field{zap.String("event", string(event.Type)), zap.Int64("uid", event.UserID)}
	if event.Type == EventFrameReceived {
		eb.log.Debug("event dropped", fields...)
		return
	}
	eb.log.Warn("event dropped", fields...)
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	if !eb.closed.CompareAndSwap(false, true) {
		return
	}
	close(eb.stopCh)
	eb.wg.Wait()
}

// DroppedEvents 丢弃的事件数量
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}
