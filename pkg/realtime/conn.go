package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/logger"
	"github.com/tokmz/lovpulse/pkg/session"
)

// transport 连接底层传输，*websocket.Conn 满足该接口
type transport interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// 连接状态
const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

// Conn 一个已认证的实时连接
type Conn struct {
	id          string
	identity    session.Identity
	remoteAddr  string
	userAgent   string
	connectedAt time.Time

	ws  transport
	hub *Hub
	log logger.Logger

	// 发送队列（不关闭，生命周期由 done 控制）
	send     chan []byte
	sendHigh chan []byte
	pending  atomic.Int64 // 已入队未写出的帧数

	state   atomic.Int32
	alive   atomic.Bool
	limiter *rate.Limiter
	invalid atomic.Int32

	closeOnce     sync.Once
	terminateOnce sync.Once
	finishOnce    sync.Once
	quit          chan closeRequest // 优雅关闭请求
	done          chan struct{}     // 关闭流程已完成
	writeDone     chan struct{}
}

type closeRequest struct {
	code   int
	reason string
}

func newConn(h *Hub, ws transport, id *session.Identity, remoteAddr, userAgent string) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		identity:    *id,
		remoteAddr:  remoteAddr,
		userAgent:   userAgent,
		connectedAt: h.now(),
		ws:          ws,
		hub:         h,
		send:        make(chan []byte, h.cfg.SendQueueSize),
		sendHigh:    make(chan []byte, h.cfg.HighPriorityQueueSize),
		limiter:     rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst),
		quit:        make(chan closeRequest, 1),
		done:        make(chan struct{}),
		writeDone:   make(chan struct{}),
	}
	c.alive.Store(true)
	c.log = h.log.With(zap.String("conn_id", c.id), zap.Int64("uid", id.UserID))
	return c
}

// ID 连接 ID
func (c *Conn) ID() string { return c.id }

// UserID 所属用户
func (c *Conn) UserID() int64 { return c.identity.UserID }

// Identity 会话身份
func (c *Conn) Identity() session.Identity { return c.identity }

// RemoteAddr 来源地址
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// UserAgent 客户端标识
func (c *Conn) UserAgent() string { return c.userAgent }

// ConnectedAt 建立时间
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// IsOpen 是否可发送
func (c *Conn) IsOpen() bool { return c.state.Load() == stateOpen }

// Done 关闭流程完成后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

// Context 返回携带连接字段的 context，供处理器记录日志
func (c *Conn) Context(parent context.Context) context.Context {
	ctx := logger.WithConnID(parent, c.id)
	return logger.WithUID(ctx, c.identity.UserID)
}

// MarkAlive 标记收到对端数据
func (c *Conn) MarkAlive() { c.alive.Store(true) }

// Send 非阻塞入队普通帧
func (c *Conn) Send(data []byte) error {
	return c.enqueue(c.send, data)
}

// SendHigh 非阻塞入队高优先级帧（系统通知）
func (c *Conn) SendHigh(data []byte) error {
	return c.enqueue(c.sendHigh, data)
}

// SendFrame 编码并发送单个帧
func (c *Conn) SendFrame(f Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (c *Conn) enqueue(ch chan []byte, data []byte) error {
	if !c.IsOpen() {
		return errors.ErrConnClosed
	}
	c.pending.Add(1)
	select {
	case ch <- data:
		return nil
	default:
		c.pending.Add(-1)
		c.hub.metrics.IncrementDroppedFrames()
		return errors.ErrQueueFull
	}
}

// Flushed 队列中已无待写出的帧
func (c *Conn) Flushed() bool {
	return c.pending.Load() <= 0
}

// Close 优雅关闭：写完已入队的帧后发送关闭帧
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		if !c.state.CompareAndSwap(stateOpen, stateClosing) {
			return
		}
		c.quit <- closeRequest{code: code, reason: reason}
	})
}

// Terminate 立即断开底层连接，不写关闭帧
func (c *Conn) Terminate() {
	c.terminateOnce.Do(func() {
		c.state.Store(stateClosing)
		_ = c.ws.Close()
	})
}

// run 启动读写协程，阻塞直到连接关闭
func (c *Conn) run() {
	go c.writePump()
	c.readPump()
}

// readPump 读取入站帧，退出时执行关闭流程
func (c *Conn) readPump() {
	defer c.finish()

	c.ws.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("connection read failed", zap.Error(err))
			}
			return
		}
		c.MarkAlive()

		if !c.limiter.Allow() {
			c.hub.metrics.IncrementDroppedFrames()
			c.log.Debug("inbound frame throttled")
			continue
		}

		frame, err := DecodeInbound(data)
		if err != nil {
			c.hub.metrics.IncrementInvalidFrames()
			if limit := c.hub.cfg.MaxInvalidFrames; limit > 0 && c.invalid.Add(1) > limit {
				c.log.Warn("too many invalid frames, closing", zap.Int32("limit", limit))
				c.Close(websocket.ClosePolicyViolation, "too many invalid frames")
			}
			continue
		}
		c.invalid.Store(0)
		c.hub.metrics.IncrementFrames(frame.FrameType())
		c.dispatch(frame)
	}
}

// dispatch 路由单个入站帧
// 调试模式下处理器 panic 继续向上抛出，生产模式只记录
func (c *Conn) dispatch(frame Inbound) {
	defer func() {
		if r := recover(); r != nil {
			if c.hub.cfg.Debug {
				panic(r)
			}
			c.log.Error("frame handler panicked",
				zap.String("type", frame.FrameType()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	ctx := c.Context(c.hub.ctx)
	if err := c.hub.router.Route(ctx, c, frame); err != nil {
		c.log.DebugContext(ctx, "frame handler failed",
			zap.String("type", frame.FrameType()),
			zap.Error(err),
		)
	}
}

// writePump 写出队列中的帧，高优先级先写
func (c *Conn) writePump() {
	defer close(c.writeDone)

	for {
		select {
		case <-c.done:
			return

		case req := <-c.quit:
			c.drain()
			msg := websocket.FormatCloseMessage(req.code, req.reason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.cfg.WriteWait))
			_ = c.ws.Close()
			return

		case data := <-c.sendHigh:
			if err := c.write(data); err != nil {
				c.fail(err)
				return
			}

		case data := <-c.send:
			// 普通帧写出前先让高优先级帧插队
			select {
			case high := <-c.sendHigh:
				if err := c.write(high); err != nil {
					c.fail(err)
					return
				}
			default:
			}
			if err := c.write(data); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// drain 写出关闭前已入队的帧
func (c *Conn) drain() {
	for {
		var data []byte
		select {
		case data = <-c.sendHigh:
		default:
			select {
			case data = <-c.send:
			default:
				return
			}
		}
		if err := c.write(data); err != nil {
			return
		}
	}
}

func (c *Conn) write(data []byte) error {
	defer c.pending.Add(-1)
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// fail 写失败时断开，读协程随后执行关闭流程
func (c *Conn) fail(err error) {
	c.log.Debug("connection write failed", zap.Error(err))
	c.Terminate()
}

// finish 关闭流程：注销、更新在线状态，只执行一次
func (c *Conn) finish() {
	c.finishOnce.Do(func() {
		c.state.Store(stateClosed)
		_ = c.ws.Close()
		c.hub.onClose(c)
		close(c.done)
		c.hub.conns.Done()
	})
}

// String 实现 fmt.Stringer
func (c *Conn) String() string {
	return fmt.Sprintf("conn(%s uid=%d addr=%s)", c.id, c.identity.UserID, c.remoteAddr)
}
