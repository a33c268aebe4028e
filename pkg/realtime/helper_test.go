package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/lovpulse/pkg/session"
)

var errTransportClosed = errors.New("transport closed")

type written struct {
	seq  int64
	data []byte
}

// fakeTransport 内存传输，记录写出的帧与关闭顺序
type fakeTransport struct {
	seq *atomic.Int64

	mu         sync.Mutex
	writes     []written
	pings      int
	closeFrame int64 // 写出关闭帧的序号，0 表示未写出
	closedAt   int64 // 底层关闭的序号
	closeCalls int
	failWrites bool
	pong       func(string) error

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(seq *atomic.Int64) *fakeTransport {
	if seq == nil {
		seq = new(atomic.Int64)
	}
	return &fakeTransport{
		seq:    seq,
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) SetReadLimit(int64)                  {}
func (f *fakeTransport) SetReadDeadline(time.Time) error     { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error    { return nil }
func (f *fakeTransport) SetPongHandler(h func(string) error) { f.mu.Lock(); f.pong = h; f.mu.Unlock() }

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isClosed() {
		return errTransportClosed
	}
	if f.failWrites {
		return errors.New("broken pipe")
	}
	f.writes = append(f.writes, written{seq: f.seq.Add(1), data: data})
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isClosed() {
		return errTransportClosed
	}
	switch messageType {
	case websocket.PingMessage:
		f.pings++
	case websocket.CloseMessage:
		f.closeFrame = f.seq.Add(1)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closedAt = f.seq.Add(1)
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// receive 模拟客户端发送一帧
func (f *fakeTransport) receive(v any) {
	switch data := v.(type) {
	case string:
		f.in <- []byte(data)
	case []byte:
		f.in <- data
	default:
		b, _ := json.Marshal(v)
		f.in <- b
	}
}

// frames 返回指定类型的已写出帧
func (f *fakeTransport) frames(typ string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]any
	for _, w := range f.writes {
		var m map[string]any
		if json.Unmarshal(w.data, &m) == nil && m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// firstSeq 指定类型帧第一次写出的序号
func (f *fakeTransport) firstSeq(typ string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.writes {
		var m map[string]any
		if json.Unmarshal(w.data, &m) == nil && m["type"] == typ {
			return w.seq
		}
	}
	return 0
}

// closeSeq 第一次关闭（关闭帧或底层关闭）的序号
func (f *fakeTransport) closeSeq() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.closeFrame > 0 && (f.closedAt == 0 || f.closeFrame < f.closedAt):
		return f.closeFrame
	default:
		return f.closedAt
	}
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.NodeID = "node-test"
	cfg.HeartbeatInterval = time.Hour
	cfg.RateSweepInterval = time.Hour
	cfg.ShutdownGrace = 2 * time.Second
	cfg.LogicalPing = false
	return cfg
}

func newTestHub(t *testing.T, cfg *Config, opts ...Option) *Hub {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	h, err := NewHub(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

// connect 接入一个运行中的连接
func connect(t *testing.T, h *Hub, uid int64, seq *atomic.Int64) (*Conn, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport(seq)
	c, err := h.Accept(ft, &session.Identity{UserID: uid}, "127.0.0.1", "test")
	require.NoError(t, err)
	go c.run()
	return c, ft
}

// connectAdmin 接入一个管理员连接
func connectAdmin(t *testing.T, h *Hub, uid int64) (*Conn, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport(nil)
	c, err := h.Accept(ft, &session.Identity{UserID: uid, IsAdmin: true}, "127.0.0.1", "test")
	require.NoError(t, err)
	go c.run()
	return c, ft
}

// countOf 等待后读取帧数量
func countOf(ft *fakeTransport, typ string) func() int {
	return func() int { return len(ft.frames(typ)) }
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
