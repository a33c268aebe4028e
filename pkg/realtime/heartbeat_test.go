package realtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatTerminatesSilentConnection(t *testing.T) {
	metrics := NewCounterMetrics()
	h := newTestHub(t, nil, WithMetrics(metrics))

	var disconnected atomic.Int32
	h.Events().Subscribe(EventDisconnected, func(Event) { disconnected.Add(1) })

	c, ft := connect(t, h, 1, nil)
	require.Equal(t, 1, h.ConnectionCount(1))

	// 第一轮：连接刚建立视为存活，发送探测
	assert.Equal(t, 0, h.heartbeat.Tick())
	assert.Equal(t, 1, ft.pingCount())
	assert.True(t, c.IsOpen())

	// 第二轮：上一轮以来没有任何入站数据，强制断开
	assert.Equal(t, 1, h.heartbeat.Tick())

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("connection not closed")
	}

	assert.Equal(t, 0, h.ConnectionCount(1))
	rec, ok := h.Presence(1)
	require.True(t, ok)
	assert.False(t, rec.Online)

	assert.Equal(t, 0, h.heartbeat.Tick(), "closed connection is not terminated again")
	assert.Eventually(t, func() bool { return disconnected.Load() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return disconnected.Load() > 1 }, 50*tick, tick)
	assert.Equal(t, int64(0), metrics.Snapshot().Connections)
}

func TestHeartbeatKeepsActiveConnection(t *testing.T) {
	h := newTestHub(t, nil)
	c, ft := connect(t, h, 1, nil)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 0, h.heartbeat.Tick())
		// 任意入站帧都算存活
		ft.receive(`{"type":"SOMETHING_ELSE"}`)
		assert.Eventually(t, c.alive.Load, waitFor, tick)
	}
	assert.True(t, c.IsOpen())

	// 控制帧 pong 同样算存活
	assert.Equal(t, 0, h.heartbeat.Tick())
	ft.mu.Lock()
	pong := ft.pong
	ft.mu.Unlock()
	require.NotNil(t, pong)
	require.NoError(t, pong(""))
	assert.Equal(t, 0, h.heartbeat.Tick())
	assert.True(t, c.IsOpen())
}

func TestHeartbeatLogicalPing(t *testing.T) {
	cfg := testConfig()
	cfg.LogicalPing = true
	h := newTestHub(t, cfg)
	c, ft := connect(t, h, 1, nil)

	h.heartbeat.Tick()
	assert.Eventually(t, func() bool { return countOf(ft, TypePing)() == 1 }, waitFor, tick)
	assert.False(t, c.alive.Load())

	ft.receive(`{"type":"PONG"}`)
	assert.Eventually(t, c.alive.Load, waitFor, tick)
	assert.Equal(t, 0, h.heartbeat.Tick())
	assert.True(t, c.IsOpen())
}
