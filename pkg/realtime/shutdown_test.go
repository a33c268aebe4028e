package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/session"
)

func TestShutdownNoticeBeforeAnyClose(t *testing.T) {
	h := newTestHub(t, nil)
	seq := new(atomic.Int64)

	var conns []*Conn
	var transports []*fakeTransport
	for _, uid := range []int64{1, 1, 2} {
		c, ft := connect(t, h, uid, seq)
		conns = append(conns, c)
		transports = append(transports, ft)
	}
	for _, ft := range transports {
		assert.Eventually(t, func() bool { return countOf(ft, TypePresenceInitial)() == 1 }, waitFor, tick)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	firstClose := int64(-1)
	for _, ft := range transports {
		s := ft.closeSeq()
		require.NotZero(t, s, "connection closed")
		if firstClose < 0 || s < firstClose {
			firstClose = s
		}
	}
	for i, ft := range transports {
		assert.Len(t, ft.frames(TypeServerShutdown), 1, "connection %d", i)
		notice := ft.firstSeq(TypeServerShutdown)
		assert.Less(t, notice, firstClose, "notice for connection %d written before the first close", i)

		got := ft.frames(TypeServerShutdown)[0]
		assert.Equal(t, h.cfg.ShutdownMessage, got["message"])
		assert.Equal(t, float64(h.cfg.ReconnectDelay.Milliseconds()), got["reconnectDelay"])
	}

	for _, c := range conns {
		select {
		case <-c.Done():
		default:
			t.Fatalf("%s still running after shutdown", c)
		}
	}
	assert.Equal(t, 0, h.registry.ConnCount())

	// 重复调用无副作用
	require.NoError(t, h.Shutdown(context.Background()))
	for _, ft := range transports {
		assert.Len(t, ft.frames(TypeServerShutdown), 1)
	}
}

func TestShutdownForceClosesAfterGrace(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownGrace = 100 * time.Millisecond
	h := newTestHub(t, cfg)

	// 写协程未启动，通知无法写出，宽限期结束后强制关闭
	ft := newFakeTransport(nil)
	c, err := h.Accept(ft, &session.Identity{UserID: 1}, "127.0.0.1", "test")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, ft.isClosed())
	assert.False(t, c.IsOpen())
	assert.Equal(t, 0, h.ConnectionCount(1))
	select {
	case <-c.Done():
	default:
		t.Fatal("forced connection not finished")
	}
}

func TestShutdownWaitsForConnectionPumps(t *testing.T) {
	h := newTestHub(t, nil)
	var conns []*Conn
	for _, uid := range []int64{1, 2} {
		c, _ := connect(t, h, uid, nil)
		conns = append(conns, c)
	}

	require.NoError(t, h.Shutdown(context.Background()))
	for _, c := range conns {
		select {
		case <-c.Done():
		default:
			t.Fatalf("%s still running after shutdown", c)
		}
	}
	assert.True(t, h.waitConns(10*time.Millisecond))
}

func TestAcceptRejectedAfterShutdown(t *testing.T) {
	metrics := NewCounterMetrics()
	h := newTestHub(t, nil, WithMetrics(metrics))
	require.NoError(t, h.Shutdown(context.Background()))

	ft := newFakeTransport(nil)
	c, err := h.Accept(ft, &session.Identity{UserID: 1}, "127.0.0.1", "test")
	assert.Nil(t, c)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
	assert.Equal(t, 0, h.ConnectionCount(1))
	assert.Empty(t, ft.frames(TypeConnected))
	assert.Equal(t, int64(1), metrics.Snapshot().Rejected["shutting_down"])
}

func TestUpgradeRejectedWhileShuttingDown(t *testing.T) {
	h := newTestHub(t, nil, WithSessionResolver(session.Anonymous()))
	require.NoError(t, h.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?uid=1", nil)
	err := h.HandleUpgrade(rec, req)
	assert.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":4008`)
}

func TestShutdownReleasesGoroutines(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	h, err := NewHub(testConfig())
	require.NoError(t, err)
	h.Start(context.Background())

	var transports []*fakeTransport
	for _, uid := range []int64{1, 2, 3} {
		_, ft := connect(t, h, uid, nil)
		transports = append(transports, ft)
	}
	for _, ft := range transports {
		require.Eventually(t, func() bool { return countOf(ft, TypePresenceInitial)() == 1 }, waitFor, tick)
	}

	require.NoError(t, h.Shutdown(context.Background()))
	goleak.VerifyNone(t, ignore)
}
