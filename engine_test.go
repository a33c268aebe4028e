package lovpulse

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/lovpulse/middleware"
	"github.com/tokmz/lovpulse/pkg/cache"
	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/logger"
	"github.com/tokmz/lovpulse/pkg/realtime"
	"github.com/tokmz/lovpulse/pkg/session"
)

const testToken = "internal-secret"

// testResolver ?uid= 指定用户，?admin=1 为管理员
var testResolver = session.ResolverFunc(func(r *http.Request) (*session.Identity, error) {
	id, err := session.Anonymous().Resolve(r)
	if err != nil {
		return nil, err
	}
	id.IsAdmin = r.URL.Query().Get("admin") == "1"
	return id, nil
})

func testEngineConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.Realtime.NodeID = "node-test"
	cfg.Realtime.HeartbeatInterval = time.Hour
	cfg.Realtime.ShutdownGrace = 2 * time.Second
	cfg.Internal.Tokens = []string{testToken}
	return cfg
}

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *httptest.Server) {
	t.Helper()
	if cfg == nil {
		cfg = testEngineConfig()
	}
	hub, err := realtime.NewHub(cfg.Realtime,
		realtime.WithSessionResolver(testResolver),
		realtime.WithMetrics(realtime.NewCounterMetrics()),
	)
	require.NoError(t, err)

	e := New(cfg, logger.NewNop(), hub, testResolver)
	hub.Start(context.Background())

	srv := httptest.NewServer(e.Handler())
	t.Cleanup(func() {
		_ = e.Shutdown(context.Background())
		srv.Close()
	})
	return e, srv
}

func dial(t *testing.T, srv *httptest.Server, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?uid=" + uid
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil 读取帧直到出现指定类型
func readUntil(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] == typ {
			return m
		}
	}
}

func post(t *testing.T, srv *httptest.Server, path, token string, body any) (*http.Response, Response) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.InternalTokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func delivered(t *testing.T, r Response) float64 {
	t.Helper()
	data, ok := r.Data.(map[string]any)
	require.True(t, ok, "unexpected data %v", r.Data)
	return data["delivered"].(float64)
}

func TestHealth(t *testing.T) {
	_, srv := newTestEngine(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "node-test", out.Data.(map[string]any)["node"])
}

func TestStatusRequiresAdmin(t *testing.T) {
	_, srv := newTestEngine(t, nil)
	readUntil(t, dial(t, srv, "7"), realtime.TypePresenceInitial)

	resp, err := http.Get(srv.URL + "/api/realtime/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/realtime/status?uid=7")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/realtime/status?uid=1&admin=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data realtime.Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "node-test", out.Data.Node)
	assert.Equal(t, 1, out.Data.ActiveConnections)
	assert.Equal(t, 1, out.Data.OnlineUsers)
	assert.Equal(t, "local", out.Data.Backplane.Mode)
}

func TestInternalMessages(t *testing.T) {
	_, srv := newTestEngine(t, nil)
	ws := dial(t, srv, "200")
	readUntil(t, ws, realtime.TypePresenceInitial)

	resp, out := post(t, srv, "/internal/realtime/messages", testToken, map[string]any{
		"event":          MessageCreated,
		"recipients":     []int64{200, 300},
		"conversationId": 55,
		"message":        map[string]any{"id": 9, "content": "hi"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), delivered(t, out))

	frame := readUntil(t, ws, realtime.TypeNewMessage)
	assert.Equal(t, float64(55), frame["conversationId"])
	assert.Equal(t, "hi", frame["message"].(map[string]any)["content"])

	_, out = post(t, srv, "/internal/realtime/messages", testToken, map[string]any{
		"event":          MessageDeleted,
		"recipients":     []int64{200},
		"conversationId": 55,
		"messageId":      9,
	})
	assert.Equal(t, float64(1), delivered(t, out))
	frame = readUntil(t, ws, realtime.TypeMessageDeleted)
	assert.Equal(t, float64(9), frame["messageId"])
}

func TestInternalBroadcasts(t *testing.T) {
	_, srv := newTestEngine(t, nil)
	a := dial(t, srv, "1")
	b := dial(t, srv, "2")
	readUntil(t, a, realtime.TypePresenceInitial)
	readUntil(t, b, realtime.TypePresenceInitial)

	_, out := post(t, srv, "/internal/realtime/likes", testToken, map[string]any{"postId": 3, "likeCount": 10})
	assert.Equal(t, float64(2), delivered(t, out))
	assert.Equal(t, float64(10), readUntil(t, a, realtime.TypeLikeUpdate)["like_count"])
	assert.Equal(t, float64(3), readUntil(t, b, realtime.TypeLikeUpdate)["postId"])

	_, out = post(t, srv, "/internal/realtime/comments", testToken, map[string]any{"data": map[string]any{"postId": 3}})
	assert.Equal(t, float64(2), delivered(t, out))
	readUntil(t, a, realtime.TypeNewComment)

	_, out = post(t, srv, "/internal/realtime/notifications", testToken, map[string]any{
		"recipients":   []int64{2},
		"notification": map[string]any{"kind": "follow"},
	})
	assert.Equal(t, float64(1), delivered(t, out))
	readUntil(t, b, realtime.TypeNotification)

	_, out = post(t, srv, "/internal/realtime/seen", testToken, map[string]any{
		"toUserId":       1,
		"conversationId": 5,
		"messageIds":     []int64{7, 8},
	})
	assert.Equal(t, float64(1), delivered(t, out))
	seen := readUntil(t, a, realtime.TypeMessageSeen)
	assert.Len(t, seen["messageIds"], 2)

	_, out = post(t, srv, "/internal/realtime/presence", testToken, map[string]any{
		"toUserId": 1,
		"userIds":  []int64{2},
	})
	assert.Equal(t, float64(1), delivered(t, out))
	bulk := readUntil(t, a, realtime.TypeBulkPresence)
	assert.Equal(t, true, bulk["users"].([]any)[0].(map[string]any)["isOnline"])
}

func TestInternalAuthAndValidation(t *testing.T) {
	_, srv := newTestEngine(t, nil)

	resp, out := post(t, srv, "/internal/realtime/likes", "", map[string]any{"postId": 3})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, errors.ErrUnauthorized.Code, out.Code)

	resp, out = post(t, srv, "/internal/realtime/messages", testToken, map[string]any{
		"event":          "archived",
		"recipients":     []int64{1},
		"conversationId": 1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errors.ErrBadRequest.Code, out.Code)

	resp, _ = post(t, srv, "/internal/realtime/messages", testToken, map[string]any{
		"event":          MessageDeleted,
		"recipients":     []int64{1},
		"conversationId": 1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInternalDisabledWithoutTokens(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Internal.Tokens = nil
	_, srv := newTestEngine(t, cfg)

	resp, err := http.Post(srv.URL+"/internal/realtime/likes", "application/json", strings.NewReader(`{"postId":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, errors.ErrNotFound.Code, out.Code)
}

func TestEngineShutdown(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	ws := dial(t, srv, "5")
	readUntil(t, ws, realtime.TypePresenceInitial)

	var closed []string
	e.OnShutdown(func(context.Context) error { closed = append(closed, "first"); return nil })
	e.OnShutdown(func(context.Context) error { closed = append(closed, "second"); return nil })

	done := make(chan error, 1)
	go func() { done <- e.Shutdown(context.Background()) }()

	notice := readUntil(t, ws, realtime.TypeServerShutdown)
	assert.NotEmpty(t, notice["message"])

	_, _, err := ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)

	require.NoError(t, <-done)
	assert.Equal(t, []string{"second", "first"}, closed)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReload(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	cfg := testEngineConfig()
	cfg.Realtime.RateLimit = 3
	cfg.Log.Level = "debug"
	e.Reload(cfg)

	assert.Equal(t, 3, e.Hub().Stats(context.Background()).RateLimit)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lovpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
realtime:
  heartbeat_interval: 15s
  rate_limit: 30
backplane:
  driver: memory
internal:
  tokens: ["a", "b"]
`), 0644))
	t.Setenv("LOVPULSE_LOG_LEVEL", "debug")

	cfg, loader, err := LoadConfig(path, nil)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, path, loader.File())
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 30, cfg.Realtime.RateLimit)
	assert.Equal(t, time.Minute, cfg.Realtime.RateWindow, "unset keys keep defaults")
	assert.Equal(t, "memory", string(cfg.Backplane.Driver))
	assert.Equal(t, []string{"a", "b"}, cfg.Internal.Tokens)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Presence.Mirror = true
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backplane.Driver = "redis"
	assert.Error(t, cfg.Validate())

	cfg.Redis = cache.DefaultRedisConfig()
	require.NoError(t, cfg.Validate())
	assert.Same(t, cfg.Redis, cfg.Backplane.Redis)
}

func TestLoggerConfig(t *testing.T) {
	lc := (&LogConfig{Level: "warn", Format: "xml", File: "/tmp/lovpulse.log"}).LoggerConfig(false)
	assert.Equal(t, logger.WarnLevel, lc.Level)
	assert.Equal(t, logger.JSONFormat, lc.Format)
	require.NotNil(t, lc.Rotate)
	assert.Equal(t, "/tmp/lovpulse.log", lc.Rotate.Filename)
}
