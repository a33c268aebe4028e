package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/logger"
	"github.com/tokmz/lovpulse/pkg/realtime/backplane"
	"github.com/tokmz/lovpulse/pkg/session"
	"github.com/tokmz/lovpulse/pkg/tracing"
)

// ContactResolver 查询用户的联系人，用于连接建立时的初始在线快照
type ContactResolver interface {
	Contacts(ctx context.Context, userID int64) ([]int64, error)
}

// LastSeenWriter 用户下线时持久化最后活跃时间
type LastSeenWriter interface {
	SaveLastSeen(ctx context.Context, userID int64, at time.Time) error
}

// Option Hub 选项
type Option func(*Hub)

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(h *Hub) { h.log = log }
}

// WithSessionResolver 设置会话解析器
func WithSessionResolver(r session.Resolver) Option {
	return func(h *Hub) { h.resolver = r }
}

// contactInvalidator 联系人缓存失效，ContactResolver 可选实现
type contactInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// WithContacts 设置联系人查询
func WithContacts(c ContactResolver) Option {
	return func(h *Hub) { h.contacts = c }
}

// WithLastSeen 设置最后活跃时间写入
func WithLastSeen(w LastSeenWriter) Option {
	return func(h *Hub) { h.lastSeen = w }
}

// WithBackplane 设置集群总线
func WithBackplane(bp backplane.Backplane) Option {
	return func(h *Hub) { h.backplane = bp }
}

// WithPresenceMirror 设置集群在线状态镜像
func WithPresenceMirror(m PresenceMirror) Option {
	return func(h *Hub) { h.mirror = m }
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithClock 设置时钟（测试）
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// Hub 实时层协调者：接入、关闭与停机
type Hub struct {
	cfg  *Config
	node string
	log  logger.Logger
	now  func() time.Time

	metrics  Metrics
	upgrader *websocket.Upgrader
	resolver session.Resolver
	contacts ContactResolver
	lastSeen LastSeenWriter
	mirror   PresenceMirror

	backplane  backplane.Backplane
	registry   *Registry
	presence   *Presence
	limiter    *RateLimiter
	heartbeat  *Heartbeat
	dispatcher *Dispatcher
	fanout     Fanout
	router     *Router
	events     *EventBus

	// 串行化注册/注销与在线状态翻转，保证同一用户的状态事件有序
	lifecycle sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	conns     sync.WaitGroup
	startOnce sync.Once
	startedAt time.Time
	shutdown  atomic.Bool
}

// NewHub 创建 Hub
func NewHub(cfg *Config, opts ...Option) (*Hub, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Hub{
		cfg:     cfg,
		node:    cfg.NodeID,
		log:     logger.NewNop(),
		now:     time.Now,
		metrics: NoopMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.node == "" {
		h.node = "node-" + uuid.NewString()[:8]
	}
	h.log = h.log.Named("realtime").With(zap.String("node", h.node))
	if h.resolver == nil {
		h.resolver = session.ResolverFunc(func(*http.Request) (*session.Identity, error) {
			return nil, errors.ErrNoSession
		})
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.upgrader = newUpgrader(cfg)
	h.registry = NewRegistry(cfg.MaxConnections)
	h.presence = NewPresence(h.now)
	h.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateWindow, h.now)
	h.heartbeat = NewHeartbeat(h.registry, cfg, h.now, h.log)
	h.dispatcher = NewDispatcher(h.registry, h.metrics, h.log.Named("dispatch"))
	h.fanout = NewFanout(h.dispatcher, h.backplane, h.node, cfg.PublishQueueSize, h.metrics, h.log)
	h.events = NewEventBus(1, 4096, h.log.Named("events"))
	h.router = NewRouter(h.log)

	h.router.Use(LoggingMiddleware(h.log), EventMiddleware(h.events, h.now))
	if err := h.registerHandlers(); err != nil {
		return nil, err
	}
	h.router.Freeze()
	h.subscribeEvents()

	return h, nil
}

// Node 节点标识
func (h *Hub) Node() string { return h.node }

// Events 事件总线，供外部订阅连接与在线状态事件
func (h *Hub) Events() *EventBus { return h.events }

// Start 启动后台任务：限流清理、心跳巡检、集群订阅
func (h *Hub) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.startedAt = h.now()
		g, gctx := errgroup.WithContext(h.ctx)
		h.group = g

		g.Go(func() error {
			h.limiter.Run(gctx, h.cfg.RateSweepInterval)
			return nil
		})

		if h.mirror != nil {
			h.heartbeat.afterTick = func(ctx context.Context) {
				if err := h.mirror.Refresh(ctx); err != nil {
					h.log.Warn("refresh presence mirror failed", zap.Error(err))
				}
			}
		}
		g.Go(func() error {
			h.heartbeat.Run(gctx)
			return nil
		})

		if serr := h.fanout.Start(ctx); serr != nil {
			// 总线不可用时退化为单进程模式
			h.log.Warn("backplane unavailable, running in single-process mode", zap.Error(serr))
		}
		h.log.Info("realtime hub started",
			zap.Duration("heartbeat", h.cfg.HeartbeatInterval),
			zap.String("fanout", h.fanout.Status().Mode),
		)
	})
}

// HandleUpgrade 处理升级请求
// 依次检查：停机状态、来源地址限流、会话、连接上限；全部通过后升级并接入
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	ctx, span := tracing.StartSpan(r.Context(), "realtime.upgrade")
	defer span.End()

	addr := h.clientAddr(r)
	span.SetAttributes(attribute.String("client.address", addr))

	if h.shutdown.Load() {
		return h.reject(ctx, w, errors.ErrShuttingDown, "shutting_down")
	}
	if !h.limiter.Allow(addr) {
		h.log.WarnContext(ctx, "upgrade rate limited", zap.String("addr", addr))
		return h.reject(ctx, w, errors.ErrRateLimited, "rate_limited")
	}

	id, err := h.resolver.Resolve(r)
	if err != nil || id == nil || id.UserID <= 0 {
		if err != nil && !errors.Is(err, errors.ErrNoSession) {
			h.log.WarnContext(ctx, "resolve session failed", zap.Error(err))
		}
		return h.reject(ctx, w, errors.ErrNoSession, "unauthorized")
	}
	if h.registry.ConnCount() >= h.cfg.MaxConnections {
		return h.reject(ctx, w, errors.ErrTooManyConns, "capacity")
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader 已写出错误响应
		h.metrics.IncrementRejected("handshake")
		tracing.RecordError(span, err)
		return err
	}

	c, err := h.Accept(ws, id, addr, r.UserAgent())
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
		_ = ws.Close()
		tracing.RecordError(span, err)
		return err
	}
	span.SetAttributes(
		attribute.String("conn.id", c.ID()),
		attribute.Int64("user.id", c.UserID()),
	)

	go c.run()
	return nil
}

// reject 拒绝升级，不创建连接
func (h *Hub) reject(ctx context.Context, w http.ResponseWriter, e *errors.Error, reason string) error {
	h.metrics.IncrementRejected(reason)
	tracing.RecordError(tracing.SpanFromContext(ctx), e)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HttpCode)
	_ = json.NewEncoder(w).Encode(e)
	return e
}

// Accept 登记一个已完成升级的连接并推送初始帧
// 调用方负责随后启动连接的读写
func (h *Hub) Accept(ws transport, id *session.Identity, addr, userAgent string) (*Conn, error) {
	c := newConn(h, ws, id, addr, userAgent)

	h.lifecycle.Lock()
	if h.shutdown.Load() {
		h.lifecycle.Unlock()
		h.metrics.IncrementRejected("shutting_down")
		return nil, errors.ErrShuttingDown
	}
	_, count, err := h.registry.Register(id.UserID, c)
	if err != nil {
		h.lifecycle.Unlock()
		h.metrics.IncrementRejected("capacity")
		return nil, err
	}
	h.conns.Add(1)
	rec, changed := h.presence.Apply(id.UserID, count)
	if changed {
		h.broadcastPresence(h.ctx, rec)
	}
	h.lifecycle.Unlock()

	h.metrics.IncrementConnections()
	h.events.Publish(Event{Type: EventConnected, ConnID: c.ID(), UserID: c.UserID(), Time: c.ConnectedAt()})
	c.log.Info("connection accepted",
		zap.String("addr", addr),
		zap.Int("user_connections", count),
	)

	if err := c.SendFrame(ConnectedFrame(c, h.node, h.cfg.HeartbeatInterval)); err != nil {
		c.log.Debug("send connected frame failed", zap.Error(err))
	}
	h.sendInitialPresence(c)
	return c, nil
}

// InvalidateContacts 清除用户的联系人缓存，会话成员变化后调用
func (h *Hub) InvalidateContacts(ctx context.Context, userIDs ...int64) {
	inv, ok := h.contacts.(contactInvalidator)
	if !ok {
		return
	}
	for _, uid := range userIDs {
		if err := inv.Invalidate(ctx, uid); err != nil {
			h.log.WarnContext(ctx, "invalidate contacts failed", zap.Int64("user_id", uid), zap.Error(err))
		}
	}
}

// sendInitialPresence 向新连接推送联系人的当前在线状态
func (h *Hub) sendInitialPresence(c *Conn) {
	ctx := c.Context(h.ctx)

	var ids []int64
	if h.contacts != nil {
		contacts, err := h.contacts.Contacts(ctx, c.UserID())
		if err != nil {
			c.log.Warn("load contacts failed", zap.Error(err))
		}
		ids = contacts
	} else {
		for _, uid := range h.presence.Online() {
			if uid != c.UserID() {
				ids = append(ids, uid)
			}
		}
	}

	entries := h.PresenceOf(ctx, ids)
	if err := c.SendFrame(PresenceListFrame(TypePresenceInitial, entries)); err != nil {
		c.log.Debug("send initial presence failed", zap.Error(err))
	}
}

// PresenceOf 查询一组用户的在线状态，配置了镜像时合并其他节点的状态
func (h *Hub) PresenceOf(ctx context.Context, userIDs []int64) []PresenceEntry {
	entries := h.presence.Snapshot(userIDs)
	if h.mirror == nil || len(userIDs) == 0 {
		return entries
	}
	remote, err := h.mirror.Lookup(ctx, userIDs)
	if err != nil {
		h.log.WarnContext(ctx, "lookup presence mirror failed", zap.Error(err))
		return entries
	}
	return mergePresence(entries, remote)
}

// onClose 连接关闭流程：注销、更新在线状态、最后一个连接关闭时广播离线
func (h *Hub) onClose(c *Conn) {
	h.lifecycle.Lock()
	removed, uid, remaining := h.registry.Unregister(c)
	if !removed {
		h.lifecycle.Unlock()
		return
	}
	rec, changed := h.presence.Apply(uid, remaining)
	if changed {
		h.broadcastPresence(h.ctx, rec)
	}
	h.lifecycle.Unlock()

	h.metrics.DecrementConnections()
	h.events.Publish(Event{Type: EventDisconnected, ConnID: c.ID(), UserID: uid, Time: h.now()})
	c.log.Info("connection closed",
		zap.Int("user_connections", remaining),
		zap.Duration("duration", h.now().Sub(c.ConnectedAt())),
	)
}

// broadcastPresence 广播在线状态变化，调用方持有 lifecycle 锁
func (h *Hub) broadcastPresence(ctx context.Context, rec PresenceRecord) {
	data, err := PresenceFrame(rec, h.now()).Encode()
	if err != nil {
		h.log.Error("encode presence frame failed", zap.Error(err))
		return
	}
	h.fanout.ToAll(ctx, data)
	h.events.Publish(Event{Type: EventPresenceChanged, UserID: rec.UserID, Presence: &rec, Time: h.now()})
}

// touchPresence 刷新用户最后活跃时间并广播
func (h *Hub) touchPresence(ctx context.Context, userID int64) PresenceRecord {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	rec := h.presence.Touch(userID)
	data, err := PresenceFrame(rec, h.now()).Encode()
	if err == nil {
		h.fanout.ToAll(ctx, data)
	}
	return rec
}

// subscribeEvents 注册在线状态的副作用：集群镜像与最后活跃时间持久化
func (h *Hub) subscribeEvents() {
	if h.mirror == nil && h.lastSeen == nil {
		return
	}
	h.events.Subscribe(EventPresenceChanged, func(e Event) {
		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		defer cancel()

		rec := e.Presence
		if h.mirror != nil {
			var err error
			if rec.Online {
				err = h.mirror.SetOnline(ctx, rec.UserID)
			} else {
				err = h.mirror.SetOffline(ctx, rec.UserID, rec.LastSeen)
			}
			if err != nil {
				h.log.Warn("update presence mirror failed", zap.Int64("uid", rec.UserID), zap.Error(err))
			}
		}
		if h.lastSeen != nil && !rec.Online {
			if err := h.lastSeen.SaveLastSeen(ctx, rec.UserID, rec.LastSeen); err != nil {
				h.log.Warn("save last seen failed", zap.Int64("uid", rec.UserID), zap.Error(err))
			}
		}
	})
}

// Broadcast 投递给所有用户
func (h *Hub) Broadcast(ctx context.Context, f Frame) int {
	ctx, span := tracing.StartSpan(ctx, "realtime.broadcast")
	defer span.End()

	data, err := f.Encode()
	if err != nil {
		tracing.RecordError(span, err)
		h.log.ErrorContext(ctx, "encode frame failed", zap.String("type", f.Type), zap.Error(err))
		return 0
	}
	n := h.fanout.ToAll(ctx, data)
	span.SetAttributes(attribute.String("frame.type", f.Type), attribute.Int("connections", n))
	return n
}

// SendToUsers 投递给指定用户
func (h *Hub) SendToUsers(ctx context.Context, userIDs []int64, f Frame) int {
	ctx, span := tracing.StartSpan(ctx, "realtime.send_to_users")
	defer span.End()

	data, err := f.Encode()
	if err != nil {
		tracing.RecordError(span, err)
		h.log.ErrorContext(ctx, "encode frame failed", zap.String("type", f.Type), zap.Error(err))
		return 0
	}
	n := h.fanout.ToUsers(ctx, userIDs, data)
	span.SetAttributes(
		attribute.String("frame.type", f.Type),
		attribute.Int("recipients", len(userIDs)),
		attribute.Int("connections", n),
	)
	return n
}

// SetRateLimit 调整升级限流上限（配置热更新）
func (h *Hub) SetRateLimit(limit int) {
	h.limiter.SetLimit(limit)
	h.log.Info("rate limit updated", zap.Int("limit", limit))
}

// Presence 查询本节点记录的在线状态
func (h *Hub) Presence(userID int64) (PresenceRecord, bool) {
	return h.presence.Get(userID)
}

// ConnectionCount 用户在本节点的连接数
func (h *Hub) ConnectionCount(userID int64) int {
	return h.registry.Count(userID)
}

// Stats 状态接口数据
type Stats struct {
	Node               string           `json:"node"`
	StartedAt          time.Time        `json:"startedAt"`
	Uptime             string           `json:"uptime"`
	ShuttingDown       bool             `json:"shuttingDown"`
	ActiveConnections  int              `json:"activeConnections"`
	TotalConnections   int64            `json:"totalConnections"`
	PeakConnections    int              `json:"peakConnections"`
	OnlineUsers        int              `json:"onlineUsers"`
	ClusterOnlineUsers *int64           `json:"clusterOnlineUsers,omitempty"`
	RateLimit          int              `json:"rateLimit"`
	TrackedAddresses   int              `json:"trackedAddresses"`
	DroppedEvents      int64            `json:"droppedEvents"`
	Backplane          FanoutStatus     `json:"backplane"`
	Counters           *MetricsSnapshot `json:"counters,omitempty"`
}

// Stats 汇总计数
func (h *Hub) Stats(ctx context.Context) Stats {
	peak, total := h.registry.Peak()
	s := Stats{
		Node:              h.node,
		StartedAt:         h.startedAt,
		ShuttingDown:      h.shutdown.Load(),
		ActiveConnections: h.registry.ConnCount(),
		TotalConnections:  total,
		PeakConnections:   peak,
		OnlineUsers:       h.presence.OnlineCount(),
		RateLimit:         h.limiter.Limit(),
		TrackedAddresses:  h.limiter.Len(),
		DroppedEvents:     h.events.DroppedEvents(),
		Backplane:         h.fanout.Status(),
	}
	if !h.startedAt.IsZero() {
		s.Uptime = h.now().Sub(h.startedAt).Round(time.Second).String()
	}
	if h.mirror != nil {
		if n, err := h.mirror.OnlineCount(ctx); err == nil {
			s.ClusterOnlineUsers = &n
		}
	}
	if cm, ok := h.metrics.(*CounterMetrics); ok {
		snap := cm.Snapshot()
		s.Counters = &snap
	}
	return s
}

// Shutdown 优雅停机
// 先向所有打开的连接各发送一次 SERVER_SHUTDOWN，等待写出后再关闭连接与总线；
// 超过宽限期仍未关闭的连接被强制断开
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ShutdownGrace)
	defer cancel()

	// 等待进行中的 Accept 完成登记，此后不再有新连接
	h.lifecycle.Lock()
	h.lifecycle.Unlock()

	conns := h.registry.All()
	h.log.Info("realtime hub shutting down", zap.Int("connections", len(conns)))

	notice, err := ShutdownFrame(h.cfg.ShutdownMessage, h.cfg.ReconnectDelay).Encode()
	if err != nil {
		return err
	}
	for _, c := range conns {
		if c.IsOpen() {
			_ = c.SendHigh(notice)
		}
	}
	h.waitFlushed(ctx, conns)

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
	if err := h.fanout.Close(ctx); err != nil {
		h.log.Warn("close backplane failed", zap.Error(err))
	}

	forced := 0
	for _, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			c.Terminate()
			// 读协程未运行时不会自行收尾
			c.finish()
			forced++
		}
	}
	if forced > 0 {
		h.log.Warn("connections force closed after grace period", zap.Int("count", forced))
	}
	if !h.waitConns(h.cfg.WriteWait) {
		h.log.Warn("connection pumps still running after shutdown")
	}

	h.cancel()
	if h.group != nil {
		_ = h.group.Wait()
	}
	h.events.Close()

	if remover, ok := h.mirror.(interface{ Remove(context.Context) error }); ok {
		rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
		if err := remover.Remove(rctx); err != nil {
			h.log.Warn("remove presence mirror failed", zap.Error(err))
		}
		rcancel()
	}
	h.log.Info("realtime hub stopped")
	return nil
}

// waitConns 等待所有连接的关闭流程结束，超时返回 false
func (h *Hub) waitConns(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// waitFlushed 等待停机通知写出，最多等到 ctx 结束
func (h *Hub) waitFlushed(ctx context.Context, conns []*Conn) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending := 0
		for _, c := range conns {
			if c.IsOpen() && !c.Flushed() {
				pending++
			}
		}
		if pending == 0 {
			return
		}
		select {
		case <-ctx.Done():
			h.log.Warn("shutdown notice not flushed to all connections", zap.Int("pending", pending))
			return
		case <-ticker.C:
		}
	}
}

// clientAddr 来源地址，启用 TrustProxy 时取 X-Forwarded-For 第一个地址
func (h *Hub) clientAddr(r *http.Request) string {
	if h.cfg.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
