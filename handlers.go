package lovpulse

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/lovpulse/middleware"
	"github.com/tokmz/lovpulse/pkg/errors"
)

// 消息事件
const (
	MessageCreated = "created"
	MessageEdited  = "edited"
	MessageDeleted = "deleted"
)

// MessageRequest 私信推送
type MessageRequest struct {
	Event          string          `json:"event" binding:"required,oneof=created edited deleted"`
	Recipients     []int64         `json:"recipients" binding:"required,min=1"`
	ConversationID int64           `json:"conversationId" binding:"required"`
	Message        json.RawMessage `json:"message"`
	MessageID      int64           `json:"messageId"`
}

// SeenRequest 已读回执推送
type SeenRequest struct {
	ToUserID       int64     `json:"toUserId" binding:"required"`
	ConversationID int64     `json:"conversationId" binding:"required"`
	MessageIDs     []int64   `json:"messageIds" binding:"required,min=1"`
	SeenAt         time.Time `json:"seenAt"`
}

// NotificationRequest 通知推送
type NotificationRequest struct {
	Recipients   []int64         `json:"recipients" binding:"required,min=1"`
	Notification json.RawMessage `json:"notification" binding:"required"`
}

// LikeRequest 点赞数广播
type LikeRequest struct {
	PostID    int64 `json:"postId" binding:"required"`
	LikeCount int64 `json:"likeCount"`
}

// CommentRequest 新评论广播
type CommentRequest struct {
	Data json.RawMessage `json:"data" binding:"required"`
}

// PresenceRequest 将一组用户的在线状态推送给指定用户
type PresenceRequest struct {
	ToUserID int64   `json:"toUserId" binding:"required"`
	UserIDs  []int64 `json:"userIds" binding:"required,min=1"`
}

// registerRoutes 注册 HTTP 路由
func (e *Engine) registerRoutes() {
	r := e.gin

	r.NoRoute(func(c *gin.Context) { fail(c, errors.ErrNotFound) })
	r.GET("/ws", e.handleUpgrade)
	r.GET("/healthz", e.handleHealth)

	api := r.Group("/api/realtime", middleware.RequireAdmin(e.resolver))
	api.GET("/status", e.handleStatus)

	if len(e.cfg.Internal.Tokens) == 0 {
		e.log.Info("internal publish API disabled: no internal.tokens configured")
		return
	}
	internal := r.Group("/internal/realtime",
		middleware.InternalToken(e.cfg.Internal.Tokens...),
		middleware.RateLimiter(e.log, e.cfg.Internal.RateLimit),
	)
	internal.POST("/messages", e.handleMessages)
	internal.POST("/seen", e.handleSeen)
	internal.POST("/notifications", e.handleNotifications)
	internal.POST("/likes", e.handleLikes)
	internal.POST("/comments", e.handleComments)
	internal.POST("/presence", e.handlePresence)
}

func (e *Engine) handleUpgrade(c *gin.Context) {
	// 拒绝响应已由 Hub 写出
	if err := e.hub.HandleUpgrade(c.Writer, c.Request); err != nil {
		_ = c.Error(err)
	}
	c.Abort()
}

func (e *Engine) handleHealth(c *gin.Context) {
	stats := e.hub.Stats(c.Request.Context())
	if stats.ShuttingDown {
		fail(c, errors.ErrShuttingDown)
		return
	}
	success(c, gin.H{"status": "ok", "node": stats.Node})
}

func (e *Engine) handleStatus(c *gin.Context) {
	success(c, e.hub.Stats(c.Request.Context()))
}

// bind 解析请求体，失败时写出 400
func bind[T any](c *gin.Context) (*T, bool) {
	var req T
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.ErrBadRequest.WithMessage(err.Error()))
		return nil, false
	}
	return &req, true
}

func (e *Engine) delivered(c *gin.Context, n int) {
	success(c, DeliveryResult{Delivered: n, Node: e.hub.Node()})
}

func (e *Engine) handleMessages(c *gin.Context) {
	req, ok := bind[MessageRequest](c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var n int
	switch req.Event {
	case MessageCreated:
		n = e.publisher.NewMessage(ctx, req.Recipients, req.ConversationID, req.Message)
	case MessageEdited:
		n = e.publisher.MessageEdited(ctx, req.Recipients, req.ConversationID, req.Message)
	case MessageDeleted:
		if req.MessageID == 0 {
			fail(c, errors.ErrBadRequest.WithMessage("messageId is required"))
			return
		}
		n = e.publisher.MessageDeleted(ctx, req.Recipients, req.ConversationID, req.MessageID)
	}
	e.delivered(c, n)
}

func (e *Engine) handleSeen(c *gin.Context) {
	req, ok := bind[SeenRequest](c)
	if !ok {
		return
	}
	e.delivered(c, e.publisher.MessageSeen(c.Request.Context(), req.ToUserID, req.ConversationID, req.MessageIDs, req.SeenAt))
}

func (e *Engine) handleNotifications(c *gin.Context) {
	req, ok := bind[NotificationRequest](c)
	if !ok {
		return
	}
	e.delivered(c, e.publisher.Notification(c.Request.Context(), req.Recipients, req.Notification))
}

func (e *Engine) handleLikes(c *gin.Context) {
	req, ok := bind[LikeRequest](c)
	if !ok {
		return
	}
	e.delivered(c, e.publisher.LikeUpdate(c.Request.Context(), req.PostID, req.LikeCount))
}

func (e *Engine) handleComments(c *gin.Context) {
	req, ok := bind[CommentRequest](c)
	if !ok {
		return
	}
	e.delivered(c, e.publisher.NewComment(c.Request.Context(), req.Data))
}

func (e *Engine) handlePresence(c *gin.Context) {
	req, ok := bind[PresenceRequest](c)
	if !ok {
		return
	}
	e.delivered(c, e.publisher.BulkPresence(c.Request.Context(), req.ToUserID, req.UserIDs))
}
