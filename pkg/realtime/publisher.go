package realtime

import (
	"context"
	"time"
)

// Publisher 路由层推送实时事件的入口
// 每个方法同步返回本节点尝试发送的连接数，投递失败对调用方不可见
type Publisher struct {
	hub *Hub
	now func() time.Time
}

// NewPublisher 创建 Publisher
func NewPublisher(h *Hub) *Publisher {
	return &Publisher{hub: h, now: h.now}
}

// NewMessage 新私信，推送给接收者
// 新私信可能意味着新会话，先清除接收者的联系人缓存
func (p *Publisher) NewMessage(ctx context.Context, recipients []int64, conversationID int64, message any) int {
	p.hub.InvalidateContacts(ctx, recipients...)
	return p.hub.SendToUsers(ctx, recipients, Frame{Type: TypeNewMessage, Payload: struct {
		Message        any   `json:"message"`
		ConversationID int64 `json:"conversationId"`
	}{message, conversationID}})
}

// MessageEdited 私信被编辑
func (p *Publisher) MessageEdited(ctx context.Context, recipients []int64, conversationID int64, message any) int {
	return p.hub.SendToUsers(ctx, recipients, Frame{Type: TypeMessageEdited, Payload: struct {
		Message        any   `json:"message"`
		ConversationID int64 `json:"conversationId"`
	}{message, conversationID}})
}

// MessageDeleted 私信被删除
func (p *Publisher) MessageDeleted(ctx context.Context, recipients []int64, conversationID, messageID int64) int {
	return p.hub.SendToUsers(ctx, recipients, Frame{Type: TypeMessageDeleted, Payload: struct {
		MessageID      int64 `json:"messageId"`
		ConversationID int64 `json:"conversationId"`
	}{messageID, conversationID}})
}

// MessageSeen 已读回执，推送给消息发送者
func (p *Publisher) MessageSeen(ctx context.Context, toUserID, conversationID int64, messageIDs []int64, seenAt time.Time) int {
	if seenAt.IsZero() {
		seenAt = p.now()
	}
	return p.hub.SendToUsers(ctx, []int64{toUserID}, SeenFrame(0, conversationID, messageIDs, seenAt))
}

// Notification 新通知
func (p *Publisher) Notification(ctx context.Context, recipients []int64, notification any) int {
	return p.hub.SendToUsers(ctx, recipients, Frame{Type: TypeNotification, Payload: struct {
		Notification any       `json:"notification"`
		Timestamp    time.Time `json:"timestamp"`
	}{notification, p.now()}})
}

// LikeUpdate 点赞数变化，推送给所有人
func (p *Publisher) LikeUpdate(ctx context.Context, postID int64, likeCount int64) int {
	return p.hub.Broadcast(ctx, Frame{Type: TypeLikeUpdate, Payload: struct {
		PostID    int64 `json:"postId"`
		LikeCount int64 `json:"like_count"`
	}{postID, likeCount}})
}

// NewComment 新评论，推送给所有人
func (p *Publisher) NewComment(ctx context.Context, data any) int {
	return p.hub.Broadcast(ctx, Frame{Type: TypeNewComment, Payload: struct {
		Data any `json:"data"`
	}{data}})
}

// BulkPresence 将一组用户的在线状态推送给 toUserID
func (p *Publisher) BulkPresence(ctx context.Context, toUserID int64, userIDs []int64) int {
	entries := p.hub.PresenceOf(ctx, userIDs)
	return p.hub.SendToUsers(ctx, []int64{toUserID}, PresenceListFrame(TypeBulkPresence, entries))
}
