package realtime

import (
	"context"
	"time"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// registerHandlers 注册内置入站帧处理器
func (h *Hub) registerHandlers() error {
	return errors.Join(
		On(h.router, h.handleTyping),
		On(h.router, h.handleMessageSeen),
		On(h.router, h.handlePresenceUpdate),
		On(h.router, h.handlePong),
		On(h.router, h.handleDebugRequest),
	)
}

// handleTyping 将输入状态转发给对方，重复或乱序的输入状态不做处理
func (h *Hub) handleTyping(ctx context.Context, c *Conn, f TypingFrame) error {
	if f.ToUserID <= 0 {
		return errors.ErrInvalidFrame.WithMessage("typing frame without toUserId")
	}
	data, err := TypingRelayFrame(c.UserID(), f).Encode()
	if err != nil {
		return err
	}
	h.fanout.ToUsers(ctx, []int64{int64(f.ToUserID)}, data)
	return nil
}

// handleMessageSeen 将已读回执转发给消息发送者
func (h *Hub) handleMessageSeen(ctx context.Context, c *Conn, f MessageSeenFrame) error {
	if f.ToUserID <= 0 {
		return errors.ErrInvalidFrame.WithMessage("seen frame without toUserId")
	}
	ids := make([]int64, len(f.MessageIDs))
	for i, id := range f.MessageIDs {
		ids[i] = int64(id)
	}
	data, err := SeenFrame(c.UserID(), int64(f.ConversationID), ids, h.now()).Encode()
	if err != nil {
		return err
	}
	h.fanout.ToUsers(ctx, []int64{int64(f.ToUserID)}, data)
	return nil
}

func (h *Hub) handlePresenceUpdate(ctx context.Context, c *Conn, _ PresenceUpdateFrame) error {
	h.touchPresence(ctx, c.UserID())
	return nil
}

func (h *Hub) handlePong(_ context.Context, c *Conn, _ PongFrame) error {
	c.MarkAlive()
	return nil
}

// DebugPayload DEBUG_RESPONSE 帧负载
type DebugPayload struct {
	ConnectionID    string         `json:"connectionId"`
	UserID          int64          `json:"userId"`
	Node            string         `json:"node"`
	ConnectedAt     time.Time      `json:"connectedAt"`
	RemoteAddr      string         `json:"remoteAddr"`
	UserAgent       string         `json:"userAgent,omitempty"`
	UserConnections int            `json:"userConnections"`
	Presence        PresenceRecord `json:"presence"`
	OnlineUsers     int            `json:"onlineUsers"`
	Connections     int            `json:"connections"`
	Backplane       FanoutStatus   `json:"backplane"`
}

// handleDebugRequest 仅管理员或调试模式下回复本连接的诊断信息
func (h *Hub) handleDebugRequest(_ context.Context, c *Conn, _ DebugRequestFrame) error {
	if !c.Identity().IsAdmin && !h.cfg.Debug {
		return errors.ErrNotPrivileged
	}
	rec, _ := h.presence.Get(c.UserID())
	return c.SendFrame(Frame{Type: TypeDebugResponse, Payload: DebugPayload{
		ConnectionID:    c.ID(),
		UserID:          c.UserID(),
		Node:            h.node,
		ConnectedAt:     c.ConnectedAt(),
		RemoteAddr:      c.RemoteAddr(),
		UserAgent:       c.UserAgent(),
		UserConnections: h.registry.Count(c.UserID()),
		Presence:        rec,
		OnlineUsers:     h.presence.OnlineCount(),
		Connections:     h.registry.ConnCount(),
		Backplane:       h.fanout.Status(),
	}})
}
