package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tokmz/lovpulse/pkg/errors"
)

// 入站帧类型
const (
	TypeTyping         = "TYPING"
	TypeMessageSeen    = "MESSAGE_SEEN"
	TypePresenceUpdate = "PRESENCE_UPDATE"
	TypePong           = "PONG"
	TypeDebugRequest   = "DEBUG_REQUEST"
)

// 出站帧类型
const (
	TypeConnected       = "CONNECTED"
	TypePing            = "PING"
	TypePresence        = "PRESENCE"
	TypePresenceInitial = "PRESENCE_INITIAL"
	TypeBulkPresence    = "BULK_PRESENCE"
	TypeNewMessage      = "NEW_MESSAGE"
	TypeMessageEdited   = "MESSAGE_EDITED"
	TypeMessageDeleted  = "MESSAGE_DELETED"
	TypeNotification    = "NEW_NOTIFICATION"
	TypeLikeUpdate      = "LIKE_UPDATE"
	TypeNewComment      = "NEW_COMMENT"
	TypeServerShutdown  = "SERVER_SHUTDOWN"
	TypeDebugResponse   = "DEBUG_RESPONSE"
)

// FlexID 兼容数字与字符串两种 JSON 写法的 ID
type FlexID int64

// UnmarshalJSON 实现 json.Unmarshaler
func (id *FlexID) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = FlexID(v)
	return nil
}

// Inbound 客户端发来的帧
type Inbound interface {
	FrameType() string
}

// TypingFrame 正在输入
type TypingFrame struct {
	ToUserID       FlexID          `json:"toUserId"`
	ConversationID FlexID          `json:"conversationId"`
	IsTyping       bool            `json:"isTyping"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
}

// MessageSeenFrame 已读回执
type MessageSeenFrame struct {
	ConversationID FlexID          `json:"conversationId"`
	MessageIDs     []FlexID        `json:"messageIds"`
	ToUserID       FlexID          `json:"toUserId"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
}

// PresenceUpdateFrame 主动刷新在线状态
type PresenceUpdateFrame struct{}

// PongFrame 心跳应答
type PongFrame struct{}

// DebugRequestFrame 诊断查询
type DebugRequestFrame struct{}

// UnknownFrame 未识别的帧类型，记录后忽略
type UnknownFrame struct {
	Type string
}

func (TypingFrame) FrameType() string         { return TypeTyping }
func (MessageSeenFrame) FrameType() string    { return TypeMessageSeen }
func (PresenceUpdateFrame) FrameType() string { return TypePresenceUpdate }
func (PongFrame) FrameType() string           { return TypePong }
func (DebugRequestFrame) FrameType() string   { return TypeDebugRequest }
func (f UnknownFrame) FrameType() string      { return f.Type }

// DecodeInbound 解析入站帧
// JSON 不合法或已知类型字段不合法时返回 ErrInvalidFrame；未知类型返回 UnknownFrame
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.ErrInvalidFrame.WithError(err)
	}

	switch head.Type {
	case TypeTyping:
		var f TypingFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.ErrInvalidFrame.WithError(err)
		}
		return f, nil
	case TypeMessageSeen:
		var f MessageSeenFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.ErrInvalidFrame.WithError(err)
		}
		return f, nil
	case TypePresenceUpdate:
		return PresenceUpdateFrame{}, nil
	case TypePong:
		return PongFrame{}, nil
	case TypeDebugRequest:
		return DebugRequestFrame{}, nil
	case "":
		return nil, errors.ErrInvalidFrame.WithMessage("missing frame type")
	default:
		return UnknownFrame{Type: head.Type}, nil
	}
}

// Frame 出站帧，序列化为 {"type": ..., ...payload}
type Frame struct {
	Type    string
	Payload any
}

// MarshalJSON 将 type 与负载字段拍平到同一个对象
func (f Frame) MarshalJSON() ([]byte, error) {
	typ, err := json.Marshal(f.Type)
	if err != nil {
		return nil, err
	}

	var inner []byte
	if f.Payload != nil {
		body, err := json.Marshal(f.Payload)
		if err != nil {
			return nil, err
		}
		body = bytes.TrimSpace(body)
		if len(body) < 2 || body[0] != '{' {
			return nil, fmt.Errorf("realtime: payload of %s frame must be a JSON object", f.Type)
		}
		inner = bytes.TrimSpace(body[1 : len(body)-1])
	}

	buf := make([]byte, 0, len(typ)+len(inner)+11)
	buf = append(buf, `{"type":`...)
	buf = append(buf, typ...)
	if len(inner) > 0 {
		buf = append(buf, ',')
		buf = append(buf, inner...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Encode 序列化帧
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// PresenceEntry 单个用户的在线状态
type PresenceEntry struct {
	UserID   int64      `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// PresencePayload PRESENCE 帧负载
type PresencePayload struct {
	UserID    int64     `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceFrame 在线状态变化
func PresenceFrame(rec PresenceRecord, now time.Time) Frame {
	return Frame{Type: TypePresence, Payload: PresencePayload{
		UserID:    rec.UserID,
		IsOnline:  rec.Online,
		LastSeen:  rec.LastSeen,
		Timestamp: now,
	}}
}

// PresenceListFrame 批量在线状态（PRESENCE_INITIAL / BULK_PRESENCE）
func PresenceListFrame(typ string, users []PresenceEntry) Frame {
	if users == nil {
		users = []PresenceEntry{}
	}
	return Frame{Type: typ, Payload: struct {
		Users []PresenceEntry `json:"users"`
	}{users}}
}

// ConnectedFrame 连接建立后的欢迎帧
func ConnectedFrame(c *Conn, node string, heartbeat time.Duration) Frame {
	return Frame{Type: TypeConnected, Payload: struct {
		ConnectionID      string    `json:"connectionId"`
		UserID            int64     `json:"userId"`
		Node              string    `json:"node"`
		HeartbeatInterval int64     `json:"heartbeatInterval"`
		Timestamp         time.Time `json:"timestamp"`
	}{c.ID(), c.UserID(), node, heartbeat.Milliseconds(), c.ConnectedAt()}}
}

// PingFrame 逻辑心跳探测
func PingFrame(now time.Time) Frame {
	return Frame{Type: TypePing, Payload: struct {
		Timestamp time.Time `json:"timestamp"`
	}{now}}
}

// TypingRelayFrame 转发给对方的输入状态
func TypingRelayFrame(from int64, f TypingFrame) Frame {
	return Frame{Type: TypeTyping, Payload: struct {
		FromUserID     int64           `json:"fromUserId"`
		ConversationID int64           `json:"conversationId"`
		IsTyping       bool            `json:"isTyping"`
		Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	}{from, int64(f.ConversationID), f.IsTyping, f.Timestamp}}
}

// SeenFrame 已读回执
func SeenFrame(readerID, conversationID int64, messageIDs []int64, seenAt time.Time) Frame {
	if messageIDs == nil {
		messageIDs = []int64{}
	}
	return Frame{Type: TypeMessageSeen, Payload: struct {
		ConversationID int64     `json:"conversationId"`
		MessageIDs     []int64   `json:"messageIds"`
		SeenAt         time.Time `json:"seenAt"`
		UserID         int64     `json:"userId,omitempty"`
	}{conversationID, messageIDs, seenAt, readerID}}
}

// ShutdownFrame 停机通知
func ShutdownFrame(message string, reconnectDelay time.Duration) Frame {
	return Frame{Type: TypeServerShutdown, Payload: struct {
		Message        string `json:"message"`
		ReconnectDelay int64  `json:"reconnectDelay"`
	}{message, reconnectDelay.Milliseconds()}}
}
