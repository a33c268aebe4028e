package realtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config 实时层配置
type Config struct {
	// 节点标识（为空时自动生成）
	NodeID string `mapstructure:"node_id"`

	// 连接配置
	MaxConnections   int           `mapstructure:"max_connections"`   // 单节点最大连接数
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize  int           `mapstructure:"write_buffer_size"` // 写缓冲区大小
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"` // 握手超时时间
	MaxMessageSize   int64         `mapstructure:"max_message_size"`  // 入站帧最大字节数
	WriteWait        time.Duration `mapstructure:"write_wait"`        // 单次写超时

	// 心跳配置
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // 探测间隔
	LogicalPing       bool          `mapstructure:"logical_ping"`       // 额外发送 PING 帧（浏览器看不到控制帧）

	// 发送队列
	SendQueueSize         int `mapstructure:"send_queue_size"`
	HighPriorityQueueSize int `mapstructure:"high_priority_queue_size"`

	// 升级限流（按来源地址滑动窗口）
	RateLimit         int           `mapstructure:"rate_limit"`          // 窗口内最多尝试次数
	RateWindow        time.Duration `mapstructure:"rate_window"`         // 窗口长度
	RateSweepInterval time.Duration `mapstructure:"rate_sweep_interval"` // 清理间隔
	TrustProxy        bool          `mapstructure:"trust_proxy"`         // 使用 X-Forwarded-For 作为来源地址

	// 入站帧限流（按连接令牌桶）
	InboundRate      float64 `mapstructure:"inbound_rate"`       // 每秒帧数
	InboundBurst     int     `mapstructure:"inbound_burst"`      // 突发上限
	MaxInvalidFrames int32   `mapstructure:"max_invalid_frames"` // 连续无效帧上限，超过后断开；0 表示从不断开

	// 停机
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`   // 停机宽限期，超时后强制关闭
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`  // 建议客户端重连延迟
	ShutdownMessage string        `mapstructure:"shutdown_message"` // SERVER_SHUTDOWN 提示文案

	// 集群
	PublishQueueSize int `mapstructure:"publish_queue_size"` // 待发布到 backplane 的队列长度

	// Origin 检查
	AllowedOrigins    []string `mapstructure:"allowed_origins"`    // 白名单，空则同源
	AllowAllOrigins   bool     `mapstructure:"allow_all_origins"`  // 仅开发环境
	EnableCompression bool     `mapstructure:"enable_compression"` // permessage-deflate

	// 调试模式：允许所有连接使用 DEBUG_REQUEST，处理帧时 panic 不被吞掉
	Debug bool `mapstructure:"debug"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:        10000,
		ReadBufferSize:        1024,
		WriteBufferSize:       1024,
		HandshakeTimeout:      10 * time.Second,
		MaxMessageSize:        64 * 1024,
		WriteWait:             10 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		LogicalPing:           true,
		SendQueueSize:         256,
		HighPriorityQueueSize: 16,
		RateLimit:             15,
		RateWindow:            time.Minute,
		RateSweepInterval:     30 * time.Second,
		InboundRate:           20,
		InboundBurst:          40,
		ShutdownGrace:         10 * time.Second,
		ReconnectDelay:        5 * time.Second,
		ShutdownMessage:       "Server is restarting, please reconnect shortly",
		PublishQueueSize:      1024,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MaxConnections must be positive, got %d", c.MaxConnections)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MaxMessageSize must be positive, got %d", c.MaxMessageSize)
	}
	if c.WriteWait <= 0 {
		return fmt.Errorf("WriteWait must be positive, got %v", c.WriteWait)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.SendQueueSize <= 0 || c.HighPriorityQueueSize <= 0 {
		return fmt.Errorf("send queue sizes must be positive, got %d/%d", c.SendQueueSize, c.HighPriorityQueueSize)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("RateLimit must be positive, got %d", c.RateLimit)
	}
	if c.RateWindow <= 0 || c.RateSweepInterval <= 0 {
		return fmt.Errorf("RateWindow and RateSweepInterval must be positive")
	}
	if c.InboundRate <= 0 || c.InboundBurst <= 0 {
		return fmt.Errorf("InboundRate and InboundBurst must be positive")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("ShutdownGrace must be positive, got %v", c.ShutdownGrace)
	}
	if c.MaxInvalidFrames < 0 {
		return fmt.Errorf("MaxInvalidFrames must not be negative, got %d", c.MaxInvalidFrames)
	}
	if c.PublishQueueSize <= 0 {
		return fmt.Errorf("PublishQueueSize must be positive, got %d", c.PublishQueueSize)
	}
	return nil
}

// newUpgrader 按配置创建 websocket.Upgrader
func newUpgrader(c *Config) *websocket.Upgrader {
	var checkOrigin func(*http.Request) bool
	switch {
	case c.AllowAllOrigins:
		checkOrigin = func(*http.Request) bool { return true }
	case len(c.AllowedOrigins) > 0:
		checkOrigin = whitelistChecker(c.AllowedOrigins)
	default:
		checkOrigin = sameOrigin
	}

	return &websocket.Upgrader{
		ReadBufferSize:    c.ReadBufferSize,
		WriteBufferSize:   c.WriteBufferSize,
		HandshakeTimeout:  c.HandshakeTimeout,
		CheckOrigin:       checkOrigin,
		EnableCompression: c.EnableCompression,
	}
}

// sameOrigin 同源检查，无 Origin 头的非浏览器客户端放行（已通过会话校验）
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// whitelistChecker 创建白名单检查器
func whitelistChecker(allowed []string) func(*http.Request) bool {
	whitelist := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		whitelist[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := whitelist[r.Header.Get("Origin")]
		return ok
	}
}
