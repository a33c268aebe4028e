package logger

import "context"

// contextKey 日志上下文键
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	uidKey     contextKey = "uid"
	connIDKey  contextKey = "conn_id"
)

// WithTraceID 写入 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithUID 写入用户 ID
func WithUID(ctx context.Context, uid int64) context.Context {
	return context.WithValue(ctx, uidKey, uid)
}

// WithConnID 写入实时连接 ID
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}
