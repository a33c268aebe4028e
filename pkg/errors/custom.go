package errors

/*
	内置常用错误码
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, 500, "服务器异常", nil)
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, 400, "请求异常", nil)
	// ErrUnauthorized 未授权
	ErrUnauthorized = New(1002, 401, "授权异常", nil)
	// ErrForbidden 禁止访问
	ErrForbidden = New(1003, 403, "禁止访问", nil)
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, 404, "资源不存在", nil)
)

/*
	实时通道错误码 4xxx
*/

var (
	// ErrRateLimited 握手频率超限
	ErrRateLimited = New(4001, 429, "too many connection attempts", nil)
	// ErrNoSession 缺少有效会话
	ErrNoSession = New(4002, 401, "unauthorized", nil)
	// ErrNotPrivileged 需要管理员权限
	ErrNotPrivileged = New(4003, 403, "forbidden", nil)
	// ErrInvalidFrame 帧格式错误
	ErrInvalidFrame = New(4004, 400, "invalid frame", nil)
	// ErrConnClosed 连接已关闭
	ErrConnClosed = New(4005, 410, "connection closed", nil)
	// ErrBackplaneDown 集群总线不可用
	ErrBackplaneDown = New(4006, 503, "backplane unavailable", nil)
	// ErrQueueFull 发送队列已满
	ErrQueueFull = New(4007, 503, "send queue full", nil)
	// ErrShuttingDown 服务正在关闭
	ErrShuttingDown = New(4008, 503, "server is shutting down", nil)
	// ErrTooManyConns 连接数超限
	ErrTooManyConns = New(4009, 503, "too many connections", nil)
)
