package lovpulse

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/lovpulse/pkg/errors"
	"github.com/tokmz/lovpulse/pkg/tracing"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`               // 业务状态码
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID（可选）
}

// DeliveryResult 推送接口的返回数据
type DeliveryResult struct {
	// Delivered 本节点尝试发送的连接数
	Delivered int    `json:"delivered"`
	Node      string `json:"node"`
}

// success 写出成功响应
func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, &Response{
		Code:    http.StatusOK,
		Data:    data,
		Message: "success",
		TraceID: traceID(c),
	})
}

// fail 写出错误响应，非 *errors.Error 视为服务器异常
func fail(c *gin.Context, err error) {
	var e *errors.Error
	if !errors.As(err, &e) {
		_ = c.Error(err)
		e = errors.ErrServer
	}
	c.AbortWithStatusJSON(e.HttpCode, &Response{
		Code:    e.Code,
		Message: e.Message,
		TraceID: traceID(c),
	})
}

func traceID(c *gin.Context) string {
	sc := tracing.SpanFromContext(c.Request.Context()).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
