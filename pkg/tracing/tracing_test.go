package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func noopProvider(t *testing.T) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ExporterType = "noop"
	cfg.SamplingType = "always"
	p, err := Setup(context.Background(), cfg, "node-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ExporterType = "zipkin"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.SamplingRate = 2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ServiceName = ""
	_, err := Setup(context.Background(), cfg, "")
	assert.Error(t, err)
}

func TestInjectExtract(t *testing.T) {
	noopProvider(t)

	ctx, span := StartSpan(context.Background(), "publish")
	defer span.End()
	require.True(t, span.SpanContext().IsValid())

	carrier := Inject(ctx)
	require.Contains(t, carrier, "traceparent")

	remote := trace.SpanContextFromContext(Extract(context.Background(), carrier))
	assert.Equal(t, span.SpanContext().TraceID(), remote.TraceID())
	assert.True(t, remote.IsRemote())

	// 空载体原样返回
	assert.Equal(t, context.Background(), Extract(context.Background(), nil))
}

func TestParseResourceAttributes(t *testing.T) {
	attrs := parseResourceAttributes("region = eu, bad, zone=a=b")
	require.Len(t, attrs, 2)
	assert.Equal(t, "region", string(attrs[0].Key))
	assert.Equal(t, "eu", attrs[0].Value.AsString())
	assert.Equal(t, "a=b", attrs[1].Value.AsString())
	assert.Nil(t, parseResourceAttributes(""))
}

func TestSampler(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER", "")
	cfg := DefaultConfig()

	cfg.SamplingType = "never"
	assert.Equal(t, sdktrace.NeverSample().Description(), newSampler(cfg).Description())

	cfg.SamplingType = "always"
	assert.Equal(t, sdktrace.AlwaysSample().Description(), newSampler(cfg).Description())

	t.Setenv("OTEL_TRACES_SAMPLER", "always_off")
	assert.Equal(t, sdktrace.NeverSample().Description(), newSampler(cfg).Description())
}

func TestMiddleware(t *testing.T) {
	noopProvider(t)
	gin.SetMode(gin.TestMode)

	var traced bool
	r := gin.New()
	r.Use(Middleware(func(c *gin.Context) bool {
		return c.Request.URL.Path == "/ws"
	}))
	handler := func(c *gin.Context) {
		traced = trace.SpanFromContext(c.Request.Context()).SpanContext().IsValid()
		c.Status(http.StatusNoContent)
	}
	r.GET("/api", handler)
	r.GET("/ws", handler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.True(t, traced)
	assert.NotEmpty(t, w.Header().Get("traceparent"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.False(t, traced)
}
