package logctx

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFromCtx_PrefersAttachedLogger(t *testing.T) {
	base := zap.NewNop().Sugar()
	attached := zap.NewExample().Sugar()

	require.Same(t, base, FromCtx(context.Background(), base))
	require.Same(t, attached, FromCtx(WithLogger(context.Background(), attached), base))

	ctx := WithTraceID(context.Background(), "trace-1")
	require.Equal(t, "trace-1", TraceID(ctx))
	require.NotSame(t, base, FromCtx(ctx, base))
}

func TestFromGin_UsesGinKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	base := zap.NewNop().Sugar()
	require.Same(t, base, FromGin(c, base))

	lg := zap.NewExample().Sugar()
	c.Set(GinLoggerKey, lg)
	require.Same(t, lg, FromGin(c, base))
	require.Same(t, base, FromGin(nil, base))
}
