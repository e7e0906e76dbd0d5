package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartSpanContinuesTrace(t *testing.T) {
	tracer := New("test", nil)
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "outer")
	child, _ := tracer.StartSpan(ctx, "inner")

	assert.True(t, strings.HasPrefix(string(parent.TraceID), "trace_"))
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}

func TestHTTPMiddlewarePropagatesHeaders(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("siul", zap.New(core))
	defer tracer.Close()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	var seen TraceID
	r.GET("/api/versions", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/versions", nil)
	req.Header.Set(HeaderTraceID, "trace_inbound")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, TraceID("trace_inbound"), seen)
	assert.Equal(t, "trace_inbound", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))

	require.Eventually(t, func() bool { return logs.FilterMessage("span completed").Len() == 1 }, time.Second, 10*time.Millisecond)
	entry := logs.FilterMessage("span completed").All()[0]
	assert.Equal(t, "GET /api/versions", entry.ContextMap()["operation"])
	assert.EqualValues(t, http.StatusNoContent, entry.ContextMap()["status"])
}

func TestFinishAfterCloseDoesNotBlock(t *testing.T) {
	tracer := New("test", nil)
	tracer.Close()
	tracer.Close()

	span, _ := tracer.StartSpan(context.Background(), "late")
	tracer.Finish(span)
}
