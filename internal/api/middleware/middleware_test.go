package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r *gin.Engine, remote string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerClient(t *testing.T) {
	r := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "10.0.0.1:1000", nil).Code)

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.2:1000", nil).Code)
}

func TestLimitersEvictIdleClients(t *testing.T) {
	now := time.Unix(0, 0)
	l := newLimiters(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute}, func() time.Time { return now })

	l.get("a")
	l.get("b")
	assert.Equal(t, 2, l.size())

	now = now.Add(30 * time.Second)
	l.get("b")
	now = now.Add(45 * time.Second)
	l.get("c")
	assert.Equal(t, 2, l.size(), "a idle past TTL")
}

func TestCORSExposesETag(t *testing.T) {
	r := newRouter(CORS(DefaultCORSConfig("https://admin.test")))

	w := get(r, "10.0.0.1:1000", map[string]string{"Origin": "https://admin.test"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://admin.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Etag")
}
