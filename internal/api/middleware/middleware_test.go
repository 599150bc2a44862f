package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recipe-recommender/internal/infrastructure/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.POST("/echo", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerClient(t *testing.T) {
	r := newEngine(RateLimit(config.RateLimitConfig{Enabled: true, Requests: 60, Window: time.Minute, Burst: 2}))

	assert.Equal(t, http.StatusOK, post(r, `{"n":1}`).Code)
	assert.Equal(t, http.StatusOK, post(r, `{"n":2}`).Code)
	w := post(r, `{"n":3}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(1, time.Second, 1)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
}

func TestDeduplication(t *testing.T) {
	d := NewDeduplicator(time.Second)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }
	r := newEngine(d.Middleware())

	assert.Equal(t, http.StatusOK, post(r, `{"user_id":"u1"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, `{"user_id":"u1"}`).Code)
	assert.Equal(t, http.StatusOK, post(r, `{"user_id":"u2"}`).Code)

	now = now.Add(2 * time.Second)
	assert.Equal(t, http.StatusOK, post(r, `{"user_id":"u1"}`).Code)
}

func TestBodySizeLimit(t *testing.T) {
	r := newEngine(BodySizeLimit(16))

	assert.Equal(t, http.StatusOK, post(r, `{"a":1}`).Code)
	w := post(r, `{"user_id":"a-very-long-user-id"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "PAYLOAD_TOO_LARGE")
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
