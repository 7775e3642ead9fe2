package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(1, 3, zap.NewNop())
	defer rl.Shutdown()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allowRequest("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, rl.allowRequest("10.0.0.1"))
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(100, 2, zap.NewNop())
	defer rl.Shutdown()

	require.True(t, rl.allowRequest("10.0.0.1"))
	require.True(t, rl.allowRequest("10.0.0.1"))
	require.False(t, rl.allowRequest("10.0.0.1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.allowRequest("10.0.0.1"))
}

func TestRateLimiter_ClientsIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 1, zap.NewNop())
	defer rl.Shutdown()

	require.True(t, rl.allowRequest("10.0.0.1"))
	require.False(t, rl.allowRequest("10.0.0.1"))
	assert.True(t, rl.allowRequest("10.0.0.2"))
}

func TestRateLimit_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, 1, zap.NewNop())
	defer rl.Shutdown()

	router := gin.New()
	router.GET("/ping", rl.RateLimit(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "Rate limit exceeded")
}

func TestRateLimiter_GlobalStats(t *testing.T) {
	rl := NewRateLimiter(10, 20, zap.NewNop())
	defer rl.Shutdown()

	rl.allowRequest("10.0.0.1")
	rl.allowRequest("10.0.0.2")

	stats := rl.GetGlobalStats()
	assert.Equal(t, 2, stats["active_clients"])
	assert.Equal(t, 10, stats["default_rps"])
	assert.Equal(t, 20, stats["burst_capacity"])
}

func TestRateLimiter_ClientStats(t *testing.T) {
	rl := NewRateLimiter(1, 5, zap.NewNop())
	defer rl.Shutdown()

	_, _, exists := rl.GetClientStats("10.0.0.1")
	require.False(t, exists)

	rl.allowRequest("10.0.0.1")
	tokens, _, exists := rl.GetClientStats("10.0.0.1")
	require.True(t, exists)
	assert.Equal(t, 4, tokens)
}
