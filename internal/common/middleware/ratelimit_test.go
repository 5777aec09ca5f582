package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"captcha-relay/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedEngine(t *testing.T, limiter *RateLimiter, hits *int) *gin.Engine {
	r := gin.New()
	r.POST("/verify-token", limiter.Middleware(newResponder(t)), func(c *gin.Context) {
		*hits++
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return r
}

func hit(r http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/verify-token", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewRateLimiter(client, 2, time.Minute, logger.NewTestLogger(t))
	hits := 0
	r := limitedEngine(t, limiter, &hits)

	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1001").Code)

	w := hit(r, "192.0.2.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Too many requests"}`, w.Body.String())
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, 2, hits)

	// other clients have their own window
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.2:1000").Code)

	ttl := mr.TTL(rateLimitKey("192.0.2.1"))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1003").Code)
	assert.Equal(t, 4, hits)
}

func TestRateLimiter_WindowNotExtendedByTraffic(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewRateLimiter(client, 100, 10*time.Second, logger.NewNoOpLogger())
	ctx := context.Background()

	_, _, err := limiter.Allow(ctx, "198.51.100.7")
	require.NoError(t, err)
	mr.FastForward(6 * time.Second)
	_, _, err = limiter.Allow(ctx, "198.51.100.7")
	require.NoError(t, err)

	assert.LessOrEqual(t, mr.TTL(rateLimitKey("198.51.100.7")), 4*time.Second)
}

func TestRateLimiter_PipelineCommands(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := rateLimitKey("203.0.113.9")

	mock.ExpectTxPipeline()
	mock.ExpectSetNX(key, 0, 30*time.Second).SetVal(false)
	mock.ExpectIncr(key).SetVal(4)
	mock.ExpectPTTL(key).SetVal(12 * time.Second)
	mock.ExpectTxPipelineExec()

	limiter := NewRateLimiter(client, 3, 30*time.Second, logger.NewNoOpLogger())
	allowed, wait, err := limiter.Allow(context.Background(), "203.0.113.9")

	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 12*time.Second, wait)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_RepairsCounterWithoutExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	key := rateLimitKey("192.0.2.50")
	require.NoError(t, mr.Set(key, "5"))
	require.Equal(t, time.Duration(0), mr.TTL(key))

	limiter := NewRateLimiter(client, 2, time.Minute, logger.NewNoOpLogger())
	ctx := context.Background()

	allowed, wait, err := limiter.Allow(ctx, "192.0.2.50")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, wait)
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	mr.FastForward(2 * time.Minute)

	allowed, _, err = limiter.Allow(ctx, "192.0.2.50")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestRateLimiter_RepairExpectsPExpire(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := rateLimitKey("203.0.113.10")

	mock.ExpectTxPipeline()
	mock.ExpectSetNX(key, 0, 30*time.Second).SetVal(false)
	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectPTTL(key).SetVal(-1)
	mock.ExpectTxPipelineExec()
	mock.ExpectPExpire(key, 30*time.Second).SetVal(true)

	limiter := NewRateLimiter(client, 3, 30*time.Second, logger.NewNoOpLogger())
	allowed, _, err := limiter.Allow(context.Background(), "203.0.113.10")

	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := rateLimitKey("192.0.2.1")
	mock.ExpectTxPipeline()
	mock.ExpectSetNX(key, 0, time.Minute).SetErr(errors.New("connection refused"))

	limiter := NewRateLimiter(client, 1, time.Minute, logger.NewTestLogger(t))
	hits := 0
	r := limitedEngine(t, limiter, &hits)

	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
	assert.Equal(t, 1, hits)
}

func TestRateLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	limiter := NewRateLimiter(client, 1, time.Minute, logger.NewNoOpLogger())
	hits := 0
	r := limitedEngine(t, limiter, &hits)

	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusOK, hit(r, "192.0.2.1:1001").Code)
	assert.Equal(t, 2, hits)
}
