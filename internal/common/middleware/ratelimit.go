package middleware

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"captcha-relay/internal/common/errors"
	"captcha-relay/internal/common/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:verify-token:"

// RateLimiter is a fixed-window counter per client IP kept in Redis.
type RateLimiter struct {
	client   redis.Cmdable
	limit    int64
	window   time.Duration
	timeout  time.Duration
	log      logger.Logger
	resolver func(c *gin.Context) string
}

func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		client:   client,
		limit:    int64(limit),
		window:   window,
		timeout:  500 * time.Millisecond,
		log:      log,
		resolver: func(c *gin.Context) string { return c.ClientIP() },
	}
}

func rateLimitKey(clientIP string) string {
	return rateLimitKeyPrefix + clientIP
}

// Allow counts one request for clientIP. It returns the remaining wait when
// the limit is exceeded. The counter commands run in MULTI/EXEC so the key
// cannot expire between opening the window and counting in it.
func (r *RateLimiter) Allow(ctx context.Context, clientIP string) (bool, time.Duration, error) {
	key := rateLimitKey(clientIP)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, r.window)
		incr = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return true, 0, fmt.Errorf("rate limit pipeline failed: %w", err)
	}

	// A counter without expiry would block the client forever; start a
	// fresh window on it.
	wait := ttl.Val()
	if wait < 0 {
		if err := r.client.PExpire(ctx, key, r.window).Err(); err != nil {
			return true, 0, fmt.Errorf("rate limit expiry repair failed: %w", err)
		}
		wait = r.window
	}

	if incr.Val() <= r.limit {
		return true, 0, nil
	}
	if wait == 0 {
		wait = r.window
	}
	return false, wait, nil
}

// Middleware rejects over-limit callers with 429. Redis failures let the
// request through.
func (r *RateLimiter) Middleware(responder Responder) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := r.resolver(c)

		ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
		allowed, wait, err := r.Allow(ctx, clientIP)
		cancel()

		if err != nil {
			r.log.Warn("rate limiter unavailable, allowing request", map[string]interface{}{
				"clientIp":  clientIP,
				"error":     err.Error(),
				"requestId": c.GetString(RequestIDKey),
			})
			c.Next()
			return
		}

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			responder.Respond(c, errors.NewRateLimitedError(clientIP, wait))
			return
		}

		c.Next()
	}
}
