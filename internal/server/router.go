package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"captcha-relay/internal/common/config"
	"captcha-relay/internal/common/database"
	"captcha-relay/internal/common/errors"
	"captcha-relay/internal/common/logger"
	"captcha-relay/internal/common/middleware"
	verifytoken "captcha-relay/internal/relay/verify-token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	Config        *config.Config
	Logger        logger.Logger
	VerifyHandler *verifytoken.Handler
	// Redis backs the rate limiter and the readiness probe. Optional.
	Redis *database.RedisClient
}

type handlers struct {
	cfg   *config.Config
	redis *database.RedisClient
}

// NewRouter assembles the gin engine: shared middleware, probes, metrics and
// the guarded relay route.
func NewRouter(opts RouterOptions) (*gin.Engine, error) {
	if opts.Config == nil || opts.VerifyHandler == nil {
		return nil, fmt.Errorf("router requires config and verify handler")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	cfg := opts.Config
	responder := errors.NewErrorHandler(log)

	r := gin.New()
	r.HandleMethodNotAllowed = true

	var trusted []string
	if len(cfg.Server.TrustedProxies) > 0 {
		trusted = cfg.Server.TrustedProxies
	}
	if err := r.SetTrustedProxies(trusted); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	r.Use(
		middleware.RequestID(),
		middleware.AccessLog(log),
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			responder.Respond(c, errors.NewInternalError(fmt.Errorf("panic: %v", recovered)))
		}),
	)

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errors.ErrorResponse{Success: false, Error: "Method not allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errors.ErrorResponse{Success: false, Error: "Not found"})
	})

	h := &handlers{cfg: cfg, redis: opts.Redis}
	r.GET("/health", h.healthCheck)
	r.GET("/ready", h.readinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	policy := middleware.OriginPolicy{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequireOrigin:  cfg.Server.RequireOrigin,
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid allowed origins: %w", err)
	}
	relay := r.Group("", middleware.OriginGuard(policy, responder), middleware.CORS(policy))

	verifyChain := []gin.HandlerFunc{}
	if cfg.RateLimitActive() && opts.Redis != nil {
		limiter := middleware.NewRateLimiter(
			opts.Redis.GetClient(),
			cfg.RateLimit.Requests,
			config.GetDuration(cfg.RateLimit.Window),
			log,
		)
		verifyChain = append(verifyChain, limiter.Middleware(responder))
	}
	verifyChain = append(verifyChain, opts.VerifyHandler.Handle)

	relay.POST(verifytoken.Route, verifyChain...)
	// Preflight is answered by the CORS middleware; the route only needs to exist.
	relay.OPTIONS(verifytoken.Route, func(c *gin.Context) { c.Status(http.StatusNoContent) })

	return r, nil
}

func (h *handlers) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}

func (h *handlers) readinessCheck(c *gin.Context) {
	if h.redis == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()
	if err := h.redis.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": "down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "redis": "up"})
}
