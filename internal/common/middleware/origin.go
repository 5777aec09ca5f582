package middleware

import (
	"fmt"
	"strings"
	"time"

	"captcha-relay/internal/common/errors"
	"captcha-relay/internal/common/validation"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Responder renders a relay error and aborts the chain.
type Responder interface {
	Respond(c *gin.Context, err error)
}

// OriginPolicy is the allow-list applied to browser callers. "*" admits any
// origin.
type OriginPolicy struct {
	AllowedOrigins []string
	RequireOrigin  bool
}

func (p OriginPolicy) allowAll() bool {
	for _, o := range p.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Validate rejects allow-list entries that are not "*" or a scheme://host
// origin.
func (p OriginPolicy) Validate() error {
	if len(p.AllowedOrigins) == 0 {
		return fmt.Errorf("origin allow-list is empty")
	}
	for _, o := range p.AllowedOrigins {
		if err := validation.ValidateOrigin(o); err != nil {
			return err
		}
	}
	return nil
}

// Allows reports whether origin may call the relay. A trailing slash is
// ignored and the comparison is case-insensitive.
func (p OriginPolicy) Allows(origin string) bool {
	if origin == "" {
		return !p.RequireOrigin
	}
	if p.allowAll() {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, o := range p.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// OriginGuard rejects callers outside the allow-list with 403 before any
// handler runs.
func OriginGuard(policy OriginPolicy, responder Responder) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !policy.Allows(origin) {
			responder.Respond(c, errors.NewOriginRejectedError(origin))
			return
		}
		c.Next()
	}
}

// CORS emits the browser headers for the allow-list. Origins are matched by
// Allows, the same check OriginGuard applies, so a request the guard admits
// is never refused here.
func CORS(policy OriginPolicy) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if policy.allowAll() {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOriginFunc = policy.Allows
	}
	return cors.New(cfg)
}
