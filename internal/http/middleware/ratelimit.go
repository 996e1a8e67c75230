package middleware

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"

	"github.com/relaypoint/email-gateway/internal/apperr"
	"github.com/relaypoint/email-gateway/internal/ratelimit"
)

// RateLimitConfig carries the default thresholds; companies may override
// them per tenant.
type RateLimitConfig struct {
	Limiter  *ratelimit.Limiter
	Defaults ratelimit.Config
}

// RateLimitMiddleware applies the dual-threshold limiter per tenant. It
// expects the company in echo.Context (set by APIKeyMiddleware); without a
// tenant identity it is a pass-through, rejection of unauthenticated
// requests belongs to the auth layer.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			co, ok := CompanyFromCtx(c)
			if !ok || co == nil {
				return next(c)
			}

			limits := cfg.Defaults
			if co.RateLimitRPS != nil && *co.RateLimitRPS > 0 {
				limits.RPS = *co.RateLimitRPS
			}
			if co.RateLimitBurst != nil && *co.RateLimitBurst > 0 {
				limits.Burst = *co.RateLimitBurst
			}

			d := cfg.Limiter.Check(c.Request().Context(), co.ID, limits)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset, 10))
			h.Set("X-RateLimit-Burst-Limit", strconv.FormatInt(d.BurstLimit, 10))
			h.Set("X-RateLimit-Burst-Remaining", strconv.FormatInt(d.BurstRemaining, 10))

			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":             string(apperr.KindRateLimit),
					"limitType":         string(d.LimitType),
					"retryAfterSeconds": d.RetryAfter,
				})
			}
			return next(c)
		}
	}
}
