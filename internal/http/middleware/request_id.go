package middleware

import (
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/relaypoint/email-gateway/internal/util"
)

const ctxRequestID = "request_id"

// RequestIDFromCtx extracts the correlation id set by RequestIDMiddleware.
func RequestIDFromCtx(c echo.Context) string {
	v, _ := c.Get(ctxRequestID).(string)
	return v
}

// RequestIDMiddleware takes the caller-supplied x-request-id or generates
// one, stores it in context, and echoes it on the response.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := strings.TrimSpace(c.Request().Header.Get("x-request-id"))
			if rid == "" {
				rid = util.NewRequestID()
			}
			c.Set(ctxRequestID, rid)
			c.Response().Header().Set("x-request-id", rid)
			return next(c)
		}
	}
}
