package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint/email-gateway/internal/apperr"
	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/ratelimit"
)

func limitedHandler(cfg RateLimitConfig, co *model.Company) echo.HandlerFunc {
	h := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	mw := RateLimitMiddleware(cfg)
	return func(c echo.Context) error {
		if co != nil {
			c.Set(ctxCompany, co)
		}
		return mw(h)(c)
	}
}

func doRequest(t *testing.T, h echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/email/send", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	t.Parallel()

	cfg := RateLimitConfig{
		Limiter:  ratelimit.New(ratelimit.NewMemoryStore(), time.Second, nil),
		Defaults: ratelimit.Config{RPS: 2, Burst: 4, Window: time.Hour},
	}
	co := &model.Company{ID: "co-1", Status: "active"}
	h := limitedHandler(cfg, co)

	rec := doRequest(t, h)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Burst-Limit"))
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Burst-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	doRequest(t, h)

	rec = doRequest(t, h)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), string(apperr.KindRateLimit))
	assert.Contains(t, rec.Body.String(), `"limitType":"RATE_EXCEEDED"`)
}

func TestRateLimitCompanyOverrides(t *testing.T) {
	t.Parallel()

	cfg := RateLimitConfig{
		Limiter:  ratelimit.New(ratelimit.NewMemoryStore(), time.Second, nil),
		Defaults: ratelimit.Config{RPS: 2, Burst: 4, Window: time.Hour},
	}
	rps, burst := 10, 20
	co := &model.Company{ID: "co-big", Status: "active", RateLimitRPS: &rps, RateLimitBurst: &burst}

	rec := doRequest(t, limitedHandler(cfg, co))
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Burst-Limit"))
}

func TestRateLimitPassThroughWithoutTenant(t *testing.T) {
	t.Parallel()

	cfg := RateLimitConfig{
		Limiter:  ratelimit.New(ratelimit.NewMemoryStore(), time.Second, nil),
		Defaults: ratelimit.Config{RPS: 1, Burst: 1, Window: time.Hour},
	}
	h := limitedHandler(cfg, nil)

	for i := 0; i < 5; i++ {
		rec := doRequest(t, h)
		assert.Equal(t, http.StatusOK, rec.Code, "no tenant identity means no limiting here")
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}
