package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint/email-gateway/internal/model"
)

func idempotentHandler(t *testing.T, rdb redis.Cmdable) (echo.HandlerFunc, *int) {
	t.Helper()
	calls := 0
	h := func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusAccepted, map[string]any{"outboxId": "o-1", "call": calls})
	}
	mw := IdempotencyMiddleware(rdb)
	co := &model.Company{ID: "co-1", Status: "active"}
	return func(c echo.Context) error {
		c.Set(ctxCompany, co)
		return mw(h)(c)
	}, &calls
}

func doIdemRequest(t *testing.T, h echo.HandlerFunc, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/email/send", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestIdempotencyReplaysSamePayload(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h, calls := idempotentHandler(t, rdb)
	body := `{"subject":"hello"}`

	rec1 := doIdemRequest(t, h, "key-1", body)
	assert.Equal(t, http.StatusAccepted, rec1.Code)
	require.Equal(t, 1, *calls)

	rec2 := doIdemRequest(t, h, "key-1", body)
	assert.Equal(t, http.StatusAccepted, rec2.Code)
	assert.Equal(t, 1, *calls, "retry must not re-run the handler")
	assert.JSONEq(t, rec1.Body.String(), rec2.Body.String())
}

func TestIdempotencyConflictOnDifferentPayload(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h, calls := idempotentHandler(t, rdb)

	rec := doIdemRequest(t, h, "key-1", `{"subject":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doIdemRequest(t, h, "key-1", `{"subject":"different"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "IDEMPOTENCY_CONFLICT")
	assert.Equal(t, 1, *calls)
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h, calls := idempotentHandler(t, rdb)

	doIdemRequest(t, h, "", `{"subject":"hello"}`)
	doIdemRequest(t, h, "", `{"subject":"hello"}`)
	assert.Equal(t, 2, *calls, "no key means no dedupe")
}
