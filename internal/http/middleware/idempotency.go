package middleware

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/relaypoint/email-gateway/internal/apperr"
)

// IdempotencyTTL bounds how long a key reservation and its cached response
// live. A day covers any realistic client retry horizon.
const IdempotencyTTL = 24 * time.Hour

type idemRecord struct {
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// IdempotencyMiddleware enforces the Idempotency-Key header contract: the
// first request under a key reserves it and caches the response; a retry
// with the same payload replays that response; reuse with a different
// payload is a conflict. Requests without the header pass through.
func IdempotencyMiddleware(rdb redis.Cmdable) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
			if key == "" {
				return next(c)
			}
			co, ok := CompanyFromCtx(c)
			if !ok {
				return next(c)
			}

			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(append([]byte(c.Request().Method+" "+c.Path()+"\x00"), body...))
			fp := hex.EncodeToString(sum[:])
			redisKey := "idempotency:" + co.ID + ":" + key

			ctx := c.Request().Context()
			reserved, err := rdb.SetNX(ctx, redisKey, mustJSON(idemRecord{Fingerprint: fp}), IdempotencyTTL).Result()
			if err != nil {
				// store down: let the request through rather than block sends
				return next(c)
			}

			if !reserved {
				raw, err := rdb.Get(ctx, redisKey).Bytes()
				if err != nil {
					return next(c)
				}
				var rec idemRecord
				if json.Unmarshal(raw, &rec) != nil || rec.Fingerprint != fp {
					return c.JSON(http.StatusConflict, map[string]string{
						"error": string(apperr.KindIdempotency),
					})
				}
				if rec.Status != 0 {
					return c.JSONBlob(rec.Status, rec.Body)
				}
				// first request still in flight
				return c.JSON(http.StatusConflict, map[string]string{
					"error": string(apperr.KindIdempotency),
				})
			}

			rec := &responseRecorder{ResponseWriter: c.Response().Writer}
			c.Response().Writer = rec
			if err := next(c); err != nil {
				return err
			}

			if rec.status >= 200 && rec.status < 300 && json.Valid(rec.buf.Bytes()) {
				_ = rdb.Set(ctx, redisKey, mustJSON(idemRecord{
					Fingerprint: fp,
					Status:      rec.status,
					Body:        rec.buf.Bytes(),
				}), IdempotencyTTL).Err()
			} else {
				// failed requests release the key so the caller can retry
				_ = rdb.Del(ctx, redisKey).Err()
			}
			return nil
		}
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return r.ResponseWriter.(http.Hijacker).Hijack()
}
