package http

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/relaypoint/email-gateway/internal/apperr"
	"github.com/relaypoint/email-gateway/internal/dispatch"
	"github.com/relaypoint/email-gateway/internal/http/middleware"
	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/util"
)

// HTML bodies are stored out of band; the job only carries a reference.
const htmlBodyTTL = 7 * 24 * time.Hour

type sendReq struct {
	To        []string `json:"to"`
	Cc        []string `json:"cc"`
	Bcc       []string `json:"bcc"`
	Subject   string   `json:"subject"`
	HTML      string   `json:"html"`
	Recipient *struct {
		Email      string `json:"email"`
		ExternalID string `json:"externalId"`
	} `json:"recipient"`
}

func sendEmailHandler(d *dispatch.Dispatcher, rdb redis.Cmdable) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.To = util.NormalizeAddresses(req.To)
		req.Cc = util.NormalizeAddresses(req.Cc)
		req.Bcc = util.NormalizeAddresses(req.Bcc)
		req.Subject = strings.TrimSpace(req.Subject)

		var recipient model.Recipient
		if req.Recipient != nil {
			recipient.Email = util.NormalizeAddress(req.Recipient.Email)
			recipient.ExternalID = req.Recipient.ExternalID
		}

		if len(req.To) == 0 && recipient.Email == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "no valid recipient"})
		}
		if req.Subject == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing subject"})
		}
		if req.HTML == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing html body"})
		}
		if utf8.RuneCountInString(req.Subject) > 998 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "subject too long"})
		}

		co, ok := middleware.CompanyFromCtx(c)
		if !ok || co == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		ctx := c.Request().Context()

		// Content-addressed body storage; resends of identical HTML share a ref.
		sum := sha256.Sum256([]byte(req.HTML))
		htmlRef := "html:" + hex.EncodeToString(sum[:])
		if err := rdb.Set(ctx, htmlRef, req.HTML, htmlBodyTTL).Err(); err != nil {
			log.Errorf("store html body: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "storage error"})
		}

		res, err := d.Dispatch(ctx, dispatch.SendRequest{
			CompanyID: co.ID,
			RequestID: middleware.RequestIDFromCtx(c),
			To:        req.To,
			Cc:        req.Cc,
			Bcc:       req.Bcc,
			Subject:   req.Subject,
			HTMLRef:   htmlRef,
			Recipient: recipient,
		})
		if err != nil {
			if apperr.Is(err, apperr.KindValidation) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			log.Errorf("dispatch failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "dispatch error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"outboxId":  res.OutboxID,
			"jobId":     res.JobID,
			"status":    string(res.Status),
			"requestId": res.RequestID,
		})
	}
}
