package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/relaypoint/email-gateway/internal/http/middleware"
	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/repository"
)

func listEventsHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		co, ok := middleware.CompanyFromCtx(c)
		if !ok || co == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		eventType := strings.TrimSpace(c.QueryParam("type"))
		if eventType != "" && !model.KnownEventType(eventType) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown event type"})
		}

		events, err := chRepo.ListByCompany(c.Request().Context(), co.ID, eventType, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
