package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/relaypoint/email-gateway/internal/http/middleware"
	"github.com/relaypoint/email-gateway/internal/reputation"
)

func reputationHandler(svc *reputation.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		co, ok := middleware.CompanyFromCtx(c)
		if !ok || co == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		snap, err := svc.Snapshot(c.Request().Context(), co.ID)
		if err != nil {
			c.Logger().Errorf("reputation snapshot failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, snap)
	}
}
