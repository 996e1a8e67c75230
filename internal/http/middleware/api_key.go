package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/relaypoint/email-gateway/internal/apperr"
	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/repository"
)

const ctxCompany = "company"

// CompanyFromCtx extracts the authenticated company set by APIKeyMiddleware.
func CompanyFromCtx(c echo.Context) (*model.Company, bool) {
	v := c.Get(ctxCompany)
	co, ok := v.(*model.Company)
	return co, ok
}

// APIKeyMiddleware authenticates requests using the X-API-Key header.
// On success it stores the company in context; suspended accounts are
// rejected here, before any rate accounting happens.
func APIKeyMiddleware(companies repository.CompaniesRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   string(apperr.KindUnauthorized),
					"message": "missing api key",
				})
			}
			co, err := companies.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if co == nil || co.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   string(apperr.KindUnauthorized),
					"message": "invalid api key",
				})
			}
			c.Set(ctxCompany, co)
			return next(c)
		}
	}
}
