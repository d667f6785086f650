package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/tesselab/ariadne/pkg/query"
	"github.com/tesselab/ariadne/pkg/store"
)

// App holds the process-wide dependencies every handler needs.
type App struct {
	Store  store.GraphStorage
	Engine *query.Engine
	Queue  *amqp091.Channel
}

// AppContext wraps the echo context with the app handle and the tenant the
// request is scoped to. TenantID is set by TenantMiddleware; handlers behind
// it can rely on it being non-empty.
type AppContext struct {
	echo.Context
	App      *App
	TenantID string
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{Context: c, App: app})
		}
	}
}

// TenantMiddleware requires the X-Tenant-ID header on every request behind
// it. There is no cross-tenant surface; a request without a tenant is a
// client error, never a wildcard.
func TenantMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cc := c.(*AppContext)
		tenantID := strings.TrimSpace(c.Request().Header.Get("X-Tenant-ID"))
		if tenantID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"message": "Missing tenant context",
			})
		}
		cc.TenantID = tenantID
		return next(cc)
	}
}
