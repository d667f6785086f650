package server

import (
	"github.com/labstack/echo/v4"

	"github.com/tesselab/ariadne/internal/server/middleware"
	"github.com/tesselab/ariadne/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.TenantMiddleware)

	apiRoutes.POST("/query", routes.QueryHandler)
	apiRoutes.GET("/stats", routes.StatsHandler)
	apiRoutes.POST("/ingest", routes.IngestHandler)
	apiRoutes.POST("/rebuild/:index", routes.RebuildHandler)
}
