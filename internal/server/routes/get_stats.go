package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tesselab/ariadne/internal/server/middleware"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
)

// StatsHandler returns the tenant's graph counts and index staleness flags.
func StatsHandler(c echo.Context) error {
	type statsResponse struct {
		Message string              `json:"message"`
		Stats   *common.TenantStats `json:"stats,omitempty"`
	}

	cc := c.(*middleware.AppContext)
	stats, err := cc.App.Store.GetTenantStats(c.Request().Context(), cc.TenantID)
	if err != nil {
		logger.Error("Failed to load tenant stats", "tenant", cc.TenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, statsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, statsResponse{
		Message: "OK",
		Stats:   &stats,
	})
}
