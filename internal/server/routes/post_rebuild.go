package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tesselab/ariadne/internal/queue"
	"github.com/tesselab/ariadne/internal/server/middleware"
	"github.com/tesselab/ariadne/pkg/logger"
)

// RebuildHandler enqueues a rebuild of one derived index for the tenant.
// The index path parameter selects communities or hierarchy.
func RebuildHandler(c echo.Context) error {
	type rebuildResponse struct {
		Message string `json:"message"`
	}

	var queueName string
	switch c.Param("index") {
	case "communities":
		queueName = queue.CommunityQueue
	case "hierarchy":
		queueName = queue.HierarchyQueue
	default:
		return c.JSON(http.StatusNotFound, rebuildResponse{
			Message: "Unknown index",
		})
	}

	cc := c.(*middleware.AppContext)
	msgBytes, err := json.Marshal(queue.RebuildMsg{TenantID: cc.TenantID})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, rebuildResponse{
			Message: "Internal server error",
		})
	}
	if err := queue.PublishFIFO(cc.App.Queue, queueName, msgBytes); err != nil {
		logger.Error("Failed to enqueue rebuild", "tenant", cc.TenantID, "queue", queueName, "err", err)
		return c.JSON(http.StatusInternalServerError, rebuildResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, rebuildResponse{
		Message: "Rebuild queued",
	})
}
