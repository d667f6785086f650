package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tesselab/ariadne/internal/queue"
	"github.com/tesselab/ariadne/internal/server/middleware"
	"github.com/tesselab/ariadne/pkg/logger"
)

// IngestHandler enqueues a document for background ingestion. The response
// only acknowledges the enqueue; chunking, extraction, and the index
// rebuilds happen on the worker.
func IngestHandler(c echo.Context) error {
	type ingestSection struct {
		SectionPath string `json:"section_path"`
		PageNumber  int    `json:"page_number"`
		Text        string `json:"text" validate:"required"`
	}

	type ingestBody struct {
		DocumentID string          `json:"document_id" validate:"required"`
		Sections   []ingestSection `json:"sections" validate:"required,min=1,dive"`
	}

	type ingestResponse struct {
		Message string `json:"message"`
	}

	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}

	cc := c.(*middleware.AppContext)
	msg := queue.IngestDocumentMsg{
		TenantID:   cc.TenantID,
		DocumentID: data.DocumentID,
	}
	for _, s := range data.Sections {
		msg.Sections = append(msg.Sections, queue.DocumentSection{
			SectionPath: s.SectionPath,
			PageNumber:  s.PageNumber,
			Text:        s.Text,
		})
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal ingest message", "tenant", cc.TenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}
	if err := queue.PublishFIFO(cc.App.Queue, queue.IngestQueue, msgBytes); err != nil {
		logger.Error("Failed to enqueue ingest", "tenant", cc.TenantID, "document", data.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, ingestResponse{
		Message: "Document queued for ingestion",
	})
}
