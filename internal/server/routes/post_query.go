package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tesselab/ariadne/internal/server/middleware"
	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
	"github.com/tesselab/ariadne/pkg/query"
)

// QueryHandler answers one question against the tenant's knowledge base.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Query        string           `json:"query" validate:"required"`
		TopK         int              `json:"top_k" validate:"omitempty,min=1,max=50"`
		Route        string           `json:"route" validate:"omitempty,oneof=local global hybrid drift"`
		ResponseType string           `json:"response_type"`
		History      []ai.ChatMessage `json:"history"`
	}

	type queryResponse struct {
		Message string         `json:"message"`
		Answer  *common.Answer `json:"answer,omitempty"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}

	cc := c.(*middleware.AppContext)
	answer, err := cc.App.Engine.Query(c.Request().Context(), query.Request{
		Query:        data.Query,
		TenantID:     cc.TenantID,
		TopK:         data.TopK,
		ForcedRoute:  data.Route,
		ResponseType: data.ResponseType,
		History:      data.History,
	})
	if err != nil {
		if errors.Is(err, common.ErrMissingTenant) {
			return c.JSON(http.StatusBadRequest, queryResponse{
				Message: "Missing tenant context",
			})
		}
		logger.Error("Query failed", "tenant", cc.TenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, queryResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, queryResponse{
		Message: "OK",
		Answer:  &answer,
	})
}
