package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/modelfleet/modelfleet/internal/moderation"
)

type moderationRequest struct {
	Content string `json:"content"`
}

// checkModeration proxies the content to the moderation collaborator
// and returns both the raw verdict and a rendered summary.
func (s *Server) checkModeration(c echo.Context) error {
	var req moderationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	resp, err := s.moderation.Check(c.Request().Context(), req.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	out := map[string]interface{}{"response": resp}
	if len(resp.Results) > 0 {
		out["summary"] = moderation.FormatResult(resp.Results[0])
	}
	return c.JSON(http.StatusOK, out)
}
