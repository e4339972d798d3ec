package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/modelfleet/modelfleet/internal/chat"
)

type modelInfo struct {
	Name        string  `json:"name"`
	ModelName   string  `json:"model_name"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// listModels returns the configured model catalog with any per-session
// parameter overrides applied. API keys never leave the server.
func (s *Server) listModels(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	configs := sess.Orchestrator.Models()
	out := make([]modelInfo, 0, len(configs))
	for _, m := range configs {
		out = append(out, modelInfo{
			Name:        m.Name,
			ModelName:   m.ModelName,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"models": out})
}

func (s *Server) setModelParams(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	var req chat.ModelParams
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	name := c.Param("name")
	if err := sess.Orchestrator.SetModelParams(name, req); err != nil {
		if strings.Contains(err.Error(), "unknown model") {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
