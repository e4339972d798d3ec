package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/modelfleet/modelfleet/internal/chat"
)

type dispatchRequest struct {
	Input   string   `json:"input"`
	FileIDs []string `json:"file_ids"`
	Models  []string `json:"models"`
}

// dispatchChat starts a round and streams its events to the caller as
// server-sent events until every selected model has settled.
func (s *Server) dispatchChat(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	var (
		mu      sync.Mutex
		started bool
	)
	emit := func(ev chat.Event) {
		mu.Lock()
		defer mu.Unlock()
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if !started {
			resp.Header().Set(echo.HeaderContentType, "text/event-stream")
			resp.Header().Set(echo.HeaderCacheControl, "no-cache")
			resp.Header().Set("Connection", "keep-alive")
			resp.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := resp.Write([]byte("event: " + ev.Type + "\n")); err != nil {
			return
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}

	round, err := sess.Orchestrator.Send(c.Request().Context(), req.Input, req.FileIDs, req.Models, emit)
	if err != nil {
		if strings.Contains(err.Error(), "unknown model") {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	round.Wait()

	if s.transcripts != nil {
		if err := s.transcripts.Save(c.Request().Context(), sess.ID(), sess.Memory.Conversation()); err != nil {
			s.logger.Printf("transcript mirror: %v", err)
		}
	}
	return nil
}

// getConversation returns the visible conversation and any live round
// snapshot.
func (s *Server) getConversation(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	out := map[string]interface{}{
		"session_id":   sess.ID(),
		"conversation": sess.Orchestrator.Conversation(),
	}
	if r := sess.Orchestrator.ActiveRound(); r != nil {
		out["round"] = r.Snapshot()
	}
	return c.JSON(http.StatusOK, out)
}

// cancelChat cancels the in-flight round, if any. A cancelled round
// produces no error message.
func (s *Server) cancelChat(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	sess.Orchestrator.CancelActive()
	return c.NoContent(http.StatusNoContent)
}

// clearChat cancels any round and empties conversation memory.
func (s *Server) clearChat(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	sess.Orchestrator.Clear()
	if s.transcripts != nil {
		if err := s.transcripts.Delete(c.Request().Context(), sess.ID()); err != nil {
			s.logger.Printf("transcript mirror: %v", err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

type systemPromptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) setSystemPrompt(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	var req systemPromptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess.Orchestrator.SetSystemPrompt(req.Prompt)
	return c.NoContent(http.StatusNoContent)
}

// getTranscript serves the redis transcript mirror.
func (s *Server) getTranscript(c echo.Context) error {
	if s.transcripts == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "transcript mirror disabled")
	}
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	turns, err := s.transcripts.Load(c.Request().Context(), sess.ID())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"transcript": turns})
}
