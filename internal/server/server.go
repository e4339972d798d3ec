// Package server exposes the chat control plane over HTTP: the chat
// dispatch/stream API, file ingestion, the model catalog and the
// moderation proxy.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelfleet/modelfleet/config"
	"github.com/modelfleet/modelfleet/internal/chat"
	"github.com/modelfleet/modelfleet/internal/ingest"
	"github.com/modelfleet/modelfleet/internal/moderation"
	"github.com/modelfleet/modelfleet/internal/session"
	redistore "github.com/modelfleet/modelfleet/internal/session/redis"
	"github.com/modelfleet/modelfleet/internal/telemetry"
)

const sessionHeader = "X-Session-ID"

// Server holds every dependency of the HTTP API.
type Server struct {
	cfg         *config.Config
	sessions    session.Store
	processor   *ingest.Processor
	moderation  *moderation.Client
	transcripts *redistore.TranscriptStore
	tele        *telemetry.Telemetry
	logger      *log.Logger
}

// New wires a server from explicit dependencies. transcripts may be nil
// when the redis mirror is disabled.
func New(cfg *config.Config, sessions session.Store, processor *ingest.Processor, mod *moderation.Client, transcripts *redistore.TranscriptStore, tele *telemetry.Telemetry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		processor:   processor,
		moderation:  mod,
		transcripts: transcripts,
		tele:        tele,
		logger:      logger,
	}
}

// Run loads configuration, wires every dependency and serves the API.
func Run(addr, cfgPath string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Address
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	client := chat.NewClient(cfg.Gateway, tele, nil)
	sessions := session.NewInMemoryStore(cfg.Gateway, client, tele, cfg.Session.TTL, nil)
	processor := ingest.NewProcessor(cfg.Ingest, nil)
	mod := moderation.NewClient(cfg.Moderation)

	var transcripts *redistore.TranscriptStore
	if cfg.Session.Redis.Enabled {
		transcripts = redistore.NewTranscriptStore(cfg.Session.Redis, cfg.Session.TTL)
		defer transcripts.Close()
	}

	s := New(cfg, sessions, processor, mod, transcripts, tele, nil)
	e := s.Echo()
	return e.Start(addr)
}

// Echo builds the configured echo instance with every route registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", sessionHeader},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/models", s.listModels)
	api.POST("/models/:name/params", s.setModelParams)
	api.POST("/chat", s.dispatchChat)
	api.GET("/chat", s.getConversation)
	api.DELETE("/chat", s.clearChat)
	api.POST("/chat/cancel", s.cancelChat)
	api.PUT("/chat/system", s.setSystemPrompt)
	api.GET("/chat/transcript", s.getTranscript)
	api.POST("/files", s.uploadFiles)
	api.GET("/files", s.listFiles)
	api.DELETE("/files/:id", s.removeFile)
	api.GET("/search", s.searchChunks)
	api.POST("/moderation/check", s.checkModeration)
	return e
}

// resolveSession returns the caller's session, creating one when the
// header names none, and reflects the id back on the response.
func (s *Server) resolveSession(c echo.Context) (*session.Session, error) {
	sess, err := s.sessions.EnsureSession(c.Request().Header.Get(sessionHeader))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "session unavailable")
	}
	c.Response().Header().Set(sessionHeader, sess.ID())
	return sess, nil
}
