// Package api exposes the visit engine over HTTP. Authentication happens
// at the gateway; this layer only translates query parameters in and
// engine error kinds out.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/trapline/visits-platform/internal/visits"
	"github.com/trapline/visits-platform/pkg/config"
	"github.com/trapline/visits-platform/pkg/health"
)

// Server wires the echo router to the visit engine
type Server struct {
	echo    *echo.Echo
	service *visits.Service
	cfg     *config.Config
	logger  *slog.Logger
}

// NewServer creates the HTTP server and registers all routes
func NewServer(service *visits.Service, checker *health.Checker, cfg *config.Config, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		service: service,
		cfg:     cfg,
		logger:  logger,
	}

	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/healthz", echo.WrapHandler(checker.HandlerFunc()))
	e.GET("/healthz/details", echo.WrapHandler(checker.DetailedHandlerFunc()))

	v1 := e.Group("/api/v1")
	v1.GET("/monitoring/page", s.GetVisitsPage)

	return s
}

// Start begins serving; it blocks until the server stops
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.APIPort)
	s.logger.Info("Starting HTTP API", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// requestLogger assigns a request id and logs one line per request
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(echo.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, requestID)

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info("Handled request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID)
		return nil
	}
}
