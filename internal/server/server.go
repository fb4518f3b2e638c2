// Package server is the HTTP delivery layer. Authentication is terminated
// upstream; the fronting proxy forwards the acting user id in a header, and
// handlers translate between request JSON and the publication pipeline.
package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"fedipost/internal/pipeline"
)

// userIDHeader carries the authenticated user id set by the auth proxy.
const userIDHeader = "X-User-Id"

// Server hosts the HTTP API over the publication pipeline.
type Server struct {
	echo    *echo.Echo
	service *pipeline.Service
	store   pipeline.Store
	logger  pipeline.Logger
	addr    string
}

// New creates a Server listening on addr once started.
func New(service *pipeline.Service, store pipeline.Store, logger pipeline.Logger, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, service: service, store: store, logger: logger, addr: addr}

	e.POST("/api/v3/createPost", s.CreatePostHandler)
	e.GET("/api/v2/post/:id", s.GetPostHandler)
	e.GET("/api/loadRemoteResponses", s.LoadRemoteResponsesHandler)

	return s
}

// Start blocks serving requests until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.addr)
	err := s.echo.Start(s.addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

type failureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// fail writes the uniform failure shape with the pipeline's status mapping.
func fail(c echo.Context, err error) error {
	return c.JSON(pipeline.StatusOf(err), failureResponse{Success: false, Message: err.Error()})
}

// userID extracts the authenticated user id from the request.
func userID(c echo.Context) string {
	return c.Request().Header.Get(userIDHeader)
}
