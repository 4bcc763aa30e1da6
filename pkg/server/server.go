// Package server is the web front end: the prompt form, job pages and the
// JSON, SSE and websocket job APIs.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"storysmith/pkg/jobs"
)

// JobService is the part of jobs.Runner the handlers use.
type JobService interface {
	Submit(ctx context.Context, prompt, audioFilename string, parentID *uuid.UUID) (*jobs.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
	Subscribe(id uuid.UUID) (<-chan jobs.Job, func())
}

type Server struct {
	Echo      *echo.Echo
	Jobs      JobService
	MediaRoot string
	Ctx       context.Context

	// ImagesWaiting reports the image queue depth on /health when set.
	ImagesWaiting func() int
}

func NewServer(ctx context.Context, svc JobService, mediaRoot string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = newTemplates()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Skipper: isFormPost,
		Limit:   bodyLimit,
	}))

	s := &Server{
		Echo:      e,
		Jobs:      svc,
		MediaRoot: mediaRoot,
		Ctx:       ctx,
	}

	s.registerRoutes()
	return s
}

// isFormPost matches the form submissions, which enforce their own body cap
// so an oversized upload re-renders the form.
func isFormPost(c echo.Context) bool {
	if c.Request().Method != http.MethodPost {
		return false
	}
	return c.Path() == "/" || c.Path() == "/retry/:id"
}

func (s *Server) registerRoutes() {
	// pages
	s.Echo.GET("/", s.handleGetForm)
	s.Echo.POST("/", s.handlePostForm)
	s.Echo.GET("/processing/:id", s.handleGetProcessing)
	s.Echo.GET("/result/:id", s.handleGetResult)
	s.Echo.GET("/retry/:id", s.handleGetRetry)
	s.Echo.POST("/retry/:id", s.handlePostRetry)

	api := s.Echo.Group("/api")
	api.GET("/job-status/:id", s.handleGetJobStatus)
	api.GET("/jobs", s.handleGetJobs)
	api.POST("/jobs/:id/cancel", s.handlePostCancel)
	api.GET("/jobs/:id/events", s.handleGetJobEvents)

	s.Echo.GET("/ws/jobs/:id", s.handleJobSocket)

	s.Echo.Static("/media", s.MediaRoot)
	s.Echo.GET("/health", s.handleGetHealth)
}

func (s *Server) Start(addr string) error {
	log.Info("server listening", "addr", addr)
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down server")
	return s.Echo.Shutdown(ctx)
}

// loadJob resolves the :id parameter. Malformed and unknown ids are both 404.
func (s *Server) loadJob(c echo.Context) (*jobs.Job, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	job, err := s.Jobs.Get(c.Request().Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}
