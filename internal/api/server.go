// Package api exposes the job-status polling and batch-trigger interface
// consumed by the UI layer.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/revenueinsights/bookshelf-sub000/internal/batch"
)

// Server wraps the echo instance and its dependencies.
type Server struct {
	echo   *echo.Echo
	jobs   batch.JobStore
	orch   *batch.Orchestrator
	logger zerolog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(jobs batch.JobStore, orch *batch.Orchestrator, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	s := &Server{
		echo:   e,
		jobs:   jobs,
		orch:   orch,
		logger: logger.With().Str("component", "api").Logger(),
	}

	e.GET("/healthz", s.health)
	e.GET("/jobs/:id", s.jobStatus)
	e.POST("/users/:userID/batches/:batchID/refresh", s.triggerRefresh)

	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("listen", addr).Msg("http api listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type jobStatusResponse struct {
	Status    batch.Status `json:"status"`
	Total     int          `json:"total"`
	Processed int          `json:"processed"`
	Error     string       `json:"error,omitempty"`
}

func (s *Server) jobStatus(c echo.Context) error {
	job, err := s.jobs.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, batch.ErrJobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", c.Param("id")).Msg("job lookup failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "job lookup failed")
	}

	return c.JSON(http.StatusOK, jobStatusResponse{
		Status:    job.Status,
		Total:     job.Total,
		Processed: job.Processed,
		Error:     job.Error,
	})
}

func (s *Server) triggerRefresh(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	batchID, err := strconv.ParseInt(c.Param("batchID"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch id")
	}

	jobID, err := s.orch.Run(c.Request().Context(), userID, batchID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Int64("batch_id", batchID).Msg("failed to start batch")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start batch")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"jobId": jobID})
}
