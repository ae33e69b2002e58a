// Package api serves the read-only operator dashboard: the forward-log feed,
// health and Prometheus metrics. It exposes no mutating endpoint.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/korosenseiac/Teloks/internal/storage"
)

const defaultLogLimit = 100

// Server is the dashboard HTTP server.
type Server struct {
	echo *echo.Echo
	logs storage.ForwardLogStore
	addr string
}

// NewServer builds the dashboard server with its routes registered.
func NewServer(logs storage.ForwardLogStore, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo: e,
		logs: logs,
		addr: addr,
	}

	e.GET("/-/healthy", s.getHealthyHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/api/v1/logs", s.getListLogsHandler)

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("dashboard server started")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "dashboard server failed")
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) getHealthyHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ready")
}

type listLogsResponse struct {
	Logs  []*storage.ForwardLog `json:"logs"`
	Total int                   `json:"total"`
}

func (s *Server) getListLogsHandler(c echo.Context) error {
	limit := defaultLogLimit
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = l
	}

	logs, err := s.logs.ListForwardLogs(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []*storage.ForwardLog{}
	}

	return c.JSON(http.StatusOK, &listLogsResponse{
		Logs:  logs,
		Total: len(logs),
	})
}
