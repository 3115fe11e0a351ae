// Package server serves the engine's status endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"quantum-trader/internal/models"
	"quantum-trader/internal/resilience"
	"quantum-trader/internal/store"
)

// StatusProvider exposes live engine state.
type StatusProvider interface {
	GetRiskReport() models.RiskReport
	OpenTrades() []models.TradeRecord
}

// Options configures the server. Health, Store and Gatherer are optional.
type Options struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	Status          StatusProvider
	Health          *resilience.HealthMonitor
	Store           store.Store
	Gatherer        prometheus.Gatherer
	Logger          zerolog.Logger
}

// Server wraps an Echo instance.
type Server struct {
	echo   *echo.Echo
	opts   Options
	logger zerolog.Logger
}

// New builds the server and registers its routes.
func New(opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "http").Logger(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogMethod:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	e.GET("/report", s.handleReport)
	e.GET("/trades/open", s.handleOpenTrades)
	e.GET("/performance", s.handlePerformance)
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(c echo.Context) error {
	if s.opts.Health == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": string(resilience.HealthStatusHealthy)})
	}
	health := s.opts.Health.RunChecks(c.Request().Context())
	code := http.StatusOK
	if health.Status == resilience.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, health)
}

func (s *Server) handleReport(c echo.Context) error {
	if s.opts.Status == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "engine not running")
	}
	return c.JSON(http.StatusOK, s.opts.Status.GetRiskReport())
}

func (s *Server) handleOpenTrades(c echo.Context) error {
	if s.opts.Status == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "engine not running")
	}
	return c.JSON(http.StatusOK, s.opts.Status.OpenTrades())
}

func (s *Server) handlePerformance(c echo.Context) error {
	if s.opts.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no trade ledger configured")
	}

	days := store.DefaultPerformanceDays
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
		days = n
	}

	summary, err := s.opts.Store.GetPerformanceMetrics(c.Request().Context(), c.QueryParam("symbol"), days)
	if err != nil {
		s.logger.Error().Err(err).Msg("Performance query failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "performance query failed")
	}
	return c.JSON(http.StatusOK, summary)
}
