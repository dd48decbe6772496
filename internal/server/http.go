package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"astrogate/internal/accounting"
	"astrogate/internal/core"
	"astrogate/internal/gateway"
)

const headerRequestID = "X-Request-ID"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	BodySizeLimit   string // Max request body size, echo syntax (default: 1M)
	MetricsEnabled  bool   // Whether to expose the Prometheus endpoint
	MetricsEndpoint string // HTTP path for metrics (default: /metrics)
}

// New creates a new HTTP server
func New(gw *gateway.Gateway, reader accounting.Reader, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	handler := NewHandler(gw, reader)

	// Global middleware stack (order matters)
	e.Use(requestID())
	e.Use(requestLogger())
	e.Use(middleware.Recover())

	bodyLimit := "1M"
	if cfg != nil && cfg.BodySizeLimit != "" {
		bodyLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodyLimit))

	// Public routes
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		metricsPath := "/metrics"
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// Compute routes
	e.POST("/planets", handler.Planets)
	e.POST("/horoscope-chart-svg-code", handler.ChartSVG)
	e.POST("/complete-panchang", handler.Panchang)
	e.POST("/match-making", handler.MatchMaking)

	// Introspection routes
	e.GET("/v1/status", handler.Status)
	e.GET("/v1/calls/recent", handler.RecentCalls)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// requestID assigns each request an identifier, honoring an inbound
// X-Request-ID so callers can correlate across hops.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(headerRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(headerRequestID, id)
			ctx := core.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// requestLogger emits one structured log line per request via slog.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", core.GetRequestID(c.Request().Context())),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("err", v.Error))
				slog.Error("request", attrs...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	})
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
