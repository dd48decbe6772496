// Package server provides HTTP handlers and server setup for the astrology gateway.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"astrogate/internal/accounting"
	"astrogate/internal/core"
	"astrogate/internal/gateway"
	"astrogate/internal/version"
)

// Handler holds the HTTP handlers
type Handler struct {
	gateway *gateway.Gateway
	reader  accounting.Reader
}

// NewHandler creates a new handler backed by the given gateway
func NewHandler(gw *gateway.Gateway, reader accounting.Reader) *Handler {
	return &Handler{
		gateway: gw,
		reader:  reader,
	}
}

// Planets handles POST /planets
func (h *Handler) Planets(c echo.Context) error {
	var req core.BirthDetails
	if err := bindBirthDetails(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	result, err := h.gateway.BirthChart(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}
	return writeResult(c, result)
}

// ChartSVG handles POST /horoscope-chart-svg-code
func (h *Handler) ChartSVG(c echo.Context) error {
	var req core.BirthDetails
	if err := bindBirthDetails(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	result, err := h.gateway.ChartSVG(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}
	return writeResult(c, result)
}

// Panchang handles POST /complete-panchang
func (h *Handler) Panchang(c echo.Context) error {
	var req core.BirthDetails
	if err := bindBirthDetails(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	result, err := h.gateway.Panchang(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}
	return writeResult(c, result)
}

// MatchMaking handles POST /match-making
func (h *Handler) MatchMaking(c echo.Context) error {
	var req core.MatchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	result, err := h.gateway.Compatibility(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}
	return writeResult(c, result)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"source":  "astrogate",
		"version": version.Version,
	})
}

// Status handles GET /v1/status
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.gateway.Status())
}

// RecentCalls handles GET /v1/calls/recent
func (h *Handler) RecentCalls(c echo.Context) error {
	if h.reader == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("accounting_disabled", "call accounting is not enabled"))
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		limit = n
	}
	records, err := h.reader.Recent(c.Request().Context(), limit)
	if err != nil {
		return handleError(c, err)
	}
	if records == nil {
		records = []accounting.CallRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"calls": records})
}

// bindBirthDetails decodes and validates the request body into req. It only
// reports the problem; writing the 400 is the handler's job, so a validation
// failure can never leak an unpopulated request into the gateway.
func bindBirthDetails(c echo.Context, req *core.BirthDetails) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	req.ApplyDefaults()
	return req.Validate()
}

// writeResult adds the provenance headers and serializes the result.
func writeResult(c echo.Context, result *core.Result) error {
	c.Response().Header().Set("X-Astro-Source", string(result.Source))
	c.Response().Header().Set("X-Astro-Computed-At", result.ComputedAt.UTC().Format(time.RFC3339))
	return c.JSON(http.StatusOK, result)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorBody("invalid_request", message))
}

// handleError maps gateway errors to HTTP responses.
func handleError(c echo.Context, err error) error {
	var allFailed *core.AllProvidersFailedError
	if errors.As(err, &allFailed) {
		return c.JSON(http.StatusBadGateway, errorBody("all_providers_failed", allFailed.Error()))
	}
	return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "an unexpected error occurred"))
}

func errorBody(kind, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    kind,
			"message": message,
		},
	}
}
