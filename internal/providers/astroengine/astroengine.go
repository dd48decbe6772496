// Package astroengine integrates the in-house ephemeris service, the
// gateway's primary upstream. Its wire shapes are the gateway's normalized
// payloads, so no translation is needed.
package astroengine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"astrogate/internal/core"
	"astrogate/internal/upstream"
)

const (
	defaultBaseURL = "http://localhost:4001"

	endpointBirthChart    = "/planets"
	endpointChartSVG      = "/horoscope-chart-svg-code"
	endpointPanchang      = "/complete-panchang"
	endpointCompatibility = "/match-making"
	endpointHealth        = "/health"
)

// Config holds astroengine settings.
type Config struct {
	// BaseURL overrides the default service address.
	BaseURL string

	// APIKey is sent as X-API-Key when set.
	APIKey string

	// Timeout is the hard per-call deadline for computation calls.
	Timeout time.Duration

	// HealthTimeout bounds the health probe (default 5s).
	HealthTimeout time.Duration
}

// Provider implements core.Provider for the ephemeris service.
type Provider struct {
	client        *upstream.Client
	healthTimeout time.Duration
}

// New creates the primary provider.
func New(cfg Config) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}

	var setHeaders upstream.HeaderSetter
	if cfg.APIKey != "" {
		apiKey := cfg.APIKey
		setHeaders = func(req *http.Request) {
			req.Header.Set("X-API-Key", apiKey)
		}
	}

	return &Provider{
		client: upstream.New(upstream.Config{
			Name:    "astroengine",
			BaseURL: baseURL,
			Timeout: cfg.Timeout,
		}, setHeaders),
		healthTimeout: healthTimeout,
	}
}

// NewWithClient creates a provider around an existing upstream client, used
// by tests.
func NewWithClient(client *upstream.Client, healthTimeout time.Duration) *Provider {
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}
	return &Provider{client: client, healthTimeout: healthTimeout}
}

// Name identifies the upstream in logs, metrics, and call records.
func (p *Provider) Name() string {
	return "astroengine"
}

// BirthChart computes planetary positions and houses for a birth moment.
func (p *Provider) BirthChart(ctx context.Context, req *core.BirthDetails) (*core.BirthChart, error) {
	var chart core.BirthChart
	if err := p.client.PostJSON(ctx, endpointBirthChart, req, &chart); err != nil {
		return nil, err
	}
	return &chart, nil
}

// ChartSVG renders the birth chart as SVG markup.
func (p *Provider) ChartSVG(ctx context.Context, req *core.BirthDetails) (*core.ChartSVG, error) {
	var svg core.ChartSVG
	if err := p.client.PostJSON(ctx, endpointChartSVG, req, &svg); err != nil {
		return nil, err
	}
	return &svg, nil
}

// Panchang computes the daily almanac for a date and location.
func (p *Provider) Panchang(ctx context.Context, req *core.BirthDetails) (*core.Panchang, error) {
	var panchang core.Panchang
	if err := p.client.PostJSON(ctx, endpointPanchang, req, &panchang); err != nil {
		return nil, err
	}
	return &panchang, nil
}

// Compatibility computes an ashtakoota match between two charts.
func (p *Provider) Compatibility(ctx context.Context, req *core.MatchRequest) (*core.Compatibility, error) {
	var match core.Compatibility
	if err := p.client.PostJSON(ctx, endpointCompatibility, req, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

// HealthCheck probes the service's health endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := p.client.GetJSONWithTimeout(ctx, endpointHealth, p.healthTimeout, &result); err != nil {
		return err
	}
	if result.Status != "ok" && result.Status != "healthy" {
		return fmt.Errorf("astroengine unhealthy: status %q", result.Status)
	}
	return nil
}
