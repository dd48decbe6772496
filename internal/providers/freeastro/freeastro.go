// Package freeastro integrates the FreeAstrologyAPI vendor, the gateway's
// fallback upstream. The vendor speaks a different schema (x-api-key auth,
// "ayanamsa" field spelling, responses wrapped in envelopes), so every call
// translates the request and normalizes the response into the primary's
// application-facing shapes.
package freeastro

import (
	"context"
	"net/http"
	"time"

	"astrogate/internal/core"
	"astrogate/internal/upstream"
)

const (
	defaultBaseURL = "https://json.freeastrologyapi.com"

	endpointBirthChart    = "/planets"
	endpointChartSVG      = "/horoscope-chart-svg-code"
	endpointPanchang      = "/complete-panchang"
	endpointCompatibility = "/match-making"
)

// Config holds freeastro settings.
type Config struct {
	// BaseURL overrides the vendor endpoint.
	BaseURL string

	// APIKey is the vendor's x-api-key credential.
	APIKey string

	// Timeout is the hard per-call deadline.
	Timeout time.Duration
}

// Provider implements core.Provider for FreeAstrologyAPI.
type Provider struct {
	client *upstream.Client
}

// New creates the fallback provider.
func New(cfg Config) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiKey := cfg.APIKey
	return &Provider{
		client: upstream.New(upstream.Config{
			Name:    "freeastro",
			BaseURL: baseURL,
			Timeout: cfg.Timeout,
		}, func(req *http.Request) {
			req.Header.Set("x-api-key", apiKey)
		}),
	}
}

// NewWithClient creates a provider around an existing upstream client, used
// by tests.
func NewWithClient(client *upstream.Client) *Provider {
	return &Provider{client: client}
}

// Name identifies the upstream in logs, metrics, and call records.
func (p *Provider) Name() string {
	return "freeastro"
}

// vendorBirthBody is the vendor's request schema. Identical numeric fields,
// but the vendor spells ayanamsa without the h.
type vendorBirthBody struct {
	Year             int     `json:"year"`
	Month            int     `json:"month"`
	Date             int     `json:"date"`
	Hours            int     `json:"hours"`
	Minutes          int     `json:"minutes"`
	Seconds          int     `json:"seconds"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Timezone         float64 `json:"timezone"`
	ObservationPoint string  `json:"observation_point,omitempty"`
	Ayanamsa         string  `json:"ayanamsa,omitempty"`
}

func toVendorBody(req *core.BirthDetails) vendorBirthBody {
	return vendorBirthBody{
		Year:             req.Year,
		Month:            req.Month,
		Date:             req.Date,
		Hours:            req.Hours,
		Minutes:          req.Minutes,
		Seconds:          req.Seconds,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		Timezone:         req.Timezone,
		ObservationPoint: req.ObservationPoint,
		Ayanamsa:         req.Ayanamsha,
	}
}

// BirthChart computes planetary positions via the vendor and normalizes the
// response into the primary's shape.
func (p *Provider) BirthChart(ctx context.Context, req *core.BirthDetails) (*core.BirthChart, error) {
	raw, err := p.client.PostJSONRaw(ctx, endpointBirthChart, toVendorBody(req))
	if err != nil {
		return nil, err
	}
	chart, err := normalizeBirthChart(raw)
	if err != nil {
		return nil, err
	}
	chart.Input = *req
	return chart, nil
}

// ChartSVG renders the chart via the vendor.
func (p *Provider) ChartSVG(ctx context.Context, req *core.BirthDetails) (*core.ChartSVG, error) {
	raw, err := p.client.PostJSONRaw(ctx, endpointChartSVG, toVendorBody(req))
	if err != nil {
		return nil, err
	}
	return normalizeChartSVG(raw)
}

// Panchang computes the daily almanac via the vendor.
func (p *Provider) Panchang(ctx context.Context, req *core.BirthDetails) (*core.Panchang, error) {
	raw, err := p.client.PostJSONRaw(ctx, endpointPanchang, toVendorBody(req))
	if err != nil {
		return nil, err
	}
	return normalizePanchang(raw)
}

// Compatibility computes an ashtakoota match via the vendor.
func (p *Provider) Compatibility(ctx context.Context, req *core.MatchRequest) (*core.Compatibility, error) {
	body := map[string]vendorBirthBody{
		"female": toVendorBody(&req.Female),
		"male":   toVendorBody(&req.Male),
	}
	raw, err := p.client.PostJSONRaw(ctx, endpointCompatibility, body)
	if err != nil {
		return nil, err
	}
	return normalizeCompatibility(raw)
}
