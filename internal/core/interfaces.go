package core

import "context"

// Provider defines the interface for upstream computation services.
// Each method issues exactly one upstream call; resilience (retry, circuit
// breaking, quota) is layered on top by the orchestrator.
type Provider interface {
	// Name identifies the upstream in logs, metrics, and call records.
	Name() string

	// BirthChart computes planetary positions and houses for a birth moment.
	BirthChart(ctx context.Context, req *BirthDetails) (*BirthChart, error)

	// ChartSVG renders the birth chart as SVG markup.
	ChartSVG(ctx context.Context, req *BirthDetails) (*ChartSVG, error)

	// Panchang computes the daily almanac for a date and location.
	Panchang(ctx context.Context, req *BirthDetails) (*Panchang, error)

	// Compatibility computes an ashtakoota match between two charts.
	Compatibility(ctx context.Context, req *MatchRequest) (*Compatibility, error)
}

// HealthChecker is an optional interface for upstreams that expose a
// health-check endpoint.
type HealthChecker interface {
	// HealthCheck verifies the upstream is reachable.
	// Returns nil if healthy, error otherwise.
	HealthCheck(ctx context.Context) error
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const requestIDKey contextKey = "request-id"

// WithRequestID returns a new context with the request ID attached.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
