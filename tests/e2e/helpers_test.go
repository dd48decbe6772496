//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"astrogate/internal/breaker"
	"astrogate/internal/cache"
	"astrogate/internal/gateway"
	"astrogate/internal/providers/astroengine"
	"astrogate/internal/providers/freeastro"
	"astrogate/internal/quota"
	"astrogate/internal/retry"
	"astrogate/internal/server"
)

// API endpoints
const (
	planetsPath     = "/planets"
	chartSVGPath    = "/horoscope-chart-svg-code"
	panchangPath    = "/complete-panchang"
	matchMakingPath = "/match-making"
	healthPath      = "/health"
	statusPath      = "/v1/status"
)

// fixtureOptions tunes the assembled gateway.
type fixtureOptions struct {
	dailyLimit       int
	failureThreshold int
	maxRetries       int
}

func defaultOptions() fixtureOptions {
	return fixtureOptions{
		dailyLimit:       1000,
		failureThreshold: 5,
		maxRetries:       1,
	}
}

// fixture is a fully wired gateway service with mock upstreams.
type fixture struct {
	service  *httptest.Server
	primary  *MockAstroServer
	fallback *MockAstroServer
}

// newFixture assembles the whole service in-process: real providers, breakers,
// quota, cache, and HTTP surface, pointed at mock upstreams.
func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	primary := NewMockAstroServer()
	t.Cleanup(primary.Close)
	fallback := NewMockAstroServer()
	t.Cleanup(fallback.Close)

	primaryProvider := astroengine.New(astroengine.Config{
		BaseURL: primary.URL(),
		Timeout: 5 * time.Second,
	})
	fallbackProvider := freeastro.New(freeastro.Config{
		BaseURL: fallback.URL(),
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})

	tracker, err := quota.New(quota.Config{
		Upstream:   "astroengine",
		DailyLimit: opts.dailyLimit,
	})
	require.NoError(t, err)

	store := cache.New(cache.Config{StaleGrace: time.Hour})
	t.Cleanup(store.Close)

	breakerCfg := breaker.Config{
		FailureThreshold: opts.failureThreshold,
		ResetTimeout:     time.Minute,
	}

	gw := gateway.New(gateway.Config{
		Primary:         primaryProvider,
		Fallback:        fallbackProvider,
		PrimaryBreaker:  breaker.New("astroengine", breakerCfg),
		FallbackBreaker: breaker.New("freeastro", breakerCfg),
		Quota:           tracker,
		Cache:           store,
		Retry: retry.Policy{
			MaxRetries:   opts.maxRetries,
			InitialDelay: time.Millisecond,
			Multiplier:   1,
			Sleep:        func(ctx context.Context, d time.Duration) error { return nil },
		},
	})

	srv := server.New(gw, nil, nil)
	service := httptest.NewServer(srv)
	t.Cleanup(service.Close)

	return &fixture{
		service:  service,
		primary:  primary,
		fallback: fallback,
	}
}

// birthPayload returns the reference birth details used across tests.
func birthPayload() map[string]any {
	return map[string]any{
		"year":      1990,
		"month":     6,
		"date":      15,
		"hours":     10,
		"minutes":   30,
		"seconds":   0,
		"latitude":  28.6139,
		"longitude": 77.2090,
		"timezone":  5.5,
	}
}

// sendJSONRequest sends a JSON POST request and returns the response.
func sendJSONRequest(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

// decodeBody decodes the response body into a generic map and closes it.
func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
