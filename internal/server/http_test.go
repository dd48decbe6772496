package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"astrogate/internal/accounting"
	"astrogate/internal/cache"
	"astrogate/internal/core"
	"astrogate/internal/gateway"
	"astrogate/internal/retry"
)

type stubProvider struct {
	name string
	err  error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) BirthChart(ctx context.Context, req *core.BirthDetails) (*core.BirthChart, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &core.BirthChart{Input: *req, Ascendant: 123.45}, nil
}

func (p *stubProvider) ChartSVG(ctx context.Context, req *core.BirthDetails) (*core.ChartSVG, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &core.ChartSVG{StatusCode: 200, Output: "<svg/>"}, nil
}

func (p *stubProvider) Panchang(ctx context.Context, req *core.BirthDetails) (*core.Panchang, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &core.Panchang{Tithi: "Shukla Pratipada"}, nil
}

func (p *stubProvider) Compatibility(ctx context.Context, req *core.MatchRequest) (*core.Compatibility, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &core.Compatibility{TotalPoints: 28, MaxPoints: 36}, nil
}

type stubReader struct {
	records []accounting.CallRecord
	err     error
}

func (r *stubReader) Recent(ctx context.Context, limit int) ([]accounting.CallRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.records, nil
}

func newTestServer(t *testing.T, primary, fallback core.Provider, reader accounting.Reader) *Server {
	t.Helper()
	store := cache.New(cache.Config{})
	t.Cleanup(store.Close)
	gw := gateway.New(gateway.Config{
		Primary:  primary,
		Fallback: fallback,
		Cache:    store,
		Retry: retry.Policy{
			MaxRetries:   1,
			InitialDelay: time.Millisecond,
			Multiplier:   1,
			Sleep:        func(ctx context.Context, d time.Duration) error { return nil },
		},
	})
	if reader == nil {
		reader = &stubReader{}
	}
	return New(gw, reader, nil)
}

func birthBody() string {
	return `{"year":1990,"month":6,"date":15,"hours":10,"minutes":30,"seconds":0,"latitude":28.6139,"longitude":77.209,"timezone":5.5}`
}

func doJSON(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	rec := doJSON(srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["source"] != "astrogate" {
		t.Errorf("expected source astrogate, got %q", body["source"])
	}
	if body["version"] == "" {
		t.Error("expected a version string")
	}
}

func TestPlanets(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	rec := doJSON(srv, http.MethodPost, "/planets", birthBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result core.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if result.Source != core.SourcePrimary {
		t.Errorf("expected source primary, got %q", result.Source)
	}
	if got := rec.Header().Get("X-Astro-Source"); got != "primary" {
		t.Errorf("expected X-Astro-Source primary, got %q", got)
	}
	if rec.Header().Get("X-Astro-Computed-At") == "" {
		t.Error("expected X-Astro-Computed-At header")
	}
}

func TestPlanetsSecondCallServedFromCache(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	first := doJSON(srv, http.MethodPost, "/planets", birthBody())
	if first.Code != http.StatusOK {
		t.Fatalf("first call: expected 200, got %d", first.Code)
	}

	second := doJSON(srv, http.MethodPost, "/planets", birthBody())
	if second.Code != http.StatusOK {
		t.Fatalf("second call: expected 200, got %d", second.Code)
	}
	if got := second.Header().Get("X-Astro-Source"); got != "cache" {
		t.Errorf("expected X-Astro-Source cache, got %q", got)
	}
}

func TestMatchMaking(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	body := `{"female":` + birthBody() + `,"male":` + birthBody() + `}`
	rec := doJSON(srv, http.MethodPost, "/match-making", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestValidationError(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	body := `{"year":1990,"month":13,"date":15,"hours":10,"minutes":30,"latitude":28.6,"longitude":77.2,"timezone":5.5}`
	rec := doJSON(srv, http.MethodPost, "/planets", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "month") {
		t.Errorf("expected month in error, got %s", rec.Body.String())
	}
}

func TestMalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	rec := doJSON(srv, http.MethodPost, "/planets", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAllProvidersFailedMapsTo502(t *testing.T) {
	boom := core.NewHTTPError("astroengine", http.StatusServiceUnavailable, "down")
	srv := newTestServer(t,
		&stubProvider{name: "astroengine", err: boom},
		&stubProvider{name: "freeastro", err: core.NewHTTPError("freeastro", http.StatusServiceUnavailable, "down")},
		nil)

	rec := doJSON(srv, http.MethodPost, "/planets", birthBody())
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "all_providers_failed") {
		t.Errorf("expected all_providers_failed error type, got %s", rec.Body.String())
	}
}

func TestFallbackSourceHeader(t *testing.T) {
	boom := core.NewHTTPError("astroengine", http.StatusServiceUnavailable, "down")
	srv := newTestServer(t,
		&stubProvider{name: "astroengine", err: boom},
		&stubProvider{name: "freeastro"},
		nil)

	rec := doJSON(srv, http.MethodPost, "/planets", birthBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Astro-Source"); got != "fallback" {
		t.Errorf("expected X-Astro-Source fallback, got %q", got)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	rec := doJSON(srv, http.MethodGet, "/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}
}

func TestRequestIDHonored(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("expected inbound request ID echoed back, got %q", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	rec := doJSON(srv, http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status gateway.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if _, ok := status.Breakers["astroengine"]; !ok {
		t.Error("expected astroengine breaker in status")
	}
	if _, ok := status.Breakers["freeastro"]; !ok {
		t.Error("expected freeastro breaker in status")
	}
}

func TestRecentCalls(t *testing.T) {
	reader := &stubReader{records: []accounting.CallRecord{
		{ID: "1", Operation: "birth_chart", Upstream: "astroengine", Outcome: "success"},
	}}
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, reader)

	rec := doJSON(srv, http.MethodGet, "/v1/calls/recent?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Calls []accounting.CallRecord `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(body.Calls))
	}
	if body.Calls[0].Operation != "birth_chart" {
		t.Errorf("unexpected operation %q", body.Calls[0].Operation)
	}
}

func TestRecentCallsBadLimit(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, &stubReader{})

	rec := doJSON(srv, http.MethodGet, "/v1/calls/recent?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMetricsDisabledByDefault(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	rec := doJSON(srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	srv := newTestServer(t, &stubProvider{name: "astroengine"}, &stubProvider{name: "freeastro"}, nil)

	huge := `{"padding":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := doJSON(srv, http.MethodPost, "/planets", huge)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

// A rejected body must stop at the 400; the handler may never carry an
// unpopulated request into the gateway. The nil gateway turns any such slip
// into a hard test failure with no Recover middleware to absorb it.
func TestRejectedBodyNeverReachesGateway(t *testing.T) {
	h := NewHandler(nil, nil)
	e := echo.New()

	cases := []struct {
		name string
		fn   echo.HandlerFunc
		body string
	}{
		{"planets malformed", h.Planets, `{not json`},
		{"planets bad month", h.Planets, `{"year":1990,"month":13,"date":15}`},
		{"chart svg malformed", h.ChartSVG, `{not json`},
		{"panchang bad month", h.Panchang, `{"year":1990,"month":13,"date":15}`},
		{"match making malformed", h.MatchMaking, `{not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			if err := tc.fn(e.NewContext(req, rec)); err != nil {
				t.Fatalf("handler returned error = %v, want response written", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var body map[string]map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if body["error"]["type"] != "invalid_request" {
				t.Errorf("error type = %q, want invalid_request", body["error"]["type"])
			}
		})
	}
}
