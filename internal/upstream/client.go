// Package upstream provides a bare JSON-over-HTTP client for upstream
// computation providers. It performs exactly one attempt per call and
// classifies failures into the gateway error taxonomy; retries, circuit
// breaking, and quota live in the layers composed above it.
package upstream

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"astrogate/internal/core"
	"astrogate/internal/httpclient"
)

// HeaderSetter applies provider-specific headers (API keys) on each request.
type HeaderSetter func(req *http.Request)

// Config holds client settings for one upstream.
type Config struct {
	// Name identifies the upstream in errors and logs.
	Name string

	// BaseURL is the upstream's API root.
	BaseURL string

	// Timeout is the hard per-call deadline (default 10s).
	Timeout time.Duration
}

// Client issues single-attempt JSON requests to one upstream.
type Client struct {
	httpClient   *http.Client
	cfg          Config
	headerSetter HeaderSetter
}

// New creates a Client with the shared transport.
func New(cfg Config, headerSetter HeaderSetter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient:   httpclient.NewDefaultHTTPClient(),
		cfg:          cfg,
		headerSetter: headerSetter,
	}
}

// NewWithHTTPClient creates a Client with a custom http.Client, used by tests.
func NewWithHTTPClient(httpClient *http.Client, cfg Config, headerSetter HeaderSetter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient:   httpClient,
		cfg:          cfg,
		headerSetter: headerSetter,
	}
}

// Name returns the upstream name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// PostJSON sends body as JSON to endpoint and unmarshals the 2xx response
// into result. Non-2xx responses become HTTPError; deadline overruns become
// TimeoutError.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body any, result any) error {
	raw, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return core.NewHTTPError(c.cfg.Name, http.StatusBadGateway,
				"failed to unmarshal response: "+err.Error())
		}
	}
	return nil
}

// PostJSONRaw sends body as JSON and returns the raw response bytes, for
// providers that normalize vendor envelopes themselves.
func (c *Client) PostJSONRaw(ctx context.Context, endpoint string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, endpoint, body)
}

// GetJSON fetches endpoint and unmarshals the 2xx response into result.
func (c *Client) GetJSON(ctx context.Context, endpoint string, result any) error {
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return core.NewHTTPError(c.cfg.Name, http.StatusBadGateway,
				"failed to unmarshal response: "+err.Error())
		}
	}
	return nil
}

// GetJSONWithTimeout is GetJSON with a one-off deadline, used for health
// probes which run tighter than computation calls.
func (c *Client) GetJSONWithTimeout(ctx context.Context, endpoint string, timeout time.Duration, result any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.GetJSON(ctx, endpoint, result)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.headerSetter != nil {
		c.headerSetter(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, core.NewTimeoutError(c.cfg.Name, err)
		}
		return nil, fmt.Errorf("[%s] request failed: %w", c.cfg.Name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, core.NewTimeoutError(c.cfg.Name, err)
		}
		return nil, fmt.Errorf("[%s] failed to read response: %w", c.cfg.Name, err)
	}

	raw = decompressBody(raw, resp.Header.Get("Content-Encoding"))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewHTTPError(c.cfg.Name, resp.StatusCode, truncate(string(raw), 256))
	}
	return raw, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// decompressBody decompresses the response based on Content-Encoding,
// returning the body unchanged when no decompression applies or it fails.
// Supports gzip, deflate, and brotli (br).
func decompressBody(body []byte, contentEncoding string) []byte {
	if len(body) == 0 || contentEncoding == "" {
		return body
	}

	// Handle "gzip, deflate" style lists - take the first.
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))
	if idx := strings.Index(encoding, ","); idx >= 0 {
		encoding = strings.TrimSpace(encoding[:idx])
	}

	var (
		reader io.Reader
		err    error
	)
	switch encoding {
	case "gzip":
		reader, err = gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		reader = flate.NewReader(bytes.NewReader(body))
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	default:
		return body
	}
	if err != nil {
		return body
	}

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return body
	}
	return decompressed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
