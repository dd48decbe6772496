//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockAstroServer simulates an astrology computation upstream. The same shape
// serves as primary and fallback since the gateway normalizes both.
type MockAstroServer struct {
	server        *httptest.Server
	mu            sync.Mutex
	requests      []RecordedRequest
	responseDelay time.Duration
	failAll       bool
	failCount     int
	failWithCode  int
	failMessage   string
}

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// NewMockAstroServer creates a new mock upstream.
func NewMockAstroServer() *MockAstroServer {
	m := &MockAstroServer{
		requests: make([]RecordedRequest, 0),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: r.Header.Clone(),
			Body:    body,
		})

		if m.failAll || m.failCount > 0 {
			if m.failCount > 0 {
				m.failCount--
			}
			code := m.failWithCode
			if code == 0 {
				code = http.StatusServiceUnavailable
			}
			message := m.failMessage
			if message == "" {
				message = "upstream unavailable"
			}
			delay := m.responseDelay
			m.mu.Unlock()

			if delay > 0 {
				time.Sleep(delay)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
			return
		}
		delay := m.responseDelay
		m.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/health":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/planets":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ascendant": 101.5,
				"planets": []map[string]any{
					{"name": "Sun", "fullDegree": 61.2, "normDegree": 1.2, "sign": "Gemini", "house": 1},
					{"name": "Moon", "fullDegree": 120.8, "normDegree": 0.8, "sign": "Leo", "house": 3},
				},
			})
		case "/horoscope-chart-svg-code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"statusCode": 200,
				"output":     "<svg xmlns=\"http://www.w3.org/2000/svg\"></svg>",
			})
		case "/complete-panchang":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tithi":     "Shukla Pratipada",
				"nakshatra": "Ashwini",
				"yoga":      "Vishkambha",
				"karana":    "Bava",
				"sunrise":   "05:58",
				"sunset":    "19:10",
			})
		case "/match-making":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"totalPoints": 28.5,
				"maxPoints":   36,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		}
	}))

	return m
}

// URL returns the mock server's base URL.
func (m *MockAstroServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAstroServer) Close() {
	m.server.Close()
}

// FailNext makes the next n requests fail with the given status code.
func (m *MockAstroServer) FailNext(n, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = n
	m.failWithCode = code
}

// FailAll makes every request fail with the given status code until Recover
// is called.
func (m *MockAstroServer) FailAll(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = true
	m.failWithCode = code
}

// Recover restores normal responses.
func (m *MockAstroServer) Recover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = false
	m.failCount = 0
}

// SetResponseDelay delays every response by d.
func (m *MockAstroServer) SetResponseDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseDelay = d
}

// RequestCount returns how many requests the mock has received.
func (m *MockAstroServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockAstroServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
