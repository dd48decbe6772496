// Package core provides the shared types and error taxonomy for the
// astrology computation gateway.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// TimeoutError indicates an upstream call exceeded its deadline.
type TimeoutError struct {
	Upstream string
	// Original error for debugging (not exposed to clients)
	Err error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("[%s] upstream timeout: %v", e.Upstream, e.Err)
}

// Unwrap implements the error unwrapping interface
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NewTimeoutError creates a timeout error for the named upstream.
func NewTimeoutError(upstream string, err error) *TimeoutError {
	return &TimeoutError{Upstream: upstream, Err: err}
}

// HTTPError indicates a non-2xx response from an upstream.
type HTTPError struct {
	Upstream string
	Status   int
	Message  string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] upstream returned %d: %s", e.Upstream, e.Status, e.Message)
	}
	return fmt.Sprintf("[%s] upstream returned %d", e.Upstream, e.Status)
}

// NewHTTPError creates an error for an upstream HTTP failure response.
func NewHTTPError(upstream string, status int, message string) *HTTPError {
	return &HTTPError{Upstream: upstream, Status: status, Message: message}
}

// CircuitOpenError indicates the circuit breaker for an upstream is open
// and the call was rejected without reaching the upstream.
type CircuitOpenError struct {
	Upstream string
	// RetryAfter is when the breaker will next admit a probe.
	RetryAfter time.Time
}

// Error implements the error interface
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("[%s] circuit breaker open", e.Upstream)
}

// NewCircuitOpenError creates a circuit-open rejection for the named upstream.
func NewCircuitOpenError(upstream string, retryAfter time.Time) *CircuitOpenError {
	return &CircuitOpenError{Upstream: upstream, RetryAfter: retryAfter}
}

// QuotaExhaustedError indicates the daily call budget for a metered upstream
// is spent for the current window.
type QuotaExhaustedError struct {
	Upstream string
	Limit    int
	ResetAt  time.Time
}

// Error implements the error interface
func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("[%s] daily quota of %d calls exhausted, resets at %s",
		e.Upstream, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// NewQuotaExhaustedError creates a quota-exhausted rejection for the named upstream.
func NewQuotaExhaustedError(upstream string, limit int, resetAt time.Time) *QuotaExhaustedError {
	return &QuotaExhaustedError{Upstream: upstream, Limit: limit, ResetAt: resetAt}
}

// AllProvidersFailedError is the only error surfaced to callers when both the
// primary and the fallback upstream fail for a request. It carries both
// underlying causes for diagnostics.
type AllProvidersFailedError struct {
	PrimaryErr  error
	FallbackErr error
}

// Error implements the error interface
func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed: primary: %v; fallback: %v", e.PrimaryErr, e.FallbackErr)
}

// Unwrap exposes both underlying causes to errors.Is/errors.As.
func (e *AllProvidersFailedError) Unwrap() []error {
	return []error{e.PrimaryErr, e.FallbackErr}
}

// NewAllProvidersFailedError composes the primary and fallback failures.
func NewAllProvidersFailedError(primaryErr, fallbackErr error) *AllProvidersFailedError {
	return &AllProvidersFailedError{PrimaryErr: primaryErr, FallbackErr: fallbackErr}
}

// Retryable reports whether an error is worth retrying against the same
// upstream: network resets and timeouts, HTTP 5xx, and HTTP 408/429/503/504.
// Circuit-open and quota-exhausted rejections are never retried; they trigger
// fallback instead. Context cancellation means the caller gave up.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var circuitErr *CircuitOpenError
	if errors.As(err, &circuitErr) {
		return false
	}
	var quotaErr *QuotaExhaustedError
	if errors.As(err, &quotaErr) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return httpErr.Status >= 500
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Transport-level failures: resets, refused connections, truncated bodies.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}
