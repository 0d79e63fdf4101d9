// Package proxy implements the interception pipeline's data plane: the
// listener/dispatcher, the plain-HTTP forwarder, the opaque CONNECT
// tunneler, and the MITM TLS bridge.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"os"
)

// ProxyError is a structured proxy error response, directly grounded in
// the teacher's proxy.ProxyError.
type ProxyError struct {
	HTTPCode int
	Code     string // X-Roo-Error header value
	Message  string // plain-text body
}

var (
	ErrURLParseError = &ProxyError{
		HTTPCode: http.StatusBadRequest,
		Code:     "URL_PARSE_ERROR",
		Message:  "Failed to parse request URL",
	}
	ErrInvalidProtocol = &ProxyError{
		HTTPCode: http.StatusBadRequest,
		Code:     "INVALID_PROTOCOL",
		Message:  "Protocol must be http or https",
	}
	ErrInvalidHost = &ProxyError{
		HTTPCode: http.StatusBadRequest,
		Code:     "INVALID_HOST",
		Message:  "Invalid or empty host",
	}
	ErrUpstreamConnectFailed = &ProxyError{
		HTTPCode: http.StatusBadGateway,
		Code:     "UPSTREAM_CONNECT_FAILED",
		Message:  "Failed to connect to upstream",
	}
	ErrUpstreamTimeout = &ProxyError{
		HTTPCode: http.StatusGatewayTimeout,
		Code:     "UPSTREAM_TIMEOUT",
		Message:  "Upstream connection or response timed out",
	}
	ErrUpstreamRequestFailed = &ProxyError{
		HTTPCode: http.StatusBadGateway,
		Code:     "UPSTREAM_REQUEST_FAILED",
		Message:  "Upstream request failed",
	}
	ErrInternalError = &ProxyError{
		HTTPCode: http.StatusInternalServerError,
		Code:     "INTERNAL_ERROR",
		Message:  "Internal proxy error",
	}
)

// writeProxyError writes a standardized proxy error response.
func writeProxyError(w http.ResponseWriter, pe *ProxyError) {
	w.Header().Set("X-Roo-Error", pe.Code)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(pe.HTTPCode)
	w.Write([]byte(pe.Message))
}

// classifyUpstreamError maps an upstream error to the appropriate
// ProxyError for the plain-HTTP forward path. Returns nil for
// context.Canceled — client-initiated cancellation is not a proxy failure.
func classifyUpstreamError(err error) *ProxyError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	return ErrUpstreamRequestFailed
}

// classifyConnectError classifies errors in the CONNECT dial path. All
// non-timeout/non-canceled errors are dial-phase failures, so they map to
// UPSTREAM_CONNECT_FAILED rather than UPSTREAM_REQUEST_FAILED.
func classifyConnectError(err error) *ProxyError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	return ErrUpstreamConnectFailed
}
