package faceitapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// GatewayError describes a failed call to the FACEIT Data or Chat API.
// StatusCode is zero when the request never produced a response.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("faceit %s: %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("faceit %s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	case e.Err != nil:
		return fmt.Sprintf("faceit %s: %v", e.Op, e.Err)
	default:
		return "faceit " + e.Op + ": unknown error"
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request may succeed.
func (e *GatewayError) Retryable() bool {
	return ClassifyError(e) == ErrorClassRetryable
}

// ErrorClass represents whether a gateway error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable covers rate limiting, server errors and network failures.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal covers auth failures, bad requests and missing resources.
	ErrorClassFatal
	// ErrorClassUnknown is returned for a nil error.
	ErrorClassUnknown
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyError sorts an error returned by the client.
//
// HTTP 429 and 5xx are retryable; every other 4xx is fatal. Errors without a
// status code are retryable when they look like transport failures or a
// per-attempt timeout, and fatal when the caller's context was cancelled.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	var ge *GatewayError
	if errors.As(err, &ge) && ge.StatusCode != 0 {
		switch {
		case ge.StatusCode == http.StatusTooManyRequests:
			return ErrorClassRetryable
		case ge.StatusCode >= 500:
			return ErrorClassRetryable
		default:
			return ErrorClassFatal
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassRetryable
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "timeout", "eof", "broken pipe", "no such host"} {
		if strings.Contains(lower, pattern) {
			return ErrorClassRetryable
		}
	}
	return ErrorClassFatal
}

// IsRateLimited reports whether err is an HTTP 429 from the gateway.
func IsRateLimited(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.StatusCode == http.StatusTooManyRequests
}
