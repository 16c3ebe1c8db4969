package errorx

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryProtocol       ErrorCategory = "protocol"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryRateLimit      ErrorCategory = "rate_limit"
	CategoryBackpressure   ErrorCategory = "backpressure"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryUnavailable    ErrorCategory = "unavailable"
	CategoryValidation     ErrorCategory = "validation"
	CategoryExternal       ErrorCategory = "external"
	CategoryFatal          ErrorCategory = "fatal"
)

// ProtocolError is a malformed or oversized message. The connection survives.
type ProtocolError struct {
	Reason string
	// Parse is set when the payload was not valid JSON
	Parse bool
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthenticationError refuses a handshake; the connection is never upgraded.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// RateLimitExceeded rejects one message; RetryAfter hints when to try again.
type RateLimitExceeded struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded: max %d requests per window, retry after %s", e.Limit, e.RetryAfter)
}

// BackpressureError rejects a request because the session has too many pending requests.
type BackpressureError struct {
	Pending int
	Max     int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("too many pending requests: %d/%d", e.Pending, e.Max)
}

// RequestTimeout is delivered for a request that got no result in time.
type RequestTimeout struct {
	After time.Duration
}

func (e *RequestTimeout) Error() string {
	return fmt.Sprintf("request timed out after %s", e.After)
}

// CircuitOpenError is returned without calling the downstream dependency.
type CircuitOpenError struct {
	Target     string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("circuit open, retry after %s", e.RetryAfter)
	}
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Target, e.RetryAfter)
}

// FatalStartupError is a bind/listen failure. It is the only error that escapes the server.
type FatalStartupError struct {
	Addr string
	Err  error
}

func (e *FatalStartupError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %v", e.Addr, e.Err)
}

func (e *FatalStartupError) Unwrap() error { return e.Err }

// ToolError is a downstream failure while executing a tool
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExpectedError marks a downstream failure caused by the caller (validation,
// not found, ...). Circuit breakers pass it through without counting it.
type ExpectedError struct {
	Err error
}

func (e *ExpectedError) Error() string { return e.Err.Error() }

func (e *ExpectedError) Unwrap() error { return e.Err }

// Expected wraps err as an ExpectedError
func Expected(err error) error {
	if err == nil {
		return nil
	}
	return &ExpectedError{Err: err}
}

// IsExpected reports whether err is, or wraps, an ExpectedError
func IsExpected(err error) bool {
	var e *ExpectedError
	return errors.As(err, &e)
}

// Category classifies err for logs and metrics
func Category(err error) ErrorCategory {
	var (
		protoErr   *ProtocolError
		authErr    *AuthenticationError
		rateErr    *RateLimitExceeded
		backErr    *BackpressureError
		timeoutErr *RequestTimeout
		openErr    *CircuitOpenError
		fatalErr   *FatalStartupError
	)
	switch {
	case errors.As(err, &protoErr):
		return CategoryProtocol
	case errors.As(err, &authErr):
		return CategoryAuthentication
	case errors.As(err, &rateErr):
		return CategoryRateLimit
	case errors.As(err, &backErr):
		return CategoryBackpressure
	case errors.As(err, &timeoutErr):
		return CategoryTimeout
	case errors.As(err, &openErr):
		return CategoryUnavailable
	case errors.As(err, &fatalErr):
		return CategoryFatal
	case IsExpected(err):
		return CategoryValidation
	default:
		return CategoryExternal
	}
}
