package errorx

import (
	"errors"

	"github.com/amoylab/unla-edge/pkg/mcp"
)

// ErrorData is attached to JSON-RPC error objects so clients can tell retryable
// failures apart without parsing messages.
type ErrorData struct {
	Type         string `json:"type"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// MethodNotFoundError is returned by dispatchers for unknown methods
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string { return "method not found: " + e.Method }

// InvalidParamsError is returned by dispatchers when params cannot be decoded
type InvalidParamsError struct {
	Reason string
}

func (e *InvalidParamsError) Error() string { return "invalid params: " + e.Reason }

// ToJSONRPC maps err onto a JSON-RPC error object
func ToJSONRPC(err error) mcp.JSONRPCError {
	var (
		protoErr    *ProtocolError
		authErr     *AuthenticationError
		rateErr     *RateLimitExceeded
		backErr     *BackpressureError
		timeoutErr  *RequestTimeout
		openErr     *CircuitOpenError
		notFoundErr *MethodNotFoundError
		paramsErr   *InvalidParamsError
		toolErr     *ToolError
	)
	switch {
	case errors.As(err, &protoErr):
		code := mcp.ErrorCodeInvalidRequest
		if protoErr.Parse {
			code = mcp.ErrorCodeParseError
		}
		return mcp.JSONRPCError{Code: code, Message: protoErr.Error(), Data: ErrorData{Type: "ProtocolError"}}
	case errors.As(err, &authErr):
		return mcp.JSONRPCError{Code: mcp.ErrorCodeUnauthorized, Message: authErr.Error(), Data: ErrorData{Type: "AuthenticationError"}}
	case errors.As(err, &rateErr):
		return mcp.JSONRPCError{Code: mcp.ErrorCodeRateLimitExceeded, Message: rateErr.Error(), Data: ErrorData{
			Type:         "RateLimitExceeded",
			RetryAfterMs: rateErr.RetryAfter.Milliseconds(),
		}}
	case errors.As(err, &backErr):
		return mcp.JSONRPCError{Code: mcp.ErrorCodeBackpressure, Message: backErr.Error(), Data: ErrorData{Type: "BackpressureError"}}
	case errors.As(err, &timeoutErr):
		return mcp.JSONRPCError{Code: mcp.ErrorCodeRequestTimeout, Message: timeoutErr.Error(), Data: ErrorData{Type: "RequestTimeout"}}
	case errors.As(err, &openErr):
		return mcp.JSONRPCError{Code: mcp.ErrorCodeCircuitOpen, Message: openErr.Error(), Data: ErrorData{
			Type:         "CircuitOpenError",
			RetryAfterMs: openErr.RetryAfter.Milliseconds(),
		}}
	case errors.As(err, &notFoundErr):
		return mcp.JSONRPCError{Code: mcp.ErrorCodeMethodNotFound, Message: notFoundErr.Error()}
	case errors.As(err, &paramsErr):
		return mcp.JSONRPCError{Code: mcp.ErrorCodeInvalidParams, Message: paramsErr.Error()}
	case errors.As(err, &toolErr), IsExpected(err):
		return mcp.JSONRPCError{Code: mcp.ErrorCodeToolExecution, Message: err.Error(), Data: ErrorData{Type: "ToolError"}}
	default:
		return mcp.JSONRPCError{Code: mcp.ErrorCodeInternalError, Message: err.Error(), Data: ErrorData{Type: "InternalError"}}
	}
}

// ErrorResponse builds the JSON-RPC error response for id
func ErrorResponse(id mcp.RequestID, err error) mcp.JSONRPCErrorResponse {
	e := ToJSONRPC(err)
	return mcp.NewErrorResponse(id, e.Code, e.Message, e.Data)
}
