package teamsync

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/rest"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Server errors, from push-channel error frames or REST statuses
	ErrorUnknown ErrorCode = iota
	ErrorUnsupportedVersion
	ErrorUnauthorized
	ErrorInvalidMessage
	ErrorBadRequest
	ErrorNotFound
	ErrorAccessDenied
	ErrorRateLimited
	ErrorInternalServer

	// Client-side Errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorSerialization
	ErrorNoSelection
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnsupportedVersion:
		return "unsupported_version"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorInvalidMessage:
		return "invalid_message"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorNotFound:
		return "not_found"
	case ErrorAccessDenied:
		return "access_denied"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorNoSelection:
		return "no_selection"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a server error code string to ErrorCode.
// Client-side codes never come from the server and parse as ErrorUnknown.
func ParseErrorCode(code string) ErrorCode {
	for c := ErrorUnsupportedVersion; c <= ErrorInternalServer; c++ {
		if c.String() == code {
			return c
		}
	}
	return ErrorUnknown
}

// SyncError is a structured error with code and context.
type SyncError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *SyncError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new SyncError with the given code and message.
func NewError(code ErrorCode, message string) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a SyncError.
func WrapError(code ErrorCode, message string, err error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// FromProtocolError converts a protocol Error to SyncError.
func FromProtocolError(e *Error) *SyncError {
	if e == nil {
		return nil
	}
	return &SyncError{
		Code:    ParseErrorCode(e.Code),
		Message: e.Msg,
	}
}

// FromAPIError classifies a REST failure. Errors that are not *rest.APIError
// become connection errors.
func FromAPIError(err error) *SyncError {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	var apiErr *rest.APIError
	if !errors.As(err, &apiErr) {
		return WrapError(ErrorConnection, "request failed", err)
	}
	return WrapError(statusCode(apiErr.Status), apiErr.Message, err)
}

func statusCode(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorUnauthorized
	case status == http.StatusForbidden:
		return ErrorAccessDenied
	case status == http.StatusNotFound:
		return ErrorNotFound
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited
	case status >= 500:
		return ErrorInternalServer
	case status >= 400:
		return ErrorBadRequest
	default:
		return ErrorUnknown
	}
}

// IsProtocolError checks if an error is a protocol error (from server).
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	if !errors.As(err, &se) {
		return false
	}
	// Protocol errors are those that come from the server
	return se.Code >= ErrorUnsupportedVersion && se.Code <= ErrorInternalServer
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == ErrorConnection || se.Code == ErrorDisconnected || se.Code == ErrorTimeout
}

// IsAuthError reports whether err means the stored credentials are no
// longer accepted.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var se *SyncError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == ErrorUnauthorized || se.Code == ErrorAccessDenied
}
