package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeNetwork      Code = "NETWORK_ERROR"
	CodeDecode       Code = "DECODE_ERROR"
)

// Sentinel errors matched by errors.Is against *Error.
var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already registered")
	ErrUnavailable  = errors.New("backend unavailable")
)

// Error is a failed backend call.
type Error struct {
	Op      string // operation name, e.g. "login"
	Status  int    // HTTP status, 0 when no response arrived
	Code    Code
	Message string // user-facing message
	Body    string // raw response body, truncated
	Cause   error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("backend %s: %d %s", e.Op, e.Status, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("backend %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("backend %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is maps the error code onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == CodeUnauthorized
	case ErrForbidden:
		return e.Code == CodeForbidden
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrConflict:
		return e.Code == CodeConflict
	case ErrUnavailable:
		return e.Code == CodeUnavailable || e.Code == CodeNetwork
	}
	return false
}

// codeForStatus maps an HTTP status to a code and default message.
func codeForStatus(status int) (Code, string) {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized, "authentication required"
	case status == http.StatusForbidden:
		return CodeForbidden, "you do not have permission to do this"
	case status == http.StatusNotFound:
		return CodeNotFound, "not found"
	case status == http.StatusConflict:
		return CodeConflict, "this email is already registered"
	case status == http.StatusTooManyRequests:
		return CodeRateLimited, "too many requests"
	case status >= 500:
		return CodeUnavailable, "backend unavailable"
	default:
		return CodeInvalidInput, http.StatusText(status)
	}
}

// HTTPStatus returns the status a handler should answer with for err.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInvalidInput:
		if e.Status >= 400 && e.Status < 500 {
			return e.Status
		}
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// UserMessage returns the message suitable for display.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
