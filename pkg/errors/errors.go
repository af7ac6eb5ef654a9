// Package errors provides standardized error types for the console service.
package errors

import (
	"errors"
	"fmt"
)

// Error codes, one per failure class the transport distinguishes.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeNotFound            = "NOT_FOUND"
	CodeAlreadyExists       = "ALREADY_EXISTS"
	CodeQueryFailed         = "QUERY_FAILED"
	CodeConnectionFailed    = "CONNECTION_FAILED"
	CodeInternal            = "INTERNAL_ERROR"
	CodeUnavailable         = "UNAVAILABLE"
	CodeDeadlineExceeded    = "DEADLINE_EXCEEDED"
	CodeCanceled            = "CANCELED"
	CodeFailedPrecondition  = "FAILED_PRECONDITION"
	CodeUnimplemented       = "UNIMPLEMENTED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeKeyGenerationFailed = "KEY_GENERATION_FAILED"
)

// ConsoleError carries a code, a message safe to show to a client and an
// optional cause.
type ConsoleError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *ConsoleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConsoleError) Unwrap() error {
	return e.Cause
}

// Is matches any ConsoleError with the same code.
func (e *ConsoleError) Is(target error) bool {
	t, ok := target.(*ConsoleError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of e carrying details. Sentinels stay untouched.
func (e *ConsoleError) WithDetails(details map[string]interface{}) *ConsoleError {
	c := *e
	c.Details = details
	return &c
}

// WithDetail returns a copy of e with one more detail.
func (e *ConsoleError) WithDetail(key string, value interface{}) *ConsoleError {
	c := *e
	c.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

// WithCause returns a copy of e wrapping cause.
func (e *ConsoleError) WithCause(cause error) *ConsoleError {
	c := *e
	c.Cause = cause
	return &c
}

// Common errors
var (
	ErrQueryNotFound        = &ConsoleError{Code: CodeNotFound, Message: "query not found"}
	ErrAPIKeyNotFound       = &ConsoleError{Code: CodeNotFound, Message: "API key not found"}
	ErrInvalidKeyName       = &ConsoleError{Code: CodeInvalidRequest, Message: "invalid API key name"}
	ErrInvalidTicket        = &ConsoleError{Code: CodeInvalidRequest, Message: "invalid ticket"}
	ErrUnclassifiableStatus = &ConsoleError{Code: CodeInvalidRequest, Message: "unrecognized query status"}
	ErrGenerationInProgress = &ConsoleError{Code: CodeFailedPrecondition, Message: "an API key is already being generated"}
	ErrKeyGenerationFailed  = &ConsoleError{Code: CodeKeyGenerationFailed, Message: "there was a problem generating your secret key"}
	ErrInvalidCredentials   = &ConsoleError{Code: CodeUnauthorized, Message: "invalid credentials"}
	ErrConnectionFailed     = &ConsoleError{Code: CodeUnavailable, Message: "database connection failed"}
	ErrNotImplemented       = &ConsoleError{Code: CodeUnimplemented, Message: "feature not implemented"}
)

// New creates a new ConsoleError with the given code and message.
func New(code, message string) *ConsoleError {
	return &ConsoleError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new ConsoleError with a formatted message.
func Newf(code, format string, args ...interface{}) *ConsoleError {
	return &ConsoleError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a ConsoleError.
func Wrap(err error, code, message string) *ConsoleError {
	if err == nil {
		return nil
	}
	return &ConsoleError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *ConsoleError {
	if err == nil {
		return nil
	}
	return &ConsoleError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Is reports whether any error in err's chain matches target. ConsoleErrors
// match on code.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return GetCode(err) == CodeNotFound
}

// IsInvalidRequest checks if an error is an invalid request error.
func IsInvalidRequest(err error) bool {
	return GetCode(err) == CodeInvalidRequest
}

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool {
	return GetCode(err) == CodeInternal
}

// GetCode extracts the error code from an error. Errors that are not
// ConsoleErrors are internal.
func GetCode(err error) string {
	var consoleErr *ConsoleError
	if errors.As(err, &consoleErr) {
		return consoleErr.Code
	}
	return CodeInternal
}

// GetMessage extracts the client-facing message from an error.
func GetMessage(err error) string {
	var consoleErr *ConsoleError
	if errors.As(err, &consoleErr) {
		return consoleErr.Message
	}
	return err.Error()
}
