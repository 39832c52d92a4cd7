package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the tagged failure value returned across service boundaries.
// Every reconciler operation returns either a value or an *Error, never a bare error.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetail returns the error with an extra detail field set.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// As extracts an *Error from err. Errors that carry no code are reported as internal errors.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	return Wrap(ErrCodeInternalError, err.Error(), err)
}

// CodeOf returns the error code carried by err, or ErrCodeInternalError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return As(err).Code
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
