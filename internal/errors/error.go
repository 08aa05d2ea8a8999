package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Category represents the type of error.
type Category string

const (
	CategoryWorker        Category = "worker"
	CategoryAsset         Category = "asset"
	CategoryRequest       Category = "request"
	CategoryProtocol      Category = "protocol"
	CategorySymbolication Category = "symbolication"
	CategoryConfig        Category = "config"
	CategoryCLI           Category = "cli"
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is a structured error with a registered code.
type Error struct {
	// Code is a unique error identifier (e.g., "E202").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Platform is the build platform the error belongs to, if any.
	Platform string

	// Location is the source location the error refers to, if any.
	Location *Location

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Status is the HTTP status used when the error reaches an HTTP caller.
	Status int

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Platform != "" {
		msg += " (" + e.Platform + ")"
	}
	if e.Detail != "" && e.Wrapped == nil {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// WithPlatform attaches the platform the error belongs to.
func (e *Error) WithPlatform(platform string) *Error {
	e.Platform = platform
	return e
}

// WithLocation adds a source location to the error.
func (e *Error) WithLocation(file string, line, column int) *Error {
	e.Location = &Location{File: file, Line: line, Column: column}
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail replaces the registered detail.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// WithDetailf replaces the registered detail with a formatted one.
func (e *Error) WithDetailf(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// New creates an Error from a registered error code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
			Status:  http.StatusInternalServerError,
		}
	}
	status := template.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &Error{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		Status:   status,
	}
}

// Newf creates a new Error with a formatted message (no code).
func Newf(category Category, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
		Status:   http.StatusInternalServerError,
	}
}

// FromError wraps a standard error in an Error unless it already carries one.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code).Wrap(err)
}

// CodeOf returns the first devpack code found in err's chain.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err's chain carries the given code.
func IsCode(err error, code string) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// HTTPStatus maps err to the status an HTTP caller should see.
func HTTPStatus(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
