package setting

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies store errors. Every kind maps to one HTTP status.
type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindNotFound
	KindPreconditionFailed
	KindConflict
	KindNotModified
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindConflict:
		return "Conflict"
	case KindNotModified:
		return "NotModified"
	}
	return "Unknown"
}

// Status returns the HTTP status code of the kind.
func (k Kind) Status() int {
	switch k {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindConflict:
		return http.StatusConflict
	case KindNotModified:
		return http.StatusNotModified
	}
	return http.StatusInternalServerError
}

// Error is a typed store error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Status returns the HTTP status code carried by the error.
func (e *Error) Status() int { return e.Kind.Status() }

// Is matches sentinel errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrNotModified        = &Error{Kind: KindNotModified}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(format string, args ...interface{}) *Error {
	return newError(KindInvalidArgument, format, args...)
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// PreconditionFailed builds a KindPreconditionFailed error.
func PreconditionFailed(format string, args ...interface{}) *Error {
	return newError(KindPreconditionFailed, format, args...)
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// KindOf returns the kind of err, or 0 when err is not a store error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusCode returns the HTTP status for err: 200 for nil, the carried
// status for store errors and 500 otherwise.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}
