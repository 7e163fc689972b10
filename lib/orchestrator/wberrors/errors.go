// Package wberrors defines the orchestrator's neutral error taxonomy
// (§7 of the workspace-orchestrator spec) and maps each kind onto an
// HTTP status, the way sdk/go/httpserver's errorWithStatus maps a
// wrapped error onto HTTPStatus() in the teacher repo.
package wberrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the neutral error categories a caller can branch on
// without inspecting transport-specific codes.
type Kind string

const (
	NotAuthenticated  Kind = "NotAuthenticated"
	NotFound          Kind = "NotFound"
	Conflict          Kind = "Conflict"
	NoCapacity        Kind = "NoCapacity"
	BadInstance       Kind = "BadInstance"
	TransientUpstream Kind = "TransientUpstream"
	PermissionDenied  Kind = "PermissionDenied"
	Fatal             Kind = "Fatal"
)

// httpStatus is the HTTP status for each kind when the error crosses
// the service boundary. NoCapacity maps to 202, since it is a "try
// again" signal rather than a failure; /machines/allocate itself
// reports a warm-pool miss through AllocationOutcome.Processing, not
// through this kind.
var httpStatus = map[Kind]int{
	NotAuthenticated:  http.StatusUnauthorized,
	NotFound:          http.StatusNotFound,
	Conflict:          http.StatusConflict,
	NoCapacity:        http.StatusAccepted,
	BadInstance:       http.StatusBadGateway,
	TransientUpstream: http.StatusServiceUnavailable,
	PermissionDenied:  http.StatusForbidden,
	Fatal:             http.StatusInternalServerError,
}

// HTTPStatus maps kind onto the HTTP status the service layer should
// respond with.
func (k Kind) HTTPStatus() int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a Kind-tagged error. It wraps an underlying cause so
// errors.Is/errors.As and %w formatting keep working.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus implements the same interface sdk/go/httpserver's
// errorWithStatus implements in the teacher repo.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err, defaulting to Fatal for errors that
// were never classified -- an unclassified error reaching the service
// boundary is itself a bug worth surfacing as Fatal rather than
// silently downgrading to some milder kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
