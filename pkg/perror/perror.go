// Package perror provides structured error types for the proxy core.
package perror

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind represents the category of error that occurred, per the core's
// error taxonomy.
type Kind string

const (
	// KindConfigInvalid is fatal, raised at startup only.
	KindConfigInvalid Kind = "config_invalid"
	// KindBindFailed is fatal, raised by a Listener before it can accept.
	KindBindFailed Kind = "bind_failed"
	// KindMalformedRequest is per-connection; surfaced as 400 in HTTP mode.
	KindMalformedRequest Kind = "malformed_request"
	// KindMissingRoutingParams is per-connection; surfaced as 400.
	KindMissingRoutingParams Kind = "missing_routing_params"
	// KindDialTimeout is per-connection; surfaced as 504 (HTTP) or a dropped
	// connection (TCP).
	KindDialTimeout Kind = "dial_timeout"
	// KindDialRefused is per-connection; surfaced as 502 (HTTP) or a dropped
	// connection (TCP).
	KindDialRefused Kind = "dial_refused"
	// KindAdmissionSaturated is per-connection; surfaced as 503 (HTTP) or an
	// immediate close (TCP).
	KindAdmissionSaturated Kind = "admission_saturated"
	// KindRelayIOError is per-connection; the close event's outcome is
	// io_error.
	KindRelayIOError Kind = "relay_io_error"
	// KindCancelled is per-connection; the close event's outcome is
	// cancelled.
	KindCancelled Kind = "cancelled"
)

// Error is a structured error carrying the failed operation, target, and
// underlying cause, keyed to the proxy's own error taxonomy.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Cause     error
	RouteName string
	Addr      string
	Timestamp time.Time
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s]", e.Kind)
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.RouteName != "" {
		s += " route=" + e.RouteName
	}
	if e.Addr != "" {
		s += " " + e.Addr
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func new(kind Kind, op, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewConfigInvalid builds a config_invalid error.
func NewConfigInvalid(message string, cause error) *Error {
	return new(KindConfigInvalid, "load", message, cause)
}

// NewBindFailed builds a bind_failed error for the named route/address.
func NewBindFailed(routeName, addr string, cause error) *Error {
	e := new(KindBindFailed, "bind", "failed to bind listener", cause)
	e.RouteName = routeName
	e.Addr = addr
	return e
}

// NewMalformedRequest builds a malformed_request error.
func NewMalformedRequest(message string, cause error) *Error {
	return new(KindMalformedRequest, "parse", message, cause)
}

// NewMissingRoutingParams builds a missing_routing_params error.
func NewMissingRoutingParams() *Error {
	return new(KindMissingRoutingParams, "route", "missing porty_host and porty_port parameters", nil)
}

// NewDialTimeout builds a dial_timeout error for the given target address.
func NewDialTimeout(addr string, cause error) *Error {
	e := new(KindDialTimeout, "dial", "backend connection timeout", cause)
	e.Addr = addr
	return e
}

// NewDialRefused builds a dial_refused error for the given target address.
func NewDialRefused(addr string, cause error) *Error {
	e := new(KindDialRefused, "dial", "backend connection failed after retries", cause)
	e.Addr = addr
	return e
}

// NewAdmissionSaturated builds an admission_saturated error for routeName.
func NewAdmissionSaturated(routeName string) *Error {
	e := new(KindAdmissionSaturated, "admit", "connection limit reached", nil)
	e.RouteName = routeName
	return e
}

// NewRelayIOError builds a relay_io_error for the given direction.
func NewRelayIOError(direction string, cause error) *Error {
	return new(KindRelayIOError, direction, "relay i/o error", cause)
}

// NewCancelled builds a cancelled error.
func NewCancelled() *Error {
	return new(KindCancelled, "cancel", "connection cancelled", context.Canceled)
}

// KindOf returns the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTimeout reports whether err is a dial_timeout error, directly or via a
// net.Error/context deadline.
func IsTimeout(err error) bool {
	if KindOf(err) == KindDialTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
