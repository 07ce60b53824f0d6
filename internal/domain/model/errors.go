package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the top-level failure category surfaced by the core.
type ErrorKind string

const (
	KindInput      ErrorKind = "input"      // Malformed key, PIN or empty field; detected before any I/O.
	KindValidation ErrorKind = "validation" // The remote service rejected the key or the account state.
	KindStorage    ErrorKind = "storage"    // The local credential store failed.
	KindTransport  ErrorKind = "transport"  // Network, timeout or non-2xx HTTP status.
	KindResponse   ErrorKind = "response"   // A 2xx response whose body could not be understood.
)

// Reason refines an ErrorKind for callers that present distinct guidance.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonFormat          Reason = "format"
	ReasonUnauthorized    Reason = "unauthorized"
	ReasonNegativeBalance Reason = "negative_balance"
	ReasonRateLimit       Reason = "rate_limit"
	ReasonTimeout         Reason = "timeout"
	ReasonNetwork         Reason = "network"
	ReasonServer          Reason = "server"
	ReasonNotFound        Reason = "not_found"
	ReasonMismatch        Reason = "mismatch"
	ReasonClosed          Reason = "closed"
	ReasonAlreadyEnrolled Reason = "already_enrolled"
)

// Error is the tagged error carried across the application boundary. Message is
// the user-facing text; Err, when present, is the underlying cause and is never shown
// to the user verbatim.
type Error struct {
	Kind    ErrorKind
	Reason  Reason
	Status  int // HTTP status for transport errors; 0 otherwise.
	Message string
	Err     error
}

// WithStatus sets the HTTP status and returns e.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// NewError builds an Error with the given kind, reason and user-facing message.
func NewError(kind ErrorKind, reason Reason, message string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: cause}
}

// Text returns the user-facing message, suffixed with the HTTP status when one is set.
func (e *Error) Text() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return e.Message
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Text()
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the Reason of the first *Error in err's chain, or ReasonNone.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}
