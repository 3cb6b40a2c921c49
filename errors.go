package taskwire

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a synchronization failure.
type ErrorKind string

const (
	// KindTransport means an operation needed an open connection and none
	// existed. Recoverable; a reconnect attempt is triggered as a side effect.
	KindTransport ErrorKind = "transport_unavailable"
	// KindRequest means a remote call was rejected or failed outright.
	KindRequest ErrorKind = "request_failed"
	// KindNotFound means a mutation referenced an id absent from the
	// authoritative store.
	KindNotFound ErrorKind = "not_found"
	// KindMalformed means an inbound payload failed to parse. The frame is
	// dropped and the connection retained.
	KindMalformed ErrorKind = "malformed_frame"
)

// SyncError represents a classified, recoverable synchronization failure.
// None of these are fatal: each is converted into observable state (an error
// string, a rollback) at the component boundary.
type SyncError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new sync error.
func NewError(kind ErrorKind, message string) *SyncError {
	return &SyncError{Kind: kind, Message: message}
}

// WrapError creates a new sync error wrapping an existing error.
func WrapError(kind ErrorKind, message string, cause error) *SyncError {
	return &SyncError{Kind: kind, Message: message, Cause: cause}
}

// ErrNotConnected is returned by Conn.Send when no transport is open.
var ErrNotConnected = NewError(KindTransport, "not connected")

// ErrBlankMessage is returned when a user message is empty or whitespace.
var ErrBlankMessage = errors.New("blank message")

// ErrBusy is returned when a user message is sent while another is in flight.
var ErrBusy = errors.New("a message is already in flight")

// ErrRequestFailed returns a request failure wrapping cause.
func ErrRequestFailed(cause error) *SyncError {
	return WrapError(KindRequest, "request failed", cause)
}

// ErrTaskNotFound returns a not-found error for the given task id.
func ErrTaskNotFound(id int64) *SyncError {
	return NewError(KindNotFound, fmt.Sprintf("task %d not found", id))
}

// KindOf returns the ErrorKind of err, or the empty string when err is not a
// SyncError.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
