package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. Callers use the kind to decide
// whether a retry can help: only Transient failures are retryable, and the
// retry decision belongs to callers that can reason about idempotency.
type ErrorKind string

// Engine error kinds.
const (
	KindTransient  ErrorKind = "transient"
	KindPermanent  ErrorKind = "permanent"
	KindPermission ErrorKind = "permission"
	KindTimeout    ErrorKind = "timeout"
	KindNotFound   ErrorKind = "not_found"
)

// Error wraps an engine failure with its classification and operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified engine error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the error kind, defaulting to Permanent for errors that
// did not originate in the adapter. Context deadline failures map to Timeout.
func KindOf(err error) ErrorKind {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindPermanent
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
