// Package apperr defines the error kinds surfaced at component boundaries.
// Kinds are a taxonomy, not types: callers branch on Kind, humans read
// Message, and Remediation tells the caller the one thing to try next.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers.
type Kind string

// Error kinds.
const (
	Validation      Kind = "E_VALIDATION"
	Permission      Kind = "E_PERMISSION"
	Plan            Kind = "E_PLAN"
	Budget          Kind = "E_BUDGET"
	Backpressure    Kind = "E_BACKPRESSURE"
	CircuitOpen     Kind = "E_CIRCUIT_OPEN"
	EngineTransient Kind = "E_ENGINE_TRANSIENT"
	EnginePermanent Kind = "E_ENGINE_PERMANENT"
	Invariant       Kind = "E_INVARIANT"
	ContractDrift   Kind = "E_CONTRACT_DRIFT"
)

// Error carries a kind, a human message and a single remediation hint.
type Error struct {
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	Err         error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, message, remediation string) *Error {
	return &Error{Kind: kind, Message: message, Remediation: remediation}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, message, remediation string, err error) *Error {
	return &Error{Kind: kind, Message: message, Remediation: remediation, Err: err}
}

// KindOf extracts the kind from err, or EnginePermanent when err carries no
// classification.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return EnginePermanent
}
