// Package errs defines the structured error taxonomy shared by the
// directory, router, and transport layers.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	Other Kind = iota
	DuplicateEntry
	NotFound
	InvalidArgument
	AlreadyActive
	ProtocolNotActive
	SignatureRejected
	TransportError
	TooLarge
)

func (k Kind) String() string {
	switch k {
	case DuplicateEntry:
		return "duplicate entry"
	case NotFound:
		return "not found"
	case InvalidArgument:
		return "invalid argument"
	case AlreadyActive:
		return "already active"
	case ProtocolNotActive:
		return "protocol not active"
	case SignatureRejected:
		return "signature rejected"
	case TransportError:
		return "transport error"
	case TooLarge:
		return "too large"
	default:
		return "error"
	}
}

// Error wraps a Kind, the operation that failed, and an optional
// underlying cause.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error for the given kind, operation, and cause (cause
// may be nil).
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether err carries the given kind anywhere in its chain.
// Usage: errs.Is(err, errs.NotFound).
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}
