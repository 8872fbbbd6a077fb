package bank

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// StorageUnavailable means a file open, lock or I/O call failed.
	StorageUnavailable Kind = iota + 1
	NotFound
	// InvalidInput is reported before any lock is taken.
	InvalidInput
	// PreconditionFailed means the record changed between scan and lock, or is
	// not in the state the operation needs.
	PreconditionFailed
	InsufficientFunds
	SessionConflict
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case StorageUnavailable:
		return "storage unavailable"
	case NotFound:
		return "not found"
	case InvalidInput:
		return "invalid input"
	case PreconditionFailed:
		return "precondition failed"
	case InsufficientFunds:
		return "insufficient funds"
	case SessionConflict:
		return "session conflict"
	case Unauthorized:
		return "unauthorized"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned by every Bank operation. Msg is safe to show
// to the person at the terminal; Err carries the underlying cause for the log.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Msg
	if s == "" {
		s = e.Kind.String()
	}
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound) works
// regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

var (
	ErrStorage           = &Error{Kind: StorageUnavailable}
	ErrNotFound          = &Error{Kind: NotFound}
	ErrInvalidInput      = &Error{Kind: InvalidInput}
	ErrPrecondition      = &Error{Kind: PreconditionFailed}
	ErrInsufficientFunds = &Error{Kind: InsufficientFunds}
	ErrSessionConflict   = &Error{Kind: SessionConflict}
	ErrUnauthorized      = &Error{Kind: Unauthorized}
)

// KindOf returns the Kind of err, or 0 when err is not a bank error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Msg != "" {
		return be.Msg
	}
	return "Database error."
}

func newErr(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func storageErr(op string, err error) *Error {
	return &Error{Kind: StorageUnavailable, Op: op, Msg: "Database error.", Err: err}
}
