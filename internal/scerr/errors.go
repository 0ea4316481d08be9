// Package scerr defines the error taxonomy shared by every layer of the
// supercan host driver stack, from wire decoding up through the broker.
package scerr

import (
	"errors"
	"fmt"
)

// Kind is a coarse error category, independent of the operation that raised it.
type Kind string

const (
	KindInvalidParam       Kind = "invalid_param"
	KindOutOfMemory        Kind = "out_of_memory"
	KindDeviceBusy         Kind = "device_busy"
	KindDeviceUnsupported  Kind = "device_unsupported"
	KindDeviceFailure      Kind = "device_failure"
	KindGone               Kind = "gone"
	KindProtocolViolation  Kind = "protocol_violation"
	KindSequenceViolation  Kind = "sequence_violation"
	KindTimeout            Kind = "timeout"
	KindAccessDenied       Kind = "access_denied"
	KindAborted            Kind = "aborted"
	KindNoSolution         Kind = "no_solution"
)

// Error is the structured error carried across package boundaries. It
// supports errors.Is/As/Unwrap so callers can branch on Kind without string
// matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("supercan: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("supercan: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, or a bare Kind
// value compared by identity.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

func (k Kind) Error() string { return string(k) }

// New creates a new *Error with no wrapped cause.
func New(op string, kind Kind, msg string) *Error {
	var err error
	if msg != "" {
		err = errors.New(msg)
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap attaches op/kind context to an existing error. Wrapping nil returns nil.
func Wrap(op string, kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Of reports the Kind of err, or "" if err is nil or not a *Error.
func Of(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
