// Package vpcerr defines the error taxonomy from spec §7 and the exit
// code each kind maps to.
package vpcerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error classes from spec §7.
type Kind int

const (
	// Unspecified covers anything not classified below.
	Unspecified Kind = iota
	// Validation covers bad input: malformed CIDR, overlap, unknown enum value.
	Validation
	// NotFound covers a missing VPC/subnet/peering.
	NotFound
	// Conflict covers an already-used name or an already-existing peering.
	Conflict
	// Driver covers an unexpected kernel/driver failure.
	Driver
	// Lock covers advisory-lock acquisition failure.
	Lock
	// IO covers Store read/write failure.
	IO
)

// Error is a classified error carrying an underlying cause.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

// Unwrap exposes the underlying cause for errors.As/errors.Is.
func (e *Error) Unwrap() error {
	return e.err
}

// ExitCode returns the process exit code for this error's kind (§6.1, §7).
func (e *Error) ExitCode() int {
	switch e.Kind {
	case Validation, NotFound, Conflict:
		return 2
	case Driver, IO:
		return 3
	case Lock:
		return 4
	default:
		return 1
	}
}

func newf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...interface{}) *Error {
	return newf(Validation, nil, format, args...)
}

// NotFoundf builds a NotFoundError.
func NotFoundf(format string, args ...interface{}) *Error {
	return newf(NotFound, nil, format, args...)
}

// Conflictf builds a ConflictError.
func Conflictf(format string, args ...interface{}) *Error {
	return newf(Conflict, nil, format, args...)
}

// Driverf builds a DriverError wrapping the underlying driver failure.
func Driverf(err error, format string, args ...interface{}) *Error {
	return newf(Driver, err, format, args...)
}

// Lockf builds a LockError.
func Lockf(err error, format string, args ...interface{}) *Error {
	return newf(Lock, err, format, args...)
}

// IOf builds an IOError wrapping the underlying I/O failure.
func IOf(err error, format string, args ...interface{}) *Error {
	return newf(IO, err, format, args...)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == NotFound
	}
	return false
}
