// Package errors provides a structured error type with wrapping and metadata
package errors

// Always import the project errors package as perr (platform/errors)

import (
	stderrs "errors"
	"fmt"
)

// ErrorCode defines the error kinds produced by the scan, export, and
// parent-resolution pipelines. Values are stable within a run; add sparingly
type ErrorCode uint16

const (
	// ErrorCodeUnknown is for unclassified errors
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodeConfiguration covers bad paths, bad ranges, unknown fields.
	// Fatal, surfaced immediately
	ErrorCodeConfiguration

	// ErrorCodeDiscovery covers a missing base directory or source subdir.
	// Fatal unless the requested window's file set is legitimately empty
	ErrorCodeDiscovery

	// ErrorCodeIOTransient covers I/O failures worth retrying per the
	// configured backoff policy
	ErrorCodeIOTransient

	// ErrorCodeIOPermanent covers I/O failures that exhausted retries.
	// Recorded against the offending file; the scan continues
	ErrorCodeIOPermanent

	// ErrorCodeDecode covers zstd frame errors and JSON parse failures
	ErrorCodeDecode

	// ErrorCodeCancelled covers cooperative cancellation. Propagates up
	// immediately once in-flight work has drained
	ErrorCodeCancelled

	// ErrorCodeMemoryPressure covers throttle exhaustion: usage could not
	// be brought below the high watermark after the configured interval budget
	ErrorCodeMemoryPressure
)

// String renders the error kind name, used in log fields and exit reporting
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeConfiguration:
		return "configuration"
	case ErrorCodeDiscovery:
		return "discovery"
	case ErrorCodeIOTransient:
		return "io_transient"
	case ErrorCodeIOPermanent:
		return "io_permanent"
	case ErrorCodeDecode:
		return "decode"
	case ErrorCodeCancelled:
		return "cancelled"
	case ErrorCodeMemoryPressure:
		return "memory_pressure"
	default:
		return "unknown"
	}
}

// Error is the structured error type with wrapping and metadata
// msg is human/developer facing; code is machine facing
// field is optional (for validation-style reporting); op is optional operation tag
// orig is the wrapped cause
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	field string
	op    string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Field returns the offending field, if any
func (e *Error) Field() string { return e.field }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// Root returns the deepest wrapped cause
func Root(err error) error {
	for err != nil {
		u := stderrs.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
	return nil
}

// CodeOf extracts an ErrorCode from any error, defaulting to Unknown
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err has the given code
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Mutators (copy-on-write)

// WithField attaches a field to an *Error (copy-on-write). If err isn't *Error, returns err unchanged
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

// WithOp attaches an operation label to an *Error (copy-on-write). If err isn't *Error, returns err unchanged
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// WithFieldChain sets field on *Error or wraps a foreign error into an *Error with Unknown code (copy-on-write)
func WithFieldChain(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return &Error{code: ErrorCodeUnknown, msg: err.Error(), field: field, orig: err}
}

// Constructors

// New returns a new *Error with the given code and message
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with code and formatted message
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WrapIf wraps only when err != nil (helper for 1-liners)
func WrapIf(err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, msg)
}

// Sugar

// Configurationf returns a configuration error
func Configurationf(format string, a ...any) error { return Newf(ErrorCodeConfiguration, format, a...) }

// Discoveryf returns a discovery error
func Discoveryf(format string, a ...any) error { return Newf(ErrorCodeDiscovery, format, a...) }

// IOTransientf wraps orig as a transient I/O error
func IOTransientf(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeIOTransient, format, a...)
}

// IOPermanentf wraps orig as a permanent I/O error
func IOPermanentf(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeIOPermanent, format, a...)
}

// Decodef wraps orig as a decode error (zstd frame or JSON parse)
func Decodef(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeDecode, format, a...)
}

// Cancelledf returns a cancellation error
func Cancelledf(format string, a ...any) error { return Newf(ErrorCodeCancelled, format, a...) }

// MemoryPressuref returns a memory-pressure-exhaustion error
func MemoryPressuref(format string, a ...any) error {
	return Newf(ErrorCodeMemoryPressure, format, a...)
}

// Retry semantics

// Retryable reports whether the error is worth retrying under the configured
// backoff policy. Delegates to OS/syscall-level classification in oserr.go
// and honors an explicit ErrorCodeIOTransient/ErrorCodeIOPermanent classification
// if the error already carries one
func Retryable(err error) bool {
	if e, ok := As(err); ok {
		switch e.code {
		case ErrorCodeIOTransient:
			return true
		case ErrorCodeIOPermanent, ErrorCodeCancelled, ErrorCodeConfiguration, ErrorCodeDiscovery:
			return false
		}
	}
	return IsRetryable(Root(err))
}
