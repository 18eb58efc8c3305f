// Package jerrors defines the typed error taxonomy shared by the layout,
// barcode, demultiplex and markduplicates packages (see spec.md §7).
package jerrors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind identifies one of the fixed error categories from §7.
type Kind int

const (
	// InvalidLayout: malformed layout descriptor; fatal, pre-flight.
	InvalidLayout Kind = iota
	// InvalidBarcodeTable: structural or semantic violation in the expected-barcode input; fatal, pre-flight.
	InvalidBarcodeTable
	// StreamMisaligned: parallel input streams desynchronised; fatal, mid-run.
	StreamMisaligned
	// TruncatedRead: a record is shorter than its layout requires; not fatal.
	TruncatedRead
	// UmiSlotLengthMismatch: a sampled UMI slot doesn't match the expected-UMI length; fatal, pre-flight.
	UmiSlotLengthMismatch
	// ResourceExhausted: spill directory full, too many open files; fatal with preserved partial state.
	ResourceExhausted
	// IoError: wraps underlying I/O failures; fatal at first occurrence.
	IoError
)

func (k Kind) String() string {
	switch k {
	case InvalidLayout:
		return "InvalidLayout"
	case InvalidBarcodeTable:
		return "InvalidBarcodeTable"
	case StreamMisaligned:
		return "StreamMisaligned"
	case TruncatedRead:
		return "TruncatedRead"
	case UmiSlotLengthMismatch:
		return "UmiSlotLengthMismatch"
	case ResourceExhausted:
		return "ResourceExhausted"
	case IoError:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrappable error carrying one of the Kind values above.
// It implements Unwrap so that errors.Is/errors.As work regardless of the
// version of github.com/pkg/errors used to build the wrapped cause (the
// teacher's pinned v0.8.1 predates pkg/errors' own Unwrap support).
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and a message to an existing error, using
// github.com/pkg/errors to capture a stack-annotated cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind: kind,
		msg:  fmt.Sprintf(format, args...),
		err:  pkgerrors.WithStack(err),
	}
}

// Sentinel returns a comparable *Error value suitable for errors.Is checks,
// e.g. errors.Is(err, jerrors.Sentinel(jerrors.TruncatedRead)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
