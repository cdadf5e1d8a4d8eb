// Package diag defines the typed error kinds the planning pipeline can
// fail with (spec §7). Every stage wraps the underlying cause with
// github.com/pkg/errors so a diagnostic printed at the process boundary
// retains the full causal chain, the same way moby's daemon package
// annotates errors as they cross subsystem boundaries.
package diag

import "fmt"

// Kind is one of the five error categories spec.md §7 enumerates.
type Kind int

const (
	// ConfigError covers capacity below the 4-page minimum, inconsistent
	// page_shift/page_size, or out-of-range widths.
	ConfigError Kind = iota
	// FormatError covers a truncated program file, bad magic, or a
	// malformed annotation record.
	FormatError
	// AllocError covers virtual address space exhaustion or the Placer
	// being asked to evict from an empty priority index.
	AllocError
	// IoError covers underlying file-system failures.
	IoError
	// UsageError covers DSL-level misuse: mutating an invalid sliced
	// handle, exceeding operand bit-widths, using a recycled value.
	UsageError
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case FormatError:
		return "FormatError"
	case AllocError:
		return "AllocError"
	case IoError:
		return "IoError"
	case UsageError:
		return "UsageError"
	default:
		return "UnknownError"
	}
}

// Error is a pipeline diagnostic carrying a Kind alongside its message.
// Stages never recover from one: on any Error the pipeline emits a
// single human-readable diagnostic and terminates with a non-zero exit
// code (spec §7, "Propagation").
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err if it (or something it wraps) is a
// *diag.Error, defaulting to IoError for anything else — any error that
// escapes this package's own typed errors must have come from the
// filesystem, since every other failure mode is typed deliberately.
func KindOf(err error) Kind {
	var de *Error
	if ok := asError(err, &de); ok {
		return de.Kind
	}
	return IoError
}

// asError is a small shim over errors.As kept local to avoid importing
// the standard "errors" package purely for this one call site; stage
// code elsewhere in the module uses github.com/pkg/errors directly.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
