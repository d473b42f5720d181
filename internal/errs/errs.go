// Package errs defines the error-kind taxonomy the driver uses to pick
// an exit code, mirroring the kinds laid out for the dispatch engine:
// configuration, backend, pattern, extraction, dispatch and cancellation
// failures each propagate differently.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the purpose of exit-code selection and
// propagation policy. See the Driver for how each Kind is handled.
type Kind int

const (
	// Configuration errors abort before any extraction: bad YAML shape,
	// unknown tool name, unknown extra-arg key, undecodable template.
	Configuration Kind = iota
	// Backend errors come from the Image Backend Adapter: image open,
	// partition listing, content extraction.
	Backend
	// Pattern errors are diagnostic-only: a -f pattern matched nothing.
	Pattern
	// Extraction errors are host I/O failures while materializing an entry.
	Extraction
	// Dispatch errors are non-zero tool exits not covered by allow_fail.
	Dispatch
	// Cancelled marks a user-requested interruption.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Backend:
		return "backend"
	case Pattern:
		return "pattern"
	case Extraction:
		return "extraction"
	case Dispatch:
		return "dispatch"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so callers can recover it
// with As and the Driver can pick the matching exit code.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a Kind-tagged error from a format string, wrapping with
// pkg/errors so callers further up still get a stack trace on %+v.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving its message and
// adding the call-site context the way pkg/errors.Wrap does.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, message)}
}

// Wrapf is Wrap with a format string.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrapf(err, format, args...)}
}

// KindOf extracts the Kind from err, defaulting to Backend (the catch-all
// for unexpected library failures) if err was never tagged.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return Backend
}

// ExitCode maps a Kind to the process exit code from the CLI contract:
// 0 success, 2 configuration/usage, 3 backend unavailable, 4 uncaught
// tool failure, 130 user cancellation.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case Configuration:
		return 2
	case Backend:
		return 3
	case Dispatch:
		return 4
	case Cancelled:
		return 130
	default:
		return 1
	}
}
