// Package recerr defines the typed error taxonomy shared by the capture,
// pipeline, and orchestrator layers so callers can branch on failure kind
// without parsing error strings.
package recerr

import (
	"errors"
	"fmt"
)

// Kind classifies a recording failure by where and how it must be handled.
type Kind int

const (
	// Unknown is the zero value; never returned deliberately.
	Unknown Kind = iota
	// PlanInvalid marks a plan rejected at prepare time: duplicate
	// filenames, multiple screens, or an unresolvable device identifier.
	PlanInvalid
	// PermissionDenied marks a missing capture permission.
	PermissionDenied
	// SourceUnavailable marks a device that disconnected or a
	// display/window that could not be found.
	SourceUnavailable
	// FileCreateFailed marks a container writer that could not create
	// its output file.
	FileCreateFailed
	// WriterSetupFailed marks a container writer that could not be
	// configured for the negotiated video/audio settings.
	WriterSetupFailed
	// WriterAppendFailed marks an append that failed or a writer whose
	// status became failed mid-stream.
	WriterAppendFailed
	// StartTimeout marks a pipeline that did not receive a first frame
	// within the start window.
	StartTimeout
	// ExternalInterrupt marks a session stopped by an external signal
	// (not a source or writer failure).
	ExternalInterrupt
	// StateError marks an operation invoked out of sequence (e.g. start
	// called twice, append after finish).
	StateError
)

func (k Kind) String() string {
	switch k {
	case PlanInvalid:
		return "plan_invalid"
	case PermissionDenied:
		return "permission_denied"
	case SourceUnavailable:
		return "source_unavailable"
	case FileCreateFailed:
		return "file_create_failed"
	case WriterSetupFailed:
		return "writer_setup_failed"
	case WriterAppendFailed:
		return "writer_append_failed"
	case StartTimeout:
		return "start_timeout"
	case ExternalInterrupt:
		return "external_interrupt"
	case StateError:
		return "state_error"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Source is the name of the capture
// source or pipeline that raised it, when applicable.
type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and an originating source name.
func New(kind Kind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// Newf is New with a formatted message in place of a wrapped error.
func Newf(kind Kind, source, format string, args ...any) *Error {
	return &Error{Kind: kind, Source: source, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
