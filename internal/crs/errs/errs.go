// Package errs defines the error taxonomy crs propagates out of its
// library layers. Library code never writes to stderr; it returns values
// carrying a chain of contextual notes, and only cmd/crs formats and prints.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for exit-code mapping and CLI presentation.
type Kind int

const (
	// KindUserInput covers malformed commands, unknown flags, bad manifests.
	KindUserInput Kind = iota
	// KindResolution covers unsatisfiable requirements; carries the unsat core.
	KindResolution
	// KindIntegrity covers hash mismatches, corrupt archives, migration failure.
	KindIntegrity
	// KindTransport covers network/HTTP failure after retries, filesystem I/O failure.
	KindTransport
	// KindBuildFailure covers non-zero compiler/linker exit.
	KindBuildFailure
	// KindTestFailure covers non-zero test-binary exit.
	KindTestFailure
	// KindCancelled covers external termination requests.
	KindCancelled
	// KindInternal covers invariant violations — these are bugs.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUserInput:
		return "user input"
	case KindResolution:
		return "resolution"
	case KindIntegrity:
		return "integrity"
	case KindTransport:
		return "transport"
	case KindBuildFailure:
		return "build failure"
	case KindTestFailure:
		return "test failure"
	case KindCancelled:
		return "cancelled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ExitCode maps a Kind to the process exit code a CLI boundary should use.
func (k Kind) ExitCode() int {
	switch k {
	case KindUserInput, KindResolution:
		return 1
	case KindBuildFailure, KindTestFailure:
		return 2
	case KindIntegrity, KindTransport, KindInternal:
		return 3
	case KindCancelled:
		return 130
	default:
		return 1
	}
}

// Error is the value crs passes up through its layers. Note is what the
// layer that raised or wrapped the error was doing when it happened;
// successive wraps each add one note, innermost first.
type Error struct {
	Kind  Kind
	Note  string
	Cause error

	// UnsatCore names the root requirements that could not be jointly
	// satisfied. Only set for KindResolution.
	UnsatCore []string
	// DidYouMean carries closest-name suggestions for an unresolved name.
	DidYouMean []string
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Note
	}
	return fmt.Sprintf("%s: %v", e.Note, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a fresh Error with no cause.
func New(kind Kind, note string) *Error {
	return &Error{Kind: kind, Note: note}
}

// Wrap attaches note to cause, inferring cause's Kind if it is itself an
// *Error, defaulting to KindInternal otherwise.
func Wrap(cause error, note string) *Error {
	if cause == nil {
		return &Error{Kind: KindInternal, Note: note}
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return &Error{Kind: existing.Kind, Note: note, Cause: cause}
	}
	return &Error{Kind: KindInternal, Note: note, Cause: cause}
}

// WrapKind attaches note to cause with an explicit Kind, overriding any
// Kind the cause may already carry. Used at boundaries where a generic
// error (e.g. from the standard library) takes on domain meaning.
func WrapKind(kind Kind, cause error, note string) *Error {
	return &Error{Kind: kind, Note: note, Cause: cause}
}

// KindOf reports the Kind of err, defaulting to KindInternal if err does
// not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Resolution builds a KindResolution error carrying the minimal unsat core
// and did-you-mean suggestions produced by the solver.
func Resolution(note string, unsatCore, didYouMean []string) *Error {
	return &Error{Kind: KindResolution, Note: note, UnsatCore: unsatCore, DidYouMean: didYouMean}
}
