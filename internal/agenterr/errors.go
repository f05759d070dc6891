// Package agenterr defines the sum-typed error carried through the agent,
// per spec.md §7's error taxonomy.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds spec.md §7 names.
type Kind string

const (
	KindFileSys            Kind = "file_sys"
	KindCrypt              Kind = "crypt"
	KindHTTPTransient      Kind = "http_transient"
	KindHTTPPermanent      Kind = "http_permanent"
	KindHTTPAuth           Kind = "http_auth"
	KindDeviceNotActivated Kind = "device_not_activated"
	KindCacheDirtyPressure Kind = "cache_dirty_pressure"
)

// Error is a sum-typed error carrying its kind, a location string, and the
// underlying cause. It composes via Wrap rather than unwinding.
type Error struct {
	Kind     Kind
	Location string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Location, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Location, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind at the given location.
func New(kind Kind, location, msg string) *Error {
	return &Error{Kind: kind, Location: location, Cause: errors.New(msg)}
}

// Wrap attaches a trace entry (location) to cause and tags it with kind.
// The new Error always carries kind; if cause is itself an *Error, its own
// kind stays reachable through Unwrap, but Is reports the outermost kind.
func Wrap(kind Kind, location string, cause error) *Error {
	return &Error{Kind: kind, Location: location, Cause: cause}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
