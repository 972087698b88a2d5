// Package errors augments the standard errors package with sentinel
// errors that can wrap a cause while still matching the sentinel with
// errors.Is.
//
// It also declares the error taxonomy shared by every git-big component.
package errors

import (
	stderr "errors"
)

var _ error = New("")

// New Error
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error is a sentinel error that can be wrapped around a cause.
//
// Wrap returns a copy: the sentinel itself is never mutated, so package level
// values remain safe to share.
type Error struct {
	msg  string
	err  error
	kind *Error
}

// Error message
func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error
func (e *Error) Wrap(err error) *Error {
	return &Error{msg: e.msg, err: err, kind: e.root()}
}

// Is of some error type?
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || e.root() == t
}

func (e *Error) root() *Error {
	if e.kind != nil {
		return e.kind
	}
	return e
}

// As finds the first error in err's chain that matches target
// (a shortcut to standard lib errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.Is)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}

var (
	// ErrIO indicates a filesystem operation failed for a single file.
	ErrIO = New("i/o error")

	// ErrDirtyFile indicates that materializing would overwrite a working
	// file that is not the expected symlink.
	ErrDirtyFile = New("dirty file conflict")

	// ErrDepotUnconfigured indicates that an operation needs a depot and none
	// is configured.
	ErrDepotUnconfigured = New(`no depot configured; run "git big set-depot"`)

	// ErrObjectMissing indicates that a digest could not be found in any tier.
	ErrObjectMissing = New("object missing")

	// ErrStaleIndexEntry indicates that the depot presence index claimed an
	// object the depot no longer has.
	ErrStaleIndexEntry = New("stale depot index entry")

	// ErrProtocol indicates a malformed filter protocol exchange.
	ErrProtocol = New("filter protocol error")

	// ErrUsage indicates a bad command invocation, such as an untracked path.
	ErrUsage = New("usage error")
)

var (
	// Sentinel errors returned by depot backends

	// ErrNotExists indicates that the fetched object does not exist on storage
	ErrNotExists = New("object doesn't exist")

	// ErrUnauthorized indicates that the credentials were rejected
	ErrUnauthorized = New("unauthorized")

	// ErrForbidden indicates that the backend API forbids access to the target resource
	ErrForbidden = New("forbidden")

	// ErrInvalidResource indicates that the storage resource has an invalid name
	ErrInvalidResource = New("invalid storage resource name")

	// ErrStorageAPI indicates any other storage API error
	ErrStorageAPI = New("storage API error")
)
