package model

import "errors"

// Domain error kinds surfaced to the consuming layer.
var (
	// ErrNotFound is returned by point lookups on a missing id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidReference is returned when an operation is attempted with an
	// empty or blank id, usually a stale or incompletely synced reference.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrTransientSync wraps failures of the underlying document store.
	ErrTransientSync = errors.New("transient sync failure")

	// ErrLocalStorage wraps failures of device-local persistence. Identity
	// depends on it, so callers treat it as fatal.
	ErrLocalStorage = errors.New("local storage failure")

	// ErrNotPermitted is returned when the acting user may not perform the
	// requested reservation change.
	ErrNotPermitted = errors.New("not permitted")
)

// IsNotFoundLike reports whether err should be presented as "not found" by a
// caller that does not distinguish missing documents from fetch failures.
func IsNotFoundLike(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransientSync)
}
