// Package driver defines the contract every memory-access backend
// (Xen, KVM, file) implements, and the small sentinel-error taxonomy
// shared across them.
package driver

import "errors"

// Sentinel errors, one per spec.md §7 taxonomy bucket. Callers use
// errors.Is against these, never string matching.
var (
	// ErrInitFailure means the backend could not be opened: bad id/name,
	// or the control channel is unreachable.
	ErrInitFailure = errors.New("driver: init failure")
	// ErrUnsupported means the backend does not implement the requested
	// operation, or the register is outside the backend's subset.
	ErrUnsupported = errors.New("driver: unsupported")
	// ErrAccessFailure means a mapping or register fetch was denied by
	// the hypervisor.
	ErrAccessFailure = errors.New("driver: access failure")
	// ErrConflict means an event is already registered at that key, or
	// an access-mode combination was invalid.
	ErrConflict = errors.New("driver: conflict")
	// ErrNotFound means a clear was requested on a key with no
	// registration.
	ErrNotFound = errors.New("driver: not found")
)
