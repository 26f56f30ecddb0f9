// Package apferr defines the error taxonomy shared by every snapm
// subsystem: the Manager, BootIntegration, Scheduler and the filesystem
// diff engine all fail with exactly one Code, optionally wrapping a cause.
package apferr

import (
	"fmt"
	"time"
)

// Code identifies the distinct kind of failure a snapm operation raised.
type Code string

const (
	// Argument marks malformed input: a bad name, invalid calendar spec,
	// or conflicting flags.
	Argument Code = "ARGUMENT"

	// InvalidIdentifier marks a lookup constraint violation: name and
	// UUID disagree, or a duplicate source was supplied.
	InvalidIdentifier Code = "INVALID_IDENTIFIER"

	// NotFound marks a missing object: no match for a Selection, a
	// missing file, a missing boot entry.
	NotFound Code = "NOT_FOUND"

	// Exists marks a name collision on create or rename.
	Exists Code = "EXISTS"

	// Busy marks a resource already in use: mounted, reverting, or the
	// manager singleton lock is held.
	Busy Code = "BUSY"

	// NoSpace marks a capacity check failure.
	NoSpace Code = "NO_SPACE"

	// NoProvider marks that no plugin claims a source.
	NoProvider Code = "NO_PROVIDER"

	// SizePolicy marks a malformed or impossible size policy.
	SizePolicy Code = "SIZE_POLICY"

	// State marks that a set is Invalid or Reverting and the requested
	// operation requires otherwise.
	State Code = "STATE"

	// Recursion marks an attempted snapshot-of-snapshot.
	Recursion Code = "RECURSION"

	// Path marks a path that is neither a mount point nor a block
	// device.
	Path Code = "PATH"

	// Plugin marks a plugin-level failure that left the system in a
	// handled partial state.
	Plugin Code = "PLUGIN"

	// Callout marks an external command that failed unexpectedly.
	Callout Code = "CALLOUT"

	// Mount marks a mount-subsystem specific failure.
	Mount Code = "MOUNT"

	// Umount marks an unmount-subsystem specific failure.
	Umount Code = "UMOUNT"

	// Timer marks a timer-subsystem specific failure.
	Timer Code = "TIMER"

	// System marks an environment or resource failure: memory
	// threshold exceeded, file system permissions.
	System Code = "SYSTEM"
)

// Error is the concrete error type returned by every snapm operation that
// can fail. It carries exactly one Code plus an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New constructs an *Error with the given code and message and no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error with the given code and message, wrapping
// cause. If cause is nil, Wrap behaves like New.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Errorf constructs an *Error with a formatted message and no cause.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err carries the given Code, unwrapping nested
// *Error values as needed.
func Is(err error, code Code) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			if ae.Code == code {
				return true
			}
			err = ae.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// LockInfo describes the process currently holding the snapm manager
// lock. It is wrapped by a Busy error so a caller can report which PID
// to investigate, mirroring the original manager's lock-holder
// diagnostics on a failed acquisition.
type LockInfo struct {
	PID      int
	Acquired time.Time
}

func (l LockInfo) Error() string {
	if l.PID == 0 {
		return "lock held by another process"
	}
	return fmt.Sprintf("lock held by pid %d since %s", l.PID, l.Acquired.Format(time.RFC3339))
}

// CodeOf returns the Code carried by err, or "" if err is not (or does
// not wrap) an *Error.
func CodeOf(err error) Code {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae.Code
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
