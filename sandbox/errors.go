package sandbox

import "errors"

// Sandbox errors. Returned errors wrap one of these; match with errors.Is.
var (
	// ErrLoadFailure is returned when a binary cannot be compiled or
	// instantiated.
	ErrLoadFailure = errors.New("sandbox: load failure")

	// ErrNotFound is returned when no function is exported under the
	// requested name.
	ErrNotFound = errors.New("sandbox: function not found")

	// ErrTypeMismatch is returned when an export does not have the
	// (i32, i32) -> i32 signature.
	ErrTypeMismatch = errors.New("sandbox: function signature mismatch")

	// ErrTrap is returned when guest execution faults.
	ErrTrap = errors.New("sandbox: trap")

	// ErrOutOfBounds is returned when a memory range falls outside the
	// module's linear memory.
	ErrOutOfBounds = errors.New("sandbox: memory access out of bounds")

	// ErrNoMemory is returned when the module exports no linear memory.
	ErrNoMemory = errors.New("sandbox: memory not found")

	// ErrClosed is returned by operations on a closed Module.
	ErrClosed = errors.New("sandbox: module closed")
)
