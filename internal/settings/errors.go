package settings

import (
	"errors"
)

// Errors returned by settings operations. Contract violations are also
// logged at error level with the same message.
var (
	// ErrNotInstalled indicates the schema id is unknown to the source.
	ErrNotInstalled = errors.New("schema not installed")

	// ErrNoPath indicates a relocatable schema was used without a path.
	ErrNoPath = errors.New("relocatable schema requires a path")

	// ErrWrongPath indicates a path that differs from the schema's fixed path.
	ErrWrongPath = errors.New("path does not match schema")

	// ErrInvalidPath indicates a malformed path.
	ErrInvalidPath = errors.New("invalid path")

	// ErrUnknownKey indicates the key is not declared by the schema.
	ErrUnknownKey = errors.New("unknown key")

	// ErrUnknownChild indicates the child is not declared by the schema.
	ErrUnknownChild = errors.New("unknown child")

	// ErrTypeMismatch indicates a value or request of the wrong type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrOutOfRange indicates a value outside the key's constraint.
	ErrOutOfRange = errors.New("value out of range")

	// ErrNotEnum indicates an enum accessor on a key without an enum type.
	ErrNotEnum = errors.New("key is not an enum")

	// ErrNotFlags indicates a flags accessor on a key without a flags type.
	ErrNotFlags = errors.New("key is not a flags type")

	// ErrInvalidValue indicates an enum or flags value with no nick.
	ErrInvalidValue = errors.New("invalid value")

	// ErrNotWritable indicates the backend refused the key.
	ErrNotWritable = errors.New("key is not writable")

	// ErrApplyFailed indicates pending changes could not be committed.
	ErrApplyFailed = errors.New("apply failed")

	// ErrNotDelayed indicates an apply or revert on a direct instance.
	ErrNotDelayed = errors.New("settings not in delay-apply mode")
)

// Error describes a failed settings operation.
type Error struct {
	// Schema is the schema id.
	Schema string

	// Key is the key name, if the failure concerns one key.
	Key string

	// Message is the diagnostic text.
	Message string

	// Err is the sentinel classifying the failure.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the classifying sentinel.
func (e *Error) Unwrap() error {
	return e.Err
}
