package schema

import (
	"errors"
	"fmt"
)

// Errors returned by schema operations.
var (
	// ErrNotFound indicates a schema directory or compiled file does not exist.
	// Errors carrying it also match fs.ErrNotExist.
	ErrNotFound = errors.New("schema source not found")

	// ErrCorrupt indicates a compiled schema file could not be parsed.
	ErrCorrupt = errors.New("schema source is corrupt")

	// ErrInvalidSchema indicates a schema definition is inconsistent.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrNotInstalled indicates a schema id is not known to a source.
	ErrNotInstalled = errors.New("schema not installed")
)

// DefinitionError describes a problem with one key or schema definition.
type DefinitionError struct {
	// Schema is the schema id.
	Schema string
	// Key is the key name, empty for schema-level problems.
	Key string
	// Message describes what's wrong.
	Message string
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("schema '%s': %s", e.Schema, e.Message)
	}
	return fmt.Sprintf("key '%s' in schema '%s': %s", e.Key, e.Schema, e.Message)
}

// Is makes DefinitionError match ErrInvalidSchema.
func (e *DefinitionError) Is(target error) bool {
	return target == ErrInvalidSchema
}
