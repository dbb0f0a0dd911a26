package snapmongo

import (
	"errors"
	"fmt"
)

// Common errors used throughout the snapmongo packages
var (
	// ErrConfiguration is the parent of every error that must abort table initialization.
	ErrConfiguration = errors.New("configuration error")
	// ErrConfigValidation is returned when configuration validation fails
	ErrConfigValidation = fmt.Errorf("%w: configuration validation failed", ErrConfiguration)

	// Connection descriptor errors
	// ErrMissingURI indicates the store descriptor has no connection URI.
	ErrMissingURI = fmt.Errorf("%w: connection uri is required", ErrConfiguration)
	// ErrInvalidURI indicates the connection URI could not be parsed.
	ErrInvalidURI = fmt.Errorf("%w: illegal connection uri", ErrConfiguration)
	// ErrMissingDatabase indicates neither the URI nor the descriptor names a database.
	ErrMissingDatabase = fmt.Errorf("%w: database name is required", ErrConfiguration)

	// Schema and expression errors
	// ErrInvalidTableDefinition indicates a malformed table definition.
	ErrInvalidTableDefinition = fmt.Errorf("%w: invalid table definition", ErrConfiguration)
	// ErrUnknownAttribute indicates an expression or annotation references an attribute the table does not have.
	ErrUnknownAttribute = fmt.Errorf("%w: unresolvable attribute reference", ErrConfiguration)
	// ErrUnsupportedFunction indicates a function outside sum(), avg(), min(), max().
	ErrUnsupportedFunction = fmt.Errorf("%w: unsupported function", ErrConfiguration)
	// ErrUnsupportedExpression indicates an expression node the compilers cannot translate.
	ErrUnsupportedExpression = fmt.Errorf("%w: unsupported expression", ErrConfiguration)

	// Index annotation errors
	// ErrInvalidIndexAnnotation indicates an index annotation element that is not field[:order].
	ErrInvalidIndexAnnotation = fmt.Errorf("%w: invalid index annotation", ErrConfiguration)
	// ErrMalformedIndexOption indicates an index option document that cannot be applied.
	ErrMalformedIndexOption = fmt.Errorf("%w: malformed index option", ErrConfiguration)

	// Runtime errors
	// ErrConnectionUnavailable signals a connectivity fault; callers should back off and retry.
	ErrConnectionUnavailable = errors.New("connection unavailable")
	// ErrStoreOperation indicates the store rejected an operation; the held connection has been released.
	ErrStoreOperation = errors.New("store operation failed")
	// ErrMissingParameter indicates a runtime parameter map lacks a value a placeholder needs.
	ErrMissingParameter = errors.New("runtime parameter not provided")
	// ErrInvalidParameter indicates a runtime value that cannot be rendered as its attribute type.
	ErrInvalidParameter = errors.New("runtime parameter has an incompatible value")
	// ErrUnresolvedPlaceholder indicates a placeholder token survived substitution.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder in compiled template")
	// ErrTableClosed indicates an operation on a table that was closed for good.
	ErrTableClosed = errors.New("table is closed")
)

// IsConfigurationError reports whether err belongs to the configuration error class.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsRetryable reports whether err is a connectivity fault the host should back off and retry on.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionUnavailable)
}
