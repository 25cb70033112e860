package manifest

import (
	"fmt"
)

// DefaultPath is the PATH given to images that do not set one
const DefaultPath = "/usr/local/bin:/usr/local/sbin:/usr/bin:/usr/sbin:/bin:/sbin"

// ErrorType represents the type of manifest error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeGeneration ErrorType = "generation"
	ErrorTypeInvariant  ErrorType = "invariant"
)

// ManifestError represents an error from manifest operations
type ManifestError struct {
	Type      ErrorType `json:"type"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
}

// Error implements the error interface
func (e *ManifestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("manifest error [%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("manifest error [%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying error
func (e *ManifestError) Unwrap() error {
	return e.Cause
}

// IsValidationError returns true if this is a validation error
func (e *ManifestError) IsValidationError() bool {
	return e.Type == ErrorTypeValidation
}
