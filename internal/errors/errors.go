package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCategory represents different categories of errors for better handling
type ErrorCategory string

const (
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryFilesystem    ErrorCategory = "filesystem"
	ErrorCategoryInvariant     ErrorCategory = "invariant"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryLayer         ErrorCategory = "layer"
	ErrorCategoryManifest      ErrorCategory = "manifest"
	ErrorCategoryResolver      ErrorCategory = "resolver"
	ErrorCategoryRegistry      ErrorCategory = "registry"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// BuildError is a categorized error raised while producing an image.
type BuildError struct {
	Category   ErrorCategory `json:"category"`
	Severity   ErrorSeverity `json:"severity"`
	Message    string        `json:"message"`
	Cause      error         `json:"-"`
	Operation  string        `json:"operation,omitempty"`
	Path       string        `json:"path,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] ", e.Category, e.Severity)
	if e.Operation != "" {
		b.WriteString(e.Operation)
		if e.Path != "" {
			fmt.Fprintf(&b, " %s", e.Path)
		}
		b.WriteString(": ")
	} else if e.Path != "" {
		fmt.Fprintf(&b, "%s: ", e.Path)
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// IsCritical returns true if the error must stop the build
func (e *BuildError) IsCritical() bool {
	return e.Severity == ErrorSeverityCritical
}

// GetUserFriendlyMessage returns a user-friendly error message with suggestions
func (e *BuildError) GetUserFriendlyMessage() string {
	msg := e.Error()
	if e.Suggestion != "" {
		msg += "\n\nSuggestion: " + e.Suggestion
	}
	return msg
}

// ErrorBuilder helps construct BuildError instances with proper categorization
type ErrorBuilder struct {
	category   ErrorCategory
	severity   ErrorSeverity
	message    string
	cause      error
	operation  string
	path       string
	suggestion string
}

// NewErrorBuilder creates a new error builder
func NewErrorBuilder() *ErrorBuilder {
	return &ErrorBuilder{}
}

// Category sets the error category
func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.category = category
	return b
}

// Severity sets the error severity
func (b *ErrorBuilder) Severity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// Message sets the error message
func (b *ErrorBuilder) Message(message string) *ErrorBuilder {
	b.message = message
	return b
}

// Messagef sets the error message with formatting
func (b *ErrorBuilder) Messagef(format string, args ...interface{}) *ErrorBuilder {
	b.message = fmt.Sprintf(format, args...)
	return b
}

// Cause sets the underlying error
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// Operation sets the operation context
func (b *ErrorBuilder) Operation(operation string) *ErrorBuilder {
	b.operation = operation
	return b
}

// Path sets the filesystem path the error relates to
func (b *ErrorBuilder) Path(path string) *ErrorBuilder {
	b.path = path
	return b
}

// Suggestion sets a user-friendly suggestion
func (b *ErrorBuilder) Suggestion(suggestion string) *ErrorBuilder {
	b.suggestion = suggestion
	return b
}

// Build creates the BuildError instance
func (b *ErrorBuilder) Build() *BuildError {
	if b.category == "" {
		b.category = ErrorCategoryUnknown
	}
	if b.severity == "" {
		b.severity = determineSeverity(b.category)
	}

	return &BuildError{
		Category:   b.category,
		Severity:   b.severity,
		Message:    b.message,
		Cause:      b.cause,
		Operation:  b.operation,
		Path:       b.path,
		Suggestion: b.suggestion,
	}
}

func determineSeverity(category ErrorCategory) ErrorSeverity {
	switch category {
	case ErrorCategoryInvariant:
		return ErrorSeverityCritical
	case ErrorCategoryConfiguration, ErrorCategoryValidation:
		return ErrorSeverityHigh
	case ErrorCategoryUnknown:
		return ErrorSeverityLow
	default:
		return ErrorSeverityMedium
	}
}

// NewConfigurationError reports unusable configuration, such as an
// incompatible image layout version or malformed JSON.
func NewConfigurationError(operation, message string, cause error) *BuildError {
	return NewErrorBuilder().
		Category(ErrorCategoryConfiguration).
		Operation(operation).
		Message(message).
		Cause(cause).
		Build()
}

// NewFilesystemError wraps an I/O failure with the path it happened on
func NewFilesystemError(operation, path string, cause error) *BuildError {
	return NewErrorBuilder().
		Category(ErrorCategoryFilesystem).
		Operation(operation).
		Path(path).
		Message("I/O error").
		Cause(cause).
		Suggestion("Check file paths and permissions").
		Build()
}

// NewInvariantError reports a disagreement between collaborating components
// that makes the output untrustworthy.
func NewInvariantError(operation, message string) *BuildError {
	return NewErrorBuilder().
		Category(ErrorCategoryInvariant).
		Operation(operation).
		Message(message).
		Build()
}

// NewValidationError creates a validation-related error
func NewValidationError(operation, message string, cause error) *BuildError {
	return NewErrorBuilder().
		Category(ErrorCategoryValidation).
		Operation(operation).
		Message(message).
		Cause(cause).
		Suggestion("Check input syntax and format").
		Build()
}

// NewResolverError creates an error raised by a package resolver
func NewResolverError(operation, message string, cause error) *BuildError {
	return NewErrorBuilder().
		Category(ErrorCategoryResolver).
		Operation(operation).
		Message(message).
		Cause(cause).
		Build()
}

// NewRegistryError creates a registry-related error
func NewRegistryError(operation, message string, cause error) *BuildError {
	return NewErrorBuilder().
		Category(ErrorCategoryRegistry).
		Operation(operation).
		Message(message).
		Cause(cause).
		Suggestion("Check registry connectivity and credentials").
		Build()
}

// WrapError wraps an existing error with BuildError categorization
func WrapError(err error, category ErrorCategory, operation string) *BuildError {
	if err == nil {
		return nil
	}

	var buildErr *BuildError
	if stderrors.As(err, &buildErr) {
		return buildErr
	}

	return NewErrorBuilder().
		Category(category).
		Message("failed").
		Cause(err).
		Operation(operation).
		Build()
}

// IsCategory reports whether err or any error it wraps is a BuildError of the
// given category.
func IsCategory(err error, category ErrorCategory) bool {
	var buildErr *BuildError
	for err != nil {
		if !stderrors.As(err, &buildErr) {
			return false
		}
		if buildErr.Category == category {
			return true
		}
		err = buildErr.Cause
	}
	return false
}
