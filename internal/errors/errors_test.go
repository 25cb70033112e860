package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestBuildError_Error(t *testing.T) {
	tests := []struct {
		name     string
		error    *BuildError
		expected string
	}{
		{
			name: "operation and path",
			error: &BuildError{
				Category:  ErrorCategoryFilesystem,
				Severity:  ErrorSeverityMedium,
				Operation: "write_blob",
				Path:      "/tmp/blob",
				Message:   "I/O error",
				Cause:     fs.ErrPermission,
			},
			expected: "[filesystem:medium] write_blob /tmp/blob: I/O error: permission denied",
		},
		{
			name: "operation only",
			error: &BuildError{
				Category:  ErrorCategoryInvariant,
				Severity:  ErrorSeverityCritical,
				Operation: "assign_paths",
				Message:   "package foo has no files",
			},
			expected: "[invariant:critical] assign_paths: package foo has no files",
		},
		{
			name: "path only",
			error: &BuildError{
				Category: ErrorCategoryFilesystem,
				Severity: ErrorSeverityMedium,
				Path:     "/root",
				Message:  "missing",
			},
			expected: "[filesystem:medium] /root: missing",
		},
		{
			name: "minimal error",
			error: &BuildError{
				Category: ErrorCategoryUnknown,
				Severity: ErrorSeverityLow,
				Message:  "unknown error",
			},
			expected: "[unknown:low] unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.error.Error(); got != tt.expected {
				t.Errorf("BuildError.Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestErrorBuilder_DefaultSeverity(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		severity ErrorSeverity
	}{
		{ErrorCategoryInvariant, ErrorSeverityCritical},
		{ErrorCategoryConfiguration, ErrorSeverityHigh},
		{ErrorCategoryValidation, ErrorSeverityHigh},
		{ErrorCategoryFilesystem, ErrorSeverityMedium},
		{ErrorCategoryRegistry, ErrorSeverityMedium},
		{ErrorCategoryUnknown, ErrorSeverityLow},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := NewErrorBuilder().Category(tt.category).Message("x").Build()
			if err.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", err.Severity, tt.severity)
			}
		})
	}

	if got := NewErrorBuilder().Message("x").Build().Category; got != ErrorCategoryUnknown {
		t.Errorf("default category = %s, want unknown", got)
	}
}

func TestBuildError_Unwrap(t *testing.T) {
	err := NewFilesystemError("read_dir", "/nope", fs.ErrNotExist)
	if !stderrors.Is(err, fs.ErrNotExist) {
		t.Fatal("expected errors.Is to find fs.ErrNotExist")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var buildErr *BuildError
	if !stderrors.As(wrapped, &buildErr) {
		t.Fatal("expected errors.As to find BuildError")
	}
	if buildErr.Path != "/nope" {
		t.Errorf("path = %q, want /nope", buildErr.Path)
	}
}

func TestIsCategory(t *testing.T) {
	inner := NewConfigurationError("ensure_layout", "Unsupported image layout version 2.0.0", nil)
	outer := NewErrorBuilder().Category(ErrorCategoryLayer).Message("push").Cause(inner).Build()

	if !IsCategory(outer, ErrorCategoryLayer) {
		t.Error("outer category not found")
	}
	if !IsCategory(outer, ErrorCategoryConfiguration) {
		t.Error("nested configuration category not found")
	}
	if IsCategory(outer, ErrorCategoryRegistry) {
		t.Error("unexpected registry category")
	}
	if IsCategory(stderrors.New("plain"), ErrorCategoryUnknown) {
		t.Error("plain errors have no category")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, ErrorCategoryLayer, "op") != nil {
		t.Fatal("WrapError(nil) should be nil")
	}

	existing := NewInvariantError("assign", "desync")
	if got := WrapError(fmt.Errorf("ctx: %w", existing), ErrorCategoryLayer, "op"); got != existing {
		t.Error("WrapError should return an existing BuildError as-is")
	}

	got := WrapError(stderrors.New("boom"), ErrorCategoryResolver, "resolve")
	if got.Category != ErrorCategoryResolver {
		t.Errorf("category = %s, want resolver", got.Category)
	}
	if !strings.Contains(got.Error(), "boom") {
		t.Errorf("message %q does not mention cause", got.Error())
	}
}

func TestGetUserFriendlyMessage(t *testing.T) {
	err := NewRegistryError("push", "upload failed", nil)
	msg := err.GetUserFriendlyMessage()
	if !strings.Contains(msg, "Suggestion: Check registry connectivity") {
		t.Errorf("missing suggestion in %q", msg)
	}
	if err.IsCritical() {
		t.Error("registry errors are not critical")
	}
}
