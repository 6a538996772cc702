package core

import (
	"errors"
	"fmt"
)

// ToggleError represents a structured error with category and details
type ToggleError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: privilege_absent, invalid_interval, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ToggleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ToggleError) Unwrap() error {
	return e.Cause
}

// Is matches predefined errors by code, so copies made with WithCause or
// WithMessage still satisfy errors.Is(err, ErrPrivilegeAbsent).
func (e *ToggleError) Is(target error) bool {
	t, ok := target.(*ToggleError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Category == t.Category
}

// WithCause returns a copy of the error with the given cause
func (e *ToggleError) WithCause(cause error) *ToggleError {
	return &ToggleError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ToggleError) WithMessage(msg string) *ToggleError {
	return &ToggleError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ToggleError) WithDetails(details map[string]interface{}) *ToggleError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ToggleError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Privilege errors
	ErrPrivilegeAbsent = &ToggleError{
		Category: ErrCategoryPrivilege,
		Code:     "privilege_absent",
		Message:  "no privilege path available for the selected control mode",
	}

	// Config errors
	ErrInvalidInterval = &ToggleError{
		Category: ErrCategoryConfig,
		Code:     "invalid_interval",
		Message:  "interval must be between 1 and 60 minutes",
	}
	ErrInvalidMode = &ToggleError{
		Category: ErrCategoryConfig,
		Code:     "invalid_mode",
		Message:  "invalid control mode",
	}
	ErrInvalidConfig = &ToggleError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}

	// Connection errors
	ErrDeviceDisconnected = &ToggleError{
		Category: ErrCategoryConnection,
		Code:     "device_disconnected",
		Message:  "device connection lost",
	}
	ErrDeviceUnavailable = &ToggleError{
		Category: ErrCategoryConnection,
		Code:     "device_unavailable",
		Message:  "device transport failing, calls suspended",
	}

	// Write errors (logged, not surfaced as hard errors)
	ErrWriteFailed = &ToggleError{
		Category: ErrCategoryWrite,
		Code:     "write_failed",
		Message:  "airplane mode write failed",
	}
	ErrWriteMismatch = &ToggleError{
		Category: ErrCategoryWrite,
		Code:     "write_mismatch",
		Message:  "airplane mode read-back does not match requested value",
	}

	// State errors
	ErrNotRunning = &ToggleError{
		Category: ErrCategoryState,
		Code:     "not_running",
		Message:  "schedule is not running",
	}
)

// NewToggleError creates a new ToggleError with the given parameters
func NewToggleError(category ErrorCategory, code, message string) *ToggleError {
	return &ToggleError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// IsCategory reports whether err (or anything it wraps) is a ToggleError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var te *ToggleError
	if errors.As(err, &te) {
		return te.Category == category
	}
	return false
}
