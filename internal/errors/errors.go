package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeInvalidCredentials indicates login/signup was rejected by the
	// identity provider. The provider-supplied message is surfaced verbatim.
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	// ErrCodeEmailNotConfirmed is the distinguished login-failure sub-case
	// routing the user to the confirmation-resend flow.
	ErrCodeEmailNotConfirmed ErrorCode = "email_not_confirmed"
	// ErrCodeNotAuthenticated indicates a profile/onboarding operation was
	// attempted with no active session. Caller bug, not user-facing.
	ErrCodeNotAuthenticated ErrorCode = "not_authenticated"
	// ErrCodeBackendSync indicates a profile read/write against the
	// application backend failed.
	ErrCodeBackendSync ErrorCode = "backend_sync"
	// ErrCodeStorage indicates a credential store read/write failed.
	// Always non-fatal; the in-memory session stays authoritative.
	ErrCodeStorage ErrorCode = "storage"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message,
// and optional cause. It supports error wrapping and unwrapping for use
// with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// InvalidCredentials creates a new InvalidCredentials error carrying the
// provider-supplied message.
func InvalidCredentials(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidCredentials, Message: message}
}

// EmailNotConfirmed creates a new EmailNotConfirmed error.
func EmailNotConfirmed(message string) *AppError {
	return &AppError{Code: ErrCodeEmailNotConfirmed, Message: message}
}

// NotAuthenticated creates a new NotAuthenticated error.
func NotAuthenticated(message string) *AppError {
	return &AppError{Code: ErrCodeNotAuthenticated, Message: message}
}

// BackendSync creates a new BackendSync error.
func BackendSync(message string) *AppError {
	return &AppError{Code: ErrCodeBackendSync, Message: message}
}

// BackendSyncf creates a new BackendSync error with formatted message.
func BackendSyncf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeBackendSync, Message: fmt.Sprintf(format, args...)}
}

// Storage creates a new Storage error.
func Storage(message string) *AppError {
	return &AppError{Code: ErrCodeStorage, Message: message}
}

// Storagef creates a new Storage error with formatted message.
func Storagef(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeStorage, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsInvalidCredentials checks if an error is an InvalidCredentials error.
func IsInvalidCredentials(err error) bool {
	return isCode(err, ErrCodeInvalidCredentials)
}

// IsEmailNotConfirmed checks if an error is an EmailNotConfirmed error.
func IsEmailNotConfirmed(err error) bool {
	return isCode(err, ErrCodeEmailNotConfirmed)
}

// IsNotAuthenticated checks if an error is a NotAuthenticated error.
func IsNotAuthenticated(err error) bool {
	return isCode(err, ErrCodeNotAuthenticated)
}

// IsBackendSync checks if an error is a BackendSync error.
func IsBackendSync(err error) bool {
	return isCode(err, ErrCodeBackendSync)
}

// IsStorage checks if an error is a Storage error.
func IsStorage(err error) bool {
	return isCode(err, ErrCodeStorage)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
