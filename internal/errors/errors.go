package errors

import (
	"errors"
	"fmt"
)

// SyncError is the structured error type for indexsync.
// It provides rich context for error handling, logging, and user presentation.
type SyncError struct {
	// Code is the unique error code (e.g., "ERR_407_UNDEFINED_UPDATE_STRATEGY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is matches another SyncError by code, so sentinels built with New work with errors.Is.
func (e *SyncError) Is(target error) bool {
	if t, ok := target.(*SyncError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *SyncError) WithDetail(key, value string) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *SyncError) WithSuggestion(suggestion string) *SyncError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SyncError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SyncError {
	return &SyncError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SyncError from an existing error.
// The error's message becomes the SyncError message.
func Wrap(code string, err error) *SyncError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *SyncError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreUnavailable marks a connectivity failure of the index store.
func StoreUnavailable(message string, cause error) *SyncError {
	return New(ErrCodeStoreUnavailable, message, cause)
}

// SourceUnavailable marks a connectivity failure of the record source.
func SourceUnavailable(message string, cause error) *SyncError {
	return New(ErrCodeSourceUnavailable, message, cause)
}

// JournalError marks a journal storage failure.
func JournalError(message string, cause error) *SyncError {
	return New(ErrCodeJournalStorage, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *SyncError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SyncError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether any SyncError in err's chain is retryable.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether err carries fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first SyncError in err's chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from the first SyncError in err's chain.
func GetCategory(err error) Category {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}
