// Package errors provides structured error handling for indexsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (journal, queue, local files)
//   - 3XX: Connectivity errors (index store, source)
//   - 4XX: Programmer and validation errors
//   - 5XX: Import and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates journal, queue and disk errors.
	CategoryStorage Category = "STORAGE"
	// CategoryNetwork indicates the index store or the source could not be reached.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates misuse of the engine API or invalid input.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates import failures and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeLockHeld       = "ERR_206_LOCK_HELD"
	ErrCodeJournalStorage = "ERR_207_JOURNAL_STORAGE"
	ErrCodeQueueStorage   = "ERR_208_QUEUE_STORAGE"

	// Connectivity errors (300-399)
	ErrCodeNetworkTimeout    = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeStoreUnavailable  = "ERR_304_INDEX_STORE_UNAVAILABLE"
	ErrCodeSourceUnavailable = "ERR_305_SOURCE_UNAVAILABLE"

	// Programmer and validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeUndefinedStrategy = "ERR_407_UNDEFINED_UPDATE_STRATEGY"
	ErrCodeStackUnderflow    = "ERR_408_STRATEGY_STACK_UNDERFLOW"
	ErrCodeUnknownIndex      = "ERR_409_UNKNOWN_INDEX"
	ErrCodeUnknownStrategy   = "ERR_410_UNKNOWN_STRATEGY"

	// Import and internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeImportFailed = "ERR_506_IMPORT_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeUndefinedStrategy, ErrCodeStackUnderflow:
		// Programmer errors: never retried, abort the caller.
		return SeverityFatal
	case ErrCodeJournalStorage:
		// The index write already happened; journaling is best-effort.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeStoreUnavailable, ErrCodeSourceUnavailable:
		return true
	default:
		return false
	}
}
