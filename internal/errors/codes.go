// Package errors provides the structured error type shared by the retrieval engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (caller mistakes, never retried)
//   - 2XX: Store I/O errors
//   - 3XX: Embedding backend errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates index store I/O errors.
	CategoryIO Category = "IO"
	// CategoryBackend indicates embedding backend errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
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
	ErrCodeInvalidChunkingConfig = "ERR_101_INVALID_CHUNKING_CONFIG"
	ErrCodeInvalidRRFConstant    = "ERR_102_INVALID_RRF_CONSTANT"
	ErrCodeConfigInvalid         = "ERR_103_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreIO      = "ERR_201_STORE_IO"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeStoreLocked  = "ERR_203_STORE_LOCKED"

	// Backend errors (300-399)
	ErrCodeBackendUnavailable = "ERR_301_BACKEND_UNAVAILABLE"
	ErrCodeIndexingTimeout    = "ERR_302_INDEXING_TIMEOUT"
	ErrCodeBackendResponse    = "ERR_303_BACKEND_RESPONSE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeDimensionMismatch:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether re-invoking the failed operation may succeed.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreIO, ErrCodeStoreLocked, ErrCodeBackendUnavailable, ErrCodeIndexingTimeout:
		return true
	default:
		return false
	}
}
