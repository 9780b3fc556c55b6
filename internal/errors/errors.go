package errors

import (
	stderrors "errors"
	"fmt"
)

// RAGError is the structured error type for the retrieval engine.
// It carries enough context for logging, retry decisions and CLI presentation.
type RAGError struct {
	// Code is the unique error code (e.g., "ERR_301_BACKEND_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Backend, etc.).
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
func (e *RAGError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// Is matches another RAGError by code, so errors.Is(err, &RAGError{Code: ...})
// works through wrapping.
func (e *RAGError) Is(target error) bool {
	if t, ok := target.(*RAGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RAGError) WithDetail(key, value string) *RAGError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RAGError) WithSuggestion(suggestion string) *RAGError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RAGError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RAGError {
	return &RAGError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RAGError from an existing error.
// The error's message becomes the RAGError message.
func Wrap(code string, err error) *RAGError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Kind returns a code-only sentinel usable as errors.Is target.
func Kind(code string) error {
	return &RAGError{Code: code}
}

// Sentinels for the error taxonomy.
var (
	ErrInvalidChunkingConfig      = Kind(ErrCodeInvalidChunkingConfig)
	ErrInvalidRRFConstant         = Kind(ErrCodeInvalidRRFConstant)
	ErrStoreIO                    = Kind(ErrCodeStoreIO)
	ErrBackendUnavailable         = Kind(ErrCodeBackendUnavailable)
	ErrIndexingTimeout            = Kind(ErrCodeIndexingTimeout)
	ErrEmbeddingDimensionMismatch = Kind(ErrCodeDimensionMismatch)
)

// StoreIOError creates an index store error.
func StoreIOError(message string, cause error) *RAGError {
	return New(ErrCodeStoreIO, message, cause)
}

// BackendUnavailable creates an embedding backend connectivity error.
func BackendUnavailable(message string, cause error) *RAGError {
	return New(ErrCodeBackendUnavailable, message, cause).
		WithSuggestion("Check that the embedding backend is running and reachable")
}

// IndexingTimeout creates a timeout error for embedding generation.
func IndexingTimeout(message string, cause error) *RAGError {
	return New(ErrCodeIndexingTimeout, message, cause).
		WithSuggestion("Increase index.embed_timeout or retry the document")
}

// DimensionMismatch creates an embedding dimension mismatch error.
func DimensionMismatch(expected, got int) *RAGError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got))
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RAGError {
	return New(ErrCodeInvalidInput, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RAGError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RAGError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first RAGError in err's chain.
func As(err error) (*RAGError, bool) {
	var re *RAGError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if re, ok := As(err); ok {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if re, ok := As(err); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a RAGError.
// Returns empty string if err carries no RAGError.
func GetCode(err error) string {
	if re, ok := As(err); ok {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a RAGError.
func GetCategory(err error) Category {
	if re, ok := As(err); ok {
		return re.Category
	}
	return ""
}

// IsKind reports whether any error in err's chain carries code.
func IsKind(err error, code string) bool {
	return stderrors.Is(err, Kind(code))
}
