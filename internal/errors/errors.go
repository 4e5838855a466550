// Package errors provides structured error types for shelfard.
// All errors include a category, code, message, and retryable flag so the
// CLI and the HTTP API can map failures to exit codes and status codes
// without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryFetch      ErrorCategory = "FETCH"
	ErrCategoryParse      ErrorCategory = "PARSE"
	ErrCategoryRegistry   ErrorCategory = "REGISTRY"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryTransport  ErrorCategory = "TRANSPORT"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Fetch codes
	CodeFetchFailed      = "FETCH_FAILED"
	CodeFetchTimeout     = "FETCH_TIMEOUT"
	CodeNonSuccessStatus = "NON_SUCCESS_STATUS"

	// Parse codes
	CodeParseError = "PARSE_ERROR"

	// Registry codes
	CodeNotFound      = "NOT_FOUND"
	CodeWriteFailed   = "WRITE_FAILED"
	CodeLockTimeout   = "LOCK_TIMEOUT"
	CodeCorruptRecord = "CORRUPT_RECORD"
	CodeReadFailed    = "READ_FAILED"

	// Storage codes
	CodeUploadFailed       = "UPLOAD_FAILED"
	CodeDownloadFailed     = "DOWNLOAD_FAILED"
	CodeObjectNotFound     = "OBJECT_NOT_FOUND"
	CodePreconditionFailed = "PRECONDITION_FAILED"

	// Transport codes
	CodeInvalidHeader = "INVALID_HEADER"

	// Validation codes
	CodeInvalidName   = "INVALID_NAME"
	CodeInvalidSchema = "INVALID_SCHEMA"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout shelfard.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var se *Error
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain.
func GetDetails(err error) map[string]interface{} {
	var se *Error
	if errors.As(err, &se) {
		return se.Details
	}
	return nil
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryFetch && code == CodeFetchTimeout:
		return true
	case category == ErrCategoryRegistry && code == CodeLockTimeout:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether err is a registry lookup miss.
func IsNotFound(err error) bool {
	return GetCategory(err) == ErrCategoryRegistry && GetCode(err) == CodeNotFound
}

// IsFetch reports whether err came from fetching a source.
func IsFetch(err error) bool {
	return GetCategory(err) == ErrCategoryFetch
}

// IsParse reports whether err is a payload decoding failure.
func IsParse(err error) bool {
	return GetCategory(err) == ErrCategoryParse
}

// IsRegistryWrite reports whether err is a failed registration.
func IsRegistryWrite(err error) bool {
	if GetCategory(err) != ErrCategoryRegistry {
		return false
	}
	code := GetCode(err)
	return code == CodeWriteFailed || code == CodeLockTimeout
}

// IsInvalidInput reports whether err was caused by caller input rather than
// by a failing dependency.
func IsInvalidInput(err error) bool {
	switch GetCategory(err) {
	case ErrCategoryValidation, ErrCategoryParse, ErrCategoryTransport:
		return true
	}
	return false
}

// Convenience constructors for common errors.

func NewFetchError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryFetch, code, message, cause)
}

func NewParseError(message string, cause error) *Error {
	return Wrap(ErrCategoryParse, CodeParseError, message, cause)
}

func NewNotFoundError(name string) *Error {
	return New(ErrCategoryRegistry, CodeNotFound, fmt.Sprintf("no snapshot registered for %q", name)).
		WithDetails(map[string]interface{}{"name": name})
}

func NewRegistryError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryRegistry, code, message, cause)
}

func NewStorageError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInvalidHeaderError(header string) *Error {
	return New(ErrCategoryTransport, CodeInvalidHeader, fmt.Sprintf("malformed header %q (expected KEY=VALUE)", header))
}

func NewValidationError(code, message string) *Error {
	return New(ErrCategoryValidation, code, message)
}

func NewConfigError(message string, cause error) *Error {
	return Wrap(ErrCategoryConfig, CodeInvalidConfig, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
