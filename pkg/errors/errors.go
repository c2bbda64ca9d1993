// Package errors provides a structured error system for tiercache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig      ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation   ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave         ErrorCode = "CONFIG_SAVE"
	ErrCodeUnknownPreset      ErrorCode = "CONFIG_UNKNOWN_PRESET"
	ErrCodeUnsupportedBackend ErrorCode = "CONFIG_UNSUPPORTED_BACKEND"

	// Fetch errors
	ErrCodeFetchFailed   ErrorCode = "FETCH_FAILED"
	ErrCodeFetchCanceled ErrorCode = "FETCH_CANCELED"

	// Persistence errors
	ErrCodeRecordNotFound    ErrorCode = "RECORD_NOT_FOUND"
	ErrCodeSerialization     ErrorCode = "SERIALIZATION_FAILED"
	ErrCodePersistenceWrite  ErrorCode = "PERSISTENCE_WRITE"
	ErrCodePersistenceRead   ErrorCode = "PERSISTENCE_READ"
	ErrCodePersistenceDelete ErrorCode = "PERSISTENCE_DELETE"
	ErrCodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeChecksumMismatch  ErrorCode = "CHECKSUM_MISMATCH"

	// Medium connectivity errors
	ErrCodeMediumUnavailable  ErrorCode = "MEDIUM_UNAVAILABLE"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout  ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeAccessDenied       ErrorCode = "ACCESS_DENIED"
	ErrCodeCredentialsMissing ErrorCode = "CREDENTIALS_MISSING"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// State and invariant errors
	ErrCodeCapacityViolation ErrorCode = "CAPACITY_VIOLATION"
	ErrCodeComponentStopped  ErrorCode = "COMPONENT_STOPPED"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeInvalidPattern    ErrorCode = "INVALID_PATTERN"

	// Internal errors
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered   ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFetch         ErrorCategory = "fetch"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryConnection    ErrorCategory = "connection"
	CategoryState         ErrorCategory = "state"
	CategoryInvariant     ErrorCategory = "invariant"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Key       string `json:"key,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(":")
			b.WriteString(e.Operation)
		}
		b.WriteString("] ")
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CacheError carrying the same code.
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Namespace != "" {
		parts = append(parts, fmt.Sprintf("Namespace=%s", e.Namespace))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("Key=%q", e.Key))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new cache error with default values.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrRecordNotFound    = &CacheError{Code: ErrCodeRecordNotFound, Category: CategoryPersistence, Message: "record not found"}
	ErrFetch             = &CacheError{Code: ErrCodeFetchFailed, Category: CategoryFetch, Message: "fetch failed"}
	ErrSerialization     = &CacheError{Code: ErrCodeSerialization, Category: CategoryPersistence, Message: "serialization failed"}
	ErrPersistenceWrite  = &CacheError{Code: ErrCodePersistenceWrite, Category: CategoryPersistence, Message: "persistence write failed"}
	ErrQuotaExceeded     = &CacheError{Code: ErrCodeQuotaExceeded, Category: CategoryPersistence, Message: "quota exceeded"}
	ErrCapacityViolation = &CacheError{Code: ErrCodeCapacityViolation, Category: CategoryInvariant, Message: "capacity invariant violated"}
	ErrComponentStopped  = &CacheError{Code: ErrCodeComponentStopped, Category: CategoryState, Message: "component stopped"}
	ErrMediumUnavailable = &CacheError{Code: ErrCodeMediumUnavailable, Category: CategoryConnection, Message: "durable medium unavailable"}
)

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_") ||
		strings.HasPrefix(codeStr, "INVALID_PATTERN"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "FETCH_"):
		return CategoryFetch
	case strings.HasPrefix(codeStr, "RECORD_") || strings.HasPrefix(codeStr, "SERIALIZATION_") ||
		strings.HasPrefix(codeStr, "PERSISTENCE_") || strings.HasPrefix(codeStr, "QUOTA_") ||
		strings.HasPrefix(codeStr, "CHECKSUM_"):
		return CategoryPersistence
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "MEDIUM_") ||
		strings.HasPrefix(codeStr, "ACCESS_") || strings.HasPrefix(codeStr, "CREDENTIALS_") ||
		strings.HasPrefix(codeStr, "SERVICE_"):
		return CategoryConnection
	case strings.HasPrefix(codeStr, "COMPONENT_") || strings.HasPrefix(codeStr, "INVALID_STATE"):
		return CategoryState
	case strings.HasPrefix(codeStr, "CAPACITY_"):
		return CategoryInvariant
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodePersistenceWrite:   true,
		ErrCodeQuotaExceeded:      true,
		ErrCodeConnectionTimeout:  true,
		ErrCodeConnectionFailed:   true,
		ErrCodeOperationTimeout:   true,
		ErrCodeServiceUnavailable: true,
		ErrCodeMediumUnavailable:  true,
	}
	return retryableCodes[code]
}

// IsCode reports whether any error in err's chain is a CacheError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var cacheErr *CacheError
	for err != nil {
		if stderrors.As(err, &cacheErr) {
			if cacheErr.Code == code {
				return true
			}
			err = cacheErr.Cause
			continue
		}
		return false
	}
	return false
}

// WithContext adds contextual information to an error
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithKey records the namespace and key the error relates to.
func (e *CacheError) WithKey(namespace, key string) *CacheError {
	e.Namespace = namespace
	e.Key = key
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryability of the code.
func (e *CacheError) WithRetryable(retryable bool) *CacheError {
	e.Retryable = retryable
	return e
}
