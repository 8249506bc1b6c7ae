// Package errors provides the structured error type used by the results store,
// with error codes, categories and operational context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a failure class of a results store operation.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE"

	// Result and metadata persistence
	ErrCodeStorageWrite    ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageRead     ErrorCode = "STORAGE_READ"
	ErrCodeMetadataWrite   ErrorCode = "METADATA_WRITE"
	ErrCodeMetadataRead    ErrorCode = "METADATA_READ"
	ErrCodeInstanceFinal   ErrorCode = "STORAGE_FINALIZE"
	ErrCodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"
	ErrCodePathInvalid     ErrorCode = "PATH_INVALID"

	// Cache index and eviction
	ErrCodeIndexRead      ErrorCode = "INDEX_READ"
	ErrCodeIndexWrite     ErrorCode = "INDEX_WRITE"
	ErrCodeIndexLocked    ErrorCode = "INDEX_LOCKED"
	ErrCodeEvictionFailed ErrorCode = "EVICTION_FAILED"

	// Disk usage
	ErrCodeDiskUsage ErrorCode = "DISK_USAGE"

	// Lifecycle
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeReferenceMismatch ErrorCode = "REFERENCE_MISMATCH"
	ErrCodeComponentStopped  ErrorCode = "COMPONENT_STOPPED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryCache         ErrorCategory = "cache"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// StoreError is a structured error with context and metadata.
type StoreError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StoreError with the same code.
func (e *StoreError) Is(target error) bool {
	if other, ok := target.(*StoreError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *StoreError) String() string {
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

	return fmt.Sprintf("StoreError{%s}", strings.Join(parts, ", "))
}

// Fields flattens the error into logger fields.
func (e *StoreError) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"error_code":     string(e.Code),
		"error_category": string(e.Category),
	}
	if e.Operation != "" {
		fields["operation"] = e.Operation
	}
	for k, v := range e.Context {
		fields[k] = v
	}
	if e.Cause != nil {
		fields["cause"] = e.Cause.Error()
	}
	return fields
}

// NewError creates a new StoreError with default values.
func NewError(code ErrorCode, message string) *StoreError {
	return &StoreError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap is a shorthand for NewError(code, message).WithCause(cause).
func Wrap(cause error, code ErrorCode, message string) *StoreError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "METADATA_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "DIRECTORY_") || strings.HasPrefix(codeStr, "PATH_"):
		return CategoryFilesystem
	case strings.HasPrefix(codeStr, "INDEX_") || strings.HasPrefix(codeStr, "EVICTION_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "DISK_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "INVALID_STATE") || strings.HasPrefix(codeStr, "REFERENCE_") ||
		strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether an error code describes a transient failure.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeEvictionFailed, ErrCodeIndexWrite, ErrCodeDiskUsage:
		return true
	default:
		return false
	}
}

// WithContext adds contextual information to an error
func (e *StoreError) WithContext(key, value string) *StoreError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *StoreError) WithComponent(component string) *StoreError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *StoreError) WithOperation(operation string) *StoreError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *StoreError) WithCause(cause error) *StoreError {
	e.Cause = cause
	return e
}

// IsRetryable reports whether err is a StoreError flagged as retryable.
func IsRetryable(err error) bool {
	for err != nil {
		if se, ok := err.(*StoreError); ok {
			return se.Retryable
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
