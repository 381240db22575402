// Package errors provides a structured error system for Ballhead with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for Ballhead operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Origin Errors (spreadsheet backend)
	ErrCodeOriginAuth    ErrorCode = "ORIGIN_AUTH"
	ErrCodeOriginFetch   ErrorCode = "ORIGIN_FETCH"
	ErrCodeInvalidRange  ErrorCode = "ORIGIN_INVALID_RANGE"
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// State Management Errors
	ErrCodeAlreadyStarted     ErrorCode = "ALREADY_STARTED"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Operation Errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Authorization Errors
	ErrCodePermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrCodeCredentialsMissing ErrorCode = "CREDENTIALS_MISSING"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryOrigin        ErrorCategory = "origin"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

// BallheadError represents a structured error with context and metadata.
type BallheadError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`
}

// Error implements the error interface.
func (e *BallheadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *BallheadError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *BallheadError) Is(target error) bool {
	if other, ok := target.(*BallheadError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *BallheadError) String() string {
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

	return fmt.Sprintf("BallheadError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new Ballhead error with default values.
func NewError(code ErrorCode, message string) *BallheadError {
	return &BallheadError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Wrap creates a new error with the given code that wraps cause.
func Wrap(cause error, code ErrorCode, message string) *BallheadError {
	e := NewError(code, message)
	e.Cause = cause
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "ORIGIN_") || strings.HasPrefix(codeStr, "QUOTA_"):
		return CategoryOrigin
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "SERVICE_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	case strings.HasPrefix(codeStr, "PERMISSION_") || strings.HasPrefix(codeStr, "CREDENTIALS_"):
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeQuotaExceeded:    true,
		ErrCodeOperationTimeout: true,
		ErrCodeInternalError:    true,
	}
	return retryableCodes[code]
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeOriginFetch:        true,
		ErrCodeQuotaExceeded:      true,
		ErrCodeServiceUnavailable: true,
		ErrCodeOperationTimeout:   true,
		ErrCodePermissionDenied:   true,
		ErrCodeValidationFailed:   true,
	}
	return userFacingCodes[code]
}

// WithContext adds contextual information to an error
func (e *BallheadError) WithContext(key, value string) *BallheadError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *BallheadError) WithDetail(key string, value interface{}) *BallheadError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *BallheadError) WithComponent(component string) *BallheadError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *BallheadError) WithOperation(operation string) *BallheadError {
	e.Operation = operation
	return e
}

// WithRetryable overrides the default retryable flag
func (e *BallheadError) WithRetryable(retryable bool) *BallheadError {
	e.Retryable = retryable
	return e
}

// HasCode reports whether err (or anything it wraps) is a BallheadError with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if be, ok := err.(*BallheadError); ok && be.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// UserFacingMessage returns the text shown to whoever invoked a command
func (e *BallheadError) UserFacingMessage() string {
	if !e.UserFacing {
		return "Something went wrong. Please try again later."
	}

	messages := map[ErrorCode]string{
		ErrCodeOriginFetch:        "Couldn't load data from the spreadsheet. Please try again later.",
		ErrCodeQuotaExceeded:      "The spreadsheet is busy right now. Please try again in a minute.",
		ErrCodeServiceUnavailable: "The spreadsheet is temporarily unavailable. Please try again later.",
		ErrCodeOperationTimeout:   "That took too long. Please try again.",
		ErrCodePermissionDenied:   "You don't have permission to use this command.",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}
	return e.Message
}
