package errors

import (
	"context"
	"errors"
	"fmt"
)

// AmanError is the structured error type used across the pipeline.
// It carries enough context for degradation decisions, logging and CLI output.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_304_PROVIDER_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
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
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches another AmanError by code, so errors.Is works with sentinels
// built by New.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IndexError creates an index error.
func IndexError(message string, cause error) *AmanError {
	return New(ErrCodeIndexQuery, message, cause)
}

// ProviderError classifies a failed provider call. Context deadline errors
// map to ErrCodeProviderTimeout so callers treat a timeout like any other
// provider failure.
func ProviderError(provider string, cause error) *AmanError {
	code := ErrCodeProviderFailed
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrCodeProviderTimeout
	}
	msg := provider + " provider failed"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return New(code, msg, cause).WithDetail("provider", provider)
}

// ContractError creates a fatal contract violation error.
func ContractError(message string) *AmanError {
	return New(ErrCodeInvalidResult, message, nil)
}

// ValidationError creates a validation error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether err (or anything it wraps) is a retryable AmanError.
func IsRetryable(err error) bool {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal reports whether err carries fatal severity.
func IsFatal(err error) bool {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not an AmanError.
func GetCode(err error) string {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err is not an AmanError.
func GetCategory(err error) Category {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
