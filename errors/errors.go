package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// AppError is the unified governance error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Kind classifies the underlying failure when one is known.
	Kind Kind `json:"kind,omitempty"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Common Error Constructors ---

// Timeout creates a new AppError for an operation that exceeded its deadline,
// whether waiting for admission or waiting for completion.
func Timeout(operation string, elapsed time.Duration) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Kind: KindTimeout,
		Message:   fmt.Sprintf("operation %q timed out after %s", operation, elapsed),
		Retryable: true,
		Details:   map[string]any{"operation": operation, "elapsed_ms": elapsed.Milliseconds()},
	}
}

// BreakerOpen creates a new AppError for a request rejected by an open circuit.
func BreakerOpen(category string, retryAfter time.Duration) *AppError {
	return &AppError{
		Code:      ErrCodeBreakerOpen,
		Message:   fmt.Sprintf("circuit open for %q, retry after %s", category, retryAfter),
		Retryable: true,
		Details:   map[string]any{"category": category, "retry_after_ms": retryAfter.Milliseconds()},
	}
}

// OperationFailed creates a new AppError for an operation that failed after
// the given number of attempts. Retryability follows the failure kind.
func OperationFailed(kind Kind, attempts int, cause error) *AppError {
	message := "operation failed"
	if cause != nil {
		message = cause.Error()
	}
	return &AppError{
		Code: ErrCodeOperationFailed, Kind: kind,
		Message:   message,
		Retryable: kind.Retryable(),
		Details:   map[string]any{"attempts": attempts},
		Cause:     cause,
	}
}

// Configuration creates a new AppError for an invalid or unknown configuration.
func Configuration(message string) *AppError {
	return &AppError{
		Code: ErrCodeConfiguration, Message: message, Retryable: false,
	}
}

// Wrap converts any error into an AppError. Existing AppErrors pass through
// unchanged; everything else becomes OPERATION_FAILED with a classified kind.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	kind := Classify(err)
	return &AppError{
		Code: ErrCodeOperationFailed, Kind: kind,
		Message:   err.Error(),
		Retryable: kind.Retryable(),
		Cause:     err,
	}
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
